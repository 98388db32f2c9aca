package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schaermu/flowsyncd/internal/baseline"
	"github.com/schaermu/flowsyncd/internal/config"
	"github.com/schaermu/flowsyncd/internal/hook"
	"github.com/schaermu/flowsyncd/internal/remote"
	"github.com/schaermu/flowsyncd/internal/sync"
	"github.com/schaermu/flowsyncd/internal/watcher"
	"github.com/schaermu/flowsyncd/internal/workflow"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	strategy  string
	dryRun    bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowsyncd",
	Short: "Synchronize workflows between a local directory and a workflow server",
	Long: `flowsyncd keeps named workflows consistent across a local working copy, a
remote workflow server and a locally persisted baseline recording the last
state both sides agreed on.

It can run as a oneshot sync, inspect drift without acting, or stay resident
and re-sync workflows as their local files change.`,
	SilenceUsage: true,
}

var syncCmd = &cobra.Command{
	Use:   "sync [workflow...]",
	Short: "Reconcile workflows with the remote server",
	Long: `Sync classifies each workflow's drift among baseline, local and remote
state, applies the matching action (upload, download, or the configured
conflict strategy) and records the new baseline once the action succeeded.

Without arguments, all tracked workflows in the workflows directory are
processed.`,
	RunE: runSync,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Sync once, then re-sync workflows as local files change",
	Long: `Watch performs an initial full sync, then observes the workflow
directories and re-syncs a workflow whenever its files settle after a change.
Runs until interrupted.`,
	RunE: runWatch,
}

var statusCmd = &cobra.Command{
	Use:   "status [workflow...]",
	Short: "Show each workflow's drift classification without acting",
	RunE:  runStatus,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowsyncd %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/flowsyncd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	// Sync command flags
	syncCmd.Flags().StringVar(&strategy, "strategy", "", "conflict strategy (skip, pull, push, auto); overrides the config file")
	syncCmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would be done without making changes")
	watchCmd.Flags().StringVar(&strategy, "strategy", "", "conflict strategy (skip, pull, push, auto); overrides the config file")

	// Add commands
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := buildEngine(cfg, logger, sync.WithDryRun(dryRun))
	if err != nil {
		return err
	}

	names, err := workflowNames(ctx, engine, args)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		logger.Info("no workflows found", "dir", cfg.Paths.WorkflowsDir)
		return nil
	}

	logger.Info("starting sync", "workflows", len(names), "dry_run", dryRun)
	results := engine.Run(ctx, names)

	failed := 0
	for _, res := range results {
		if res.Failed() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d workflows failed to sync", failed, len(results))
	}

	logger.Info("sync completed successfully", "workflows", len(results))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	// Watch mode reacts to local edits, so only locally tracked workflows
	// are observed and synced here.
	names, err := workflow.Discover(cfg.Paths.WorkflowsDir)
	if err != nil {
		return fmt.Errorf("failed to discover workflows: %w", err)
	}
	if len(names) == 0 {
		return fmt.Errorf("no tracked workflows found in %s", cfg.Paths.WorkflowsDir)
	}

	logger.Info("performing initial sync before watching", "workflows", len(names))
	engine.Run(ctx, names)

	w := watcher.New(cfg.Paths.WorkflowsDir, names, func(name string) {
		engine.Invalidate(name)
		engine.Run(ctx, []string{name})
	}, watcher.WithDebounce(cfg.DebounceInterval()), watcher.WithLogger(logger))

	if err := w.Start(); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	logger.Info("watching for changes", "dir", cfg.Paths.WorkflowsDir, "debounce", cfg.DebounceInterval())
	<-ctx.Done()

	logger.Info("shutting down watcher")
	return w.Stop()
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	engine, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	names, err := workflowNames(ctx, engine, args)
	if err != nil {
		return err
	}

	for _, name := range names {
		status, err := engine.Status(ctx, name)
		if err != nil {
			fmt.Printf("%-30s error: %v\n", name, err)
			continue
		}
		fmt.Printf("%-30s %s\n", name, status)
	}
	return nil
}

// buildEngine wires the engine and its collaborators from configuration.
func buildEngine(cfg *config.Config, logger *slog.Logger, extra ...sync.Option) (*sync.Engine, error) {
	remoteClient, err := remote.NewHTTPClient(cfg.Remote.BaseURL, cfg.Remote.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote client: %w", err)
	}

	localStore := workflow.NewStore(cfg.Paths.WorkflowsDir)
	store := baseline.Load(cfg.BaselinePath(), logger)

	strategyName := cfg.Sync.Strategy
	if strategy != "" {
		strategyName = strategy
	}
	parsed, err := sync.ParseStrategy(strategyName)
	if err != nil {
		return nil, err
	}

	opts := []sync.Option{
		sync.WithStrategy(parsed),
		sync.WithResultFunc(func(res sync.Result) {
			if res.Failed() {
				return // already logged by the engine
			}
			logger.Info("workflow processed", "workflow", res.Name, "status", res.Status, "action", res.Action)
		}),
	}

	if cfg.Sync.ValidateCmd != "" {
		runner := hook.NewExecRunner(cfg.Sync.ValidateCmd)
		if ok, err := runner.IsAvailable(); !ok {
			return nil, err
		}
		opts = append(opts, sync.WithHooks(sync.Hooks{
			PreAction: func(ctx context.Context, name string, _ sync.Status) error {
				return runner.Validate(ctx, name, localStore.Dir(name))
			},
		}))
	}

	opts = append(opts, extra...)
	return sync.NewEngine(remoteClient, localStore, store, logger, opts...), nil
}

// workflowNames returns the explicit args, or the union of local, baseline
// and remote workflow names when no args were given.
func workflowNames(ctx context.Context, engine *sync.Engine, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	return engine.Workflows(ctx)
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	// Determine config file path
	configPath := cfgFile
	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		configPath = fmt.Sprintf("%s/.config/flowsyncd/config.yaml", home)
	}

	logger.Info("loading configuration", "path", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"remote", cfg.Remote.BaseURL,
		"workflows_dir", cfg.Paths.WorkflowsDir,
		"state_dir", cfg.Paths.StateDir,
		"strategy", cfg.Sync.Strategy)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
