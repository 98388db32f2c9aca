package sync

import "fmt"

// Strategy selects how a conflicted workflow is moved toward a new baseline.
// None of the strategies merge content: pull and push overwrite one whole
// side with the other, and auto chains pull then push. When both sides
// modified overlapping content, one side's edits are discarded; this is a
// documented limitation, not a merge.
type Strategy string

const (
	// StrategySkip leaves the conflict untouched and reports it.
	StrategySkip Strategy = "skip"
	// StrategyPull overwrites local content with the remote file-set.
	StrategyPull Strategy = "pull"
	// StrategyPush overwrites remote content with the local file-set.
	StrategyPush Strategy = "push"
	// StrategyAuto pulls the remote file-set into local storage, then pushes
	// the resulting local state back. Sequential overwrite, not a merge.
	StrategyAuto Strategy = "auto"
)

// ParseStrategy converts a configured strategy name to its typed value.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategySkip, StrategyPull, StrategyPush, StrategyAuto:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown conflict strategy: %q (must be skip, pull, push or auto)", s)
}
