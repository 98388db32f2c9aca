package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/schaermu/flowsyncd/internal/archive"
	"github.com/schaermu/flowsyncd/internal/workflow"
)

// maxResponseBytes caps how much of a response body is read, both for
// archives and for error detail.
const maxResponseBytes = 64 << 20 // 64 MB

// HTTPClient implements Client against the workflow server's HTTP API.
// File-sets travel as gzipped tar archives on the wire.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a client for the server at baseURL. If tokenFile is
// non-empty, its trimmed content is sent as a bearer token on every request.
func NewHTTPClient(baseURL, tokenFile string) (*HTTPClient, error) {
	token := ""
	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read token file: %w", err)
		}
		token = strings.TrimSpace(string(data))
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{},
	}, nil
}

// List returns the names of all workflows on the server.
func (c *HTTPClient) List(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/workflows", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError("list workflows", resp)
	}

	var payload struct {
		Workflows []string `json:"workflows"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode workflow list: %w", err)
	}
	return payload.Workflows, nil
}

// Fetch retrieves a workflow's file-set. HTTP 404 maps to ErrNotFound; every
// other non-OK status is a transport or auth failure.
func (c *HTTPClient) Fetch(ctx context.Context, name string) (workflow.FileSet, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.archiveURL(name), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build fetch request: %w", err)
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch workflow %q: %w", name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("workflow %q: %w", name, ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(fmt.Sprintf("fetch workflow %q", name), resp)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow %q archive: %w", name, err)
	}

	files, err := archive.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow %q archive: %w", name, err)
	}
	return files, nil
}

// Upload replaces the workflow's file-set on the server.
func (c *HTTPClient) Upload(ctx context.Context, name string, files workflow.FileSet) error {
	data, err := archive.Encode(files)
	if err != nil {
		return fmt.Errorf("failed to encode workflow %q archive: %w", name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.archiveURL(name), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/gzip")
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload workflow %q: %w", name, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
		return nil
	}
	return c.statusError(fmt.Sprintf("upload workflow %q", name), resp)
}

func (c *HTTPClient) archiveURL(name string) string {
	return c.baseURL + "/workflows/" + url.PathEscape(name) + "/archive"
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// statusError builds an error from a non-success response, including a short
// slice of the body for diagnosis.
func (c *HTTPClient) statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	detail := strings.TrimSpace(string(body))
	if detail != "" {
		return fmt.Errorf("%s: server returned %s: %s", op, resp.Status, detail)
	}
	return fmt.Errorf("%s: server returned %s", op, resp.Status)
}
