// Package backend implements the HTTP client that speaks to the remote note
// authority. It is the only component in Raido that touches the network.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync/atomic"
	"time"

	"github.com/starford/raido/internal/apperr"
)

// Client is the network boundary the sync engine depends on. Both methods
// return an *APIError when the server answers with a non-2xx status after
// the bounded auth-retry is exhausted.
type Client interface {
	SyncOperations(ctx context.Context, ops []Operation) ([]Result, error)
	FetchSnapshot(ctx context.Context) ([]SnapshotNote, error)
}

// APIError describes a non-2xx server response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: http %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps an unauthorized response onto apperr.ErrUnauthorized so callers
// can branch with errors.Is without inspecting status codes.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized {
		return apperr.ErrUnauthorized
	}
	return nil
}

// Options configures an HTTPClient.
type Options struct {
	// BaseURL is the remote authority root, e.g. "https://api.example.com".
	BaseURL string
	// SyncPath is the batch submission endpoint. Default "/notes/sync".
	SyncPath string
	// SnapshotPath is the authoritative snapshot endpoint. Default "/notes".
	SnapshotPath string
	// RefreshPath, when non-empty, enables the single-refresh auth-retry:
	// an unauthorized response triggers one POST to this path and, on
	// refresh success, one replay of the original request.
	RefreshPath string
	// Token, when non-empty, is sent as a Bearer token on every request.
	Token string
	// HTTPClient overrides the default client (15s timeout, cookie jar).
	HTTPClient *http.Client
	Logger     *slog.Logger
	// OnSessionInvalid is called at most once per unauthorized streak, after
	// the auth-retry fails to recover the session. The flag resets on the
	// next successful response.
	OnSessionInvalid func()
}

// HTTPClient implements Client over JSON/HTTP with cookie credentials, an
// optional bearer token, and bounded recovery from expired sessions.
type HTTPClient struct {
	baseURL          string
	syncPath         string
	snapshotPath     string
	refreshPath      string
	token            string
	httpClient       *http.Client
	logger           *slog.Logger
	onSessionInvalid func()
	notifiedInvalid  atomic.Bool
}

// NewHTTPClient validates opts and returns a ready client.
func NewHTTPClient(opts Options) (*HTTPClient, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend: base URL is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("backend: cookie jar: %w", err)
		}
		httpClient = &http.Client{Timeout: 15 * time.Second, Jar: jar}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &HTTPClient{
		baseURL:          baseURL,
		syncPath:         opts.SyncPath,
		snapshotPath:     opts.SnapshotPath,
		refreshPath:      strings.TrimSpace(opts.RefreshPath),
		token:            strings.TrimSpace(opts.Token),
		httpClient:       httpClient,
		logger:           logger,
		onSessionInvalid: opts.OnSessionInvalid,
	}
	if c.syncPath == "" {
		c.syncPath = "/notes/sync"
	}
	if c.snapshotPath == "" {
		c.snapshotPath = "/notes"
	}
	return c, nil
}

// SyncOperations submits a batch of operations and returns one result per
// operation, in submission order.
func (c *HTTPClient) SyncOperations(ctx context.Context, ops []Operation) ([]Result, error) {
	var out syncResponse
	if err := c.doJSON(ctx, http.MethodPost, c.syncPath, syncRequest{Operations: ops}, &out); err != nil {
		return nil, err
	}
	if len(out.Results) != len(ops) {
		return nil, fmt.Errorf("backend: %d results for %d operations", len(out.Results), len(ops))
	}
	return out.Results, nil
}

// FetchSnapshot retrieves the full authoritative note set.
func (c *HTTPClient) FetchSnapshot(ctx context.Context) ([]SnapshotNote, error) {
	var out snapshotResponse
	if err := c.doJSON(ctx, http.MethodGet, c.snapshotPath, nil, &out); err != nil {
		return nil, err
	}
	return out.Notes, nil
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode request: %w", err)
		}
	}

	status, payload, err := c.roundTrip(ctx, method, path, bodyBytes)
	if err != nil {
		return err
	}

	// Auth-retry: one refresh, then one replay whose response is returned
	// regardless of outcome. This bounds retry amplification to a single
	// extra round trip per call.
	if status == http.StatusUnauthorized && c.refreshPath != "" {
		if c.refreshSession(ctx) {
			status, payload, err = c.roundTrip(ctx, method, path, bodyBytes)
			if err != nil {
				return err
			}
		}
	}

	if status >= 200 && status <= 299 {
		c.notifiedInvalid.Store(false)
		if out == nil || len(payload) == 0 {
			return nil
		}
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("backend: decode response: %w", err)
		}
		return nil
	}

	if status == http.StatusUnauthorized {
		c.signalSessionInvalid()
	}
	return &APIError{StatusCode: status, Message: errorMessage(payload)}
}

func (c *HTTPClient) roundTrip(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("backend: %s %s: %w", method, path, err)
	}
	payload, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return 0, nil, fmt.Errorf("backend: read response: %w", readErr)
	}
	return resp.StatusCode, payload, nil
}

// refreshSession performs exactly one session refresh. Success is any 2xx.
func (c *HTTPClient) refreshSession(ctx context.Context) bool {
	status, _, err := c.roundTrip(ctx, http.MethodPost, c.refreshPath, nil)
	if err != nil {
		c.logger.Warn("backend: session refresh failed", slog.String("error", err.Error()))
		return false
	}
	if status < 200 || status > 299 {
		c.logger.Warn("backend: session refresh rejected", slog.Int("status", status))
		return false
	}
	return true
}

// signalSessionInvalid emits at most one session-invalid notification per
// unauthorized streak, preventing a storm of duplicate sign-out events when
// several requests fail concurrently.
func (c *HTTPClient) signalSessionInvalid() {
	if c.onSessionInvalid == nil {
		return
	}
	if c.notifiedInvalid.CompareAndSwap(false, true) {
		c.onSessionInvalid()
	}
}

func errorMessage(payload []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(payload, &body); err == nil {
		if body.Error != "" {
			return body.Error
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return "request failed"
}
