package spawn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// The runtime's own spawn budget is 60s; the client allows that plus a
// safety margin before declaring a timeout of its own.
const defaultSpawnTimeout = 90 * time.Second

// Error codes attached to failed spawn attempts.
const (
	CodeTimeout      = "TIMEOUT"
	CodeRequestError = "REQUEST_ERROR"
	CodeUnknown      = "UNKNOWN"
)

// Result is a successful spawn: a live session and its discovered tools.
type Result struct {
	SessionID string
	Transport string
	Tools     []mcp.Tool
}

// Error is a failed spawn attempt. The message text is inspected by the
// credential detector, so it is preserved verbatim from the runtime.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("spawn failed (%s): %s", e.Code, e.Message)
	}
	return "spawn failed: " + e.Message
}

// AsError extracts a spawn *Error from err, synthesizing an UNKNOWN-coded
// one for unexpected error values.
func AsError(err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return &Error{Code: CodeUnknown, Message: err.Error()}
}

// Client spawns catalog servers via the remote runtime's HTTP API.
type Client struct {
	baseURL        string
	internalSecret string
	httpClient     *http.Client
	timeout        time.Duration
}

// NewClient creates a runtime client. internalSecret, when non-empty, is
// sent as the x-runtime-internal header on every request.
func NewClient(baseURL, internalSecret string) *Client {
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		internalSecret: internalSecret,
		httpClient:     &http.Client{Timeout: 0},
		timeout:        defaultSpawnTimeout,
	}
}

// SetTimeout overrides the per-spawn timeout (used by tests).
func (c *Client) SetTimeout(d time.Duration) {
	c.timeout = d
}

type spawnRequest struct {
	ServerID string         `json:"serverId"`
	Config   map[string]any `json:"config,omitempty"`
}

type spawnResponse struct {
	SessionID string          `json:"sessionId"`
	Transport string          `json:"transport"`
	Tools     []mcp.Tool      `json:"tools"`
	Error     json.RawMessage `json:"error"`
}

// Spawn starts the server identified by recordID using the given candidate
// config and returns its discovered tools. On failure the returned error is
// a *Error carrying the runtime's message and code; a timeout gets the
// distinct TIMEOUT code so callers can classify it.
func (c *Client) Spawn(ctx context.Context, recordID string, cfg CandidateConfig) (*Result, error) {
	payload := spawnRequest{ServerID: recordID, Config: cfg.Wire()}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Code: CodeRequestError, Message: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/mcp/spawn", bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Code: CodeRequestError, Message: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.internalSecret != "" {
		req.Header.Set("x-runtime-internal", c.internalSecret)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &Error{
				Code:    CodeTimeout,
				Message: fmt.Sprintf("spawn timeout (%s)", c.timeout),
			}
		}
		return nil, &Error{Code: CodeRequestError, Message: err.Error()}
	}
	defer resp.Body.Close()

	var sr spawnResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, &Error{
			Code:    CodeUnknown,
			Message: fmt.Sprintf("unexpected status %d with unreadable body", resp.StatusCode),
		}
	}

	if resp.StatusCode != http.StatusOK {
		code, msg := parseErrorField(sr.Error)
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return nil, &Error{Code: code, Message: msg}
	}

	transport := cfg.Kind
	if transport == "" {
		transport = sr.Transport
	}
	if transport == "" {
		transport = "unknown"
	}
	return &Result{SessionID: sr.SessionID, Transport: transport, Tools: sr.Tools}, nil
}

// parseErrorField handles both error shapes the runtime produces: a bare
// string or an object with code and message.
func parseErrorField(raw json.RawMessage) (code, msg string) {
	if len(raw) == 0 {
		return "", ""
	}
	var obj struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && (obj.Code != "" || obj.Message != "") {
		return obj.Code, obj.Message
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return "", s
	}
	return "", string(raw)
}
