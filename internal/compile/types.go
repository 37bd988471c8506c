package compile

import (
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// CompiledServer is a successfully compiled catalog entry. When
// SpawnFailed is true the server answered only after credentials it does
// not have: Tools stays empty, VarsRequired names what is missing, and
// Transport reflects the last attempted config.
type CompiledServer struct {
	ID               string            `json:"id"`
	RegistryID       string            `json:"registryId"`
	Name             string            `json:"name"`
	Slug             string            `json:"slug,omitempty"`
	Description      string            `json:"description"`
	Tags             []string          `json:"tags"`
	Transport        string            `json:"transport,omitempty"`
	Tools            []mcp.Tool        `json:"tools,omitempty"`
	ToolCount        int               `json:"tool_count,omitempty"`
	Spawn            map[string]any    `json:"spawn,omitempty"`
	Source           string            `json:"source,omitempty"`
	CompiledAt       string            `json:"compiled_at,omitempty"`
	WorkingTransport string            `json:"working_transport,omitempty"`
	SpawnFailed      bool              `json:"spawn_failed"`
	VarsRequired     map[string]string `json:"vars_required,omitempty"`
}

// Key implements checkpoint.Keyed.
func (s CompiledServer) Key() string { return s.ID }

// FailedServer is a terminally failed catalog entry. Name, description
// and tags are best effort, possibly inferred from sparse context.
type FailedServer struct {
	ID              string   `json:"id"`
	RegistryID      string   `json:"registryId"`
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Tags            []string `json:"tags,omitempty"`
	Error           string   `json:"error,omitempty"`
	ErrorCode       string   `json:"error_code,omitempty"`
	TransportsTried []string `json:"transports_tried,omitempty"`
	FailedAt        string   `json:"failed_at,omitempty"`
	Retryable       bool     `json:"retryable"`
}

// Key implements checkpoint.Keyed.
func (s FailedServer) Key() string { return s.ID }

// Outcome is one of the processor's three terminal states: exactly one of
// Compiled and Failed is set. Success is true only for a full compile
// with discovered tools; a credentials-only compile sets Compiled with
// SpawnFailed=true.
type Outcome struct {
	Compiled *CompiledServer
	Failed   *FailedServer
	Status   string
}

// Success reports a full compile with live tools.
func (o Outcome) Success() bool {
	return o.Compiled != nil && !o.Compiled.SpawnFailed
}

// NeedsCredentials reports a degraded compile blocked on credentials.
func (o Outcome) NeedsCredentials() bool {
	return o.Compiled != nil && o.Compiled.SpawnFailed
}

// UTCStamp formats t as ISO-8601 UTC with second precision and a Z
// suffix, the timestamp format shared by all output documents.
func UTCStamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
