// Package modelmeta compiles verified AI model descriptors. Unlike the
// server pipeline there is nothing to spawn: the backend is given a
// web_search tool and a hard cap of three tool turns to verify pricing
// and context window figures before emitting its final JSON.
package modelmeta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/catforge/internal/catalog"
)

const (
	maxToolTurns    = 3
	turnTimeout     = 120 * time.Second
	toolResultLimit = 2000
)

// Backend is one gateway inference identity for the model pipeline. The
// gateway exposes each model under its own chat endpoint.
type Backend struct {
	Provider string
	Model    string
	Endpoint string
}

// GatewayBackends is the fixed roster; worker slots map onto it
// round-robin.
var GatewayBackends = []Backend{
	{Provider: "ollama", Model: "qwen", Endpoint: "/ollama/qwen/chat"},
	{Provider: "ollama", Model: "qwen-14b", Endpoint: "/ollama/qwen-14b/chat"},
	{Provider: "ollama", Model: "mistral", Endpoint: "/ollama/mistral/chat"},
	{Provider: "ollama", Model: "gemma", Endpoint: "/ollama/gemma/chat"},
	{Provider: "ollama", Model: "llava", Endpoint: "/ollama/llava/chat"},
}

// Pricing is USD per one million tokens.
type Pricing struct {
	Input    float64 `json:"input"`
	Output   float64 `json:"output"`
	Provider string  `json:"provider,omitempty"`
}

// ModelInfo is a compiled model descriptor.
type ModelInfo struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	Source           string   `json:"source,omitempty"`
	OwnedBy          string   `json:"ownedBy,omitempty"`
	Task             string   `json:"task,omitempty"`
	Description      string   `json:"description,omitempty"`
	ContextLength    int      `json:"contextLength"`
	MaxOutputTokens  int      `json:"maxOutputTokens,omitempty"`
	Pricing          *Pricing `json:"pricing,omitempty"`
	Capabilities     []string `json:"capabilities,omitempty"`
	InputModalities  []string `json:"inputModalities,omitempty"`
	OutputModalities []string `json:"outputModalities,omitempty"`
}

// Key implements checkpoint.Keyed.
func (m ModelInfo) Key() string { return m.ID }

// FailedModel is the terminal failure entry for one model id.
type FailedModel struct {
	ID           string `json:"id"`
	OriginalName string `json:"originalName,omitempty"`
	FailedAt     string `json:"failedAt,omitempty"`
	Retryable    bool   `json:"retryable"`
}

// Key implements checkpoint.Keyed.
func (f FailedModel) Key() string { return f.ID }

// Searcher is the web-search tool the backend may call.
type Searcher interface {
	Search(ctx context.Context, query string) string
}

// Compiler drives the tool-calling conversation for one model at a time.
type Compiler struct {
	gateway    string
	httpClient *http.Client
	search     Searcher
	logger     *slog.Logger
}

// NewCompiler creates a Compiler against the given gateway base URL.
func NewCompiler(gateway string, search Searcher, logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{
		gateway:    strings.TrimRight(gateway, "/"),
		httpClient: &http.Client{Timeout: 0},
		search:     search,
		logger:     logger,
	}
}

type chatMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []toolCall `json:"tool_calls,omitempty"`
}

type toolCall struct {
	Function toolFunction `json:"function"`
}

type toolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Tools    []toolSpec     `json:"tools"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

type toolSpec struct {
	Type     string       `json:"type"`
	Function toolSpecFunc `json:"function"`
}

type toolSpecFunc struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

var searchToolSpec = []toolSpec{{
	Type: "function",
	Function: toolSpecFunc{
		Name:        "web_search",
		Description: "Searches the internet for exact information about AI models, pricing (USD per 1M tokens), and context windows.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query (e.g. 'qwen3-32b token pricing context length output limit')",
				},
			},
			"required": []string{"query"},
		},
	},
}}

const systemPrompt = `You are a highly capable AI model data engineering system.
Your job is to compile the EXACT correct parameters for AI models.
You MUST NOT guess. You MUST use the ` + "`web_search`" + ` tool to find the real values if you are not 100% certain.

You must return a raw JSON object adhering EXACTLY to this schema (ModelInfo):
{
    "id": "model_id",
    "name": "Model Name",
    "source": "provider",
    "ownedBy": "owner",
    "task": "task_type",
    "description": "A 2-4 sentence accurate description of the model",
    "contextLength": 128000,
    "maxOutputTokens": 4096,
    "pricing": {
        "input": 0.5,
        "output": 1.5,
        "provider": "openrouter"
    },
    "capabilities": ["tools", "vision", "streaming", "reasoning"],
    "inputModalities": ["text", "image"],
    "outputModalities": ["text"]
}

Important Rules:
1. Pricing MUST be in USD per 1 Million tokens. If you find $0.0005 per 1k tokens, multiply by 1000 to get $0.50 per 1M.
2. Context window MUST be integer tokens (e.g. 128000, not "128k").
3. Always supply a single valid JSON object as your final message. Don't wrap it in markdown block.`

// Compile verifies and assembles the descriptor for one model. Returns
// nil when the conversation exhausts its turns or the final payload
// fails validation.
func (c *Compiler) Compile(ctx context.Context, rec catalog.Record, backend Backend) *ModelInfo {
	prompt := fmt.Sprintf(
		"Extract and verify exactly the correct metadata for the model '%s' (ID: %s) by provider '%s'. "+
			"Use the web_search tool to find accurate pricing and context window size. Start now.",
		rec.Name, rec.ID, rec.Provider)

	messages := []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	}

	for turn := 0; turn < maxToolTurns; turn++ {
		msg, err := c.chat(ctx, backend, messages)
		if err != nil {
			c.logger.Warn("model chat turn failed", "model_id", rec.ID, "backend", backend.Model, "error", err)
			return nil
		}

		if len(msg.ToolCalls) == 0 {
			info := parseModelJSON(msg.Content)
			if info == nil {
				return nil
			}
			if info.ID == "" {
				info.ID = rec.ID
			}
			if info.Source == "" {
				info.Source = rec.Provider
			}
			return info
		}

		messages = append(messages, *msg)
		for _, tc := range msg.ToolCalls {
			if tc.Function.Name != "web_search" {
				continue
			}
			query, _ := tc.Function.Arguments["query"].(string)
			c.logger.Debug("web search", "model_id", rec.ID, "query", query)
			result := c.search.Search(ctx, query)
			// Cap in characters, never splitting a multibyte rune.
			if utf8.RuneCountInString(result) > toolResultLimit {
				result = string([]rune(result)[:toolResultLimit])
			}
			messages = append(messages, chatMessage{Role: "tool", Content: result})
		}
	}

	c.logger.Warn("tool turns exhausted without a final answer", "model_id", rec.ID)
	return nil
}

func (c *Compiler) chat(ctx context.Context, backend Backend, messages []chatMessage) (*chatMessage, error) {
	body, err := json.Marshal(chatRequest{
		Model:    backend.Model,
		Messages: messages,
		Tools:    searchToolSpec,
		Stream:   false,
		Options:  map[string]any{"temperature": 0.1},
	})
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, turnTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gateway+backend.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("chat request: status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding chat response: %w", err)
	}
	return &out.Message, nil
}

// parseModelJSON extracts the descriptor object from the final message,
// tolerating markdown fences. Requires id, name and contextLength to be
// present.
func parseModelJSON(content string) *ModelInfo {
	content = strings.TrimSpace(content)

	if strings.Contains(content, "```") {
		var inner []string
		inCode := false
		for _, line := range strings.Split(content, "\n") {
			if strings.HasPrefix(line, "```") {
				inCode = !inCode
				continue
			}
			if inCode {
				inner = append(inner, line)
			}
		}
		content = strings.TrimSpace(strings.Join(inner, "\n"))
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil
	}
	content = content[start : end+1]

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &keys); err != nil {
		return nil
	}
	for _, required := range []string{"id", "name", "contextLength"} {
		if _, ok := keys[required]; !ok {
			return nil
		}
	}

	var info ModelInfo
	if err := json.Unmarshal([]byte(content), &info); err != nil {
		return nil
	}
	return &info
}
