// Package config resolves pipeline settings in three layers: built-in
// defaults, an optional JSON config file, then CATFORGE_* environment
// overrides. Only an unusable input catalog path is fatal at load time;
// everything else has a workable default.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

type Config struct {
	Catalog CatalogConfig `json:"catalog"`
	Runtime RuntimeConfig `json:"runtime"`
	LLM     LLMConfig     `json:"llm"`
	Gateway GatewayConfig `json:"gateway"`
	Output  OutputConfig  `json:"output"`
	Log     LogConfig     `json:"log"`
}

// CatalogConfig locates the input catalogs. The server and model
// pipelines read distinct files: Path holds the MCP server registry,
// ModelsPath the extended model roster.
type CatalogConfig struct {
	Path       string `json:"path"`
	ModelsPath string `json:"modelsPath"`
	Origin     string `json:"origin"`
}

// RuntimeConfig points at the spawn runtime.
type RuntimeConfig struct {
	BaseURL        string `json:"baseUrl"`
	InternalSecret string `json:"internalSecret"`
}

// LLMConfig points at the OpenAI-compatible inference API used by the
// server pipeline.
type LLMConfig struct {
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// GatewayConfig points at the inference gateway used by the model
// pipeline's tool-calling backends.
type GatewayConfig struct {
	BaseURL string `json:"baseUrl"`
}

// OutputConfig controls where checkpoint documents and the attempt
// journal land.
type OutputConfig struct {
	Dir string `json:"dir"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level string `json:"level"` // debug, info, warn, error
	File  string `json:"file"`  // JSON log file; empty disables it
}

func defaults() Config {
	return Config{
		Catalog: CatalogConfig{
			Path:       filepath.Join("data", "registryRefined.json"),
			ModelsPath: filepath.Join("data", "models_extended.json"),
			Origin:     "mcp",
		},
		Runtime: RuntimeConfig{
			BaseURL: "https://runtime.compose.market",
		},
		LLM: LLMConfig{
			BaseURL: "https://inference.asi1.ai/v1",
		},
		Gateway: GatewayConfig{
			BaseURL: "http://localhost:8080",
		},
		Output: OutputConfig{
			Dir: "out",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load resolves the configuration. path may be empty, in which case the
// default location ($XDG_CONFIG_HOME/catforge/config.json, falling back
// to ~/.config) is consulted; a missing file is not an error there, but
// an explicitly given path must exist.
func Load(path string) (Config, error) {
	cfg := defaults()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if explicit {
				return Config{}, fmt.Errorf("config file %s: %w", path, err)
			}
		case err != nil:
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		default:
			if err := json.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func defaultConfigPath() string {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "catforge", "config.json")
}

// envSpecs maps CATFORGE_* variables onto config fields.
var envSpecs = []struct {
	env   string
	apply func(*Config, string)
}{
	{"CATFORGE_CATALOG_PATH", func(c *Config, v string) { c.Catalog.Path = v }},
	{"CATFORGE_MODELS_CATALOG_PATH", func(c *Config, v string) { c.Catalog.ModelsPath = v }},
	{"CATFORGE_CATALOG_ORIGIN", func(c *Config, v string) { c.Catalog.Origin = v }},
	{"CATFORGE_RUNTIME_URL", func(c *Config, v string) { c.Runtime.BaseURL = v }},
	{"CATFORGE_RUNTIME_INTERNAL_SECRET", func(c *Config, v string) { c.Runtime.InternalSecret = v }},
	{"CATFORGE_LLM_URL", func(c *Config, v string) { c.LLM.BaseURL = v }},
	{"CATFORGE_LLM_API_KEY", func(c *Config, v string) { c.LLM.APIKey = v }},
	{"CATFORGE_GATEWAY_URL", func(c *Config, v string) { c.Gateway.BaseURL = v }},
	{"CATFORGE_OUTPUT_DIR", func(c *Config, v string) { c.Output.Dir = v }},
	{"CATFORGE_LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
	{"CATFORGE_LOG_FILE", func(c *Config, v string) { c.Log.File = v }},
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range envSpecs {
		if v := os.Getenv(s.env); v != "" {
			s.apply(cfg, v)
		}
	}
}
