package spawn

import (
	"sort"
	"strings"

	"github.com/kalambet/catforge/internal/catalog"
)

// Transport kinds in fixed priority order. Unknown kinds sort after all
// of these, keeping their relative order.
const (
	KindNPX    = "npx"
	KindStdio  = "stdio"
	KindHTTP   = "http"
	KindDocker = "docker"
)

var kindPriority = []string{KindNPX, KindStdio, KindHTTP, KindDocker}

// CandidateConfig is one way of attempting to realize a record's live
// capabilities. Params is passed through to the runtime unchanged.
type CandidateConfig struct {
	Kind   string
	Params map[string]any
}

// Wire flattens the candidate into the runtime's config object: the
// transport kind plus the opaque parameters.
func (c CandidateConfig) Wire() map[string]any {
	if c.Kind == "" && len(c.Params) == 0 {
		return nil
	}
	out := make(map[string]any, len(c.Params)+1)
	for k, v := range c.Params {
		out[k] = v
	}
	out["transport"] = c.Kind
	return out
}

// hostDenylist marks remote endpoints that are placeholders or point at
// the publisher's own machine. These are never attempted.
var hostDenylist = []string{"localhost", "127.0.0.1", "your-", "example.com", "0.0.0.0"}

func denied(url string) bool {
	lower := strings.ToLower(url)
	for _, p := range hostDenylist {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Resolve derives the ordered list of candidate configs for a record from
// its origin hints. Candidates are deduplicated by kind (first occurrence
// wins) and sorted by the fixed priority table with a stable sort. An
// empty result means the record has no viable live source and the
// processor degrades straight to sparse-context generation.
func Resolve(rec catalog.Record) []CandidateConfig {
	var configs []CandidateConfig

	for _, pkg := range rec.Packages {
		if c, ok := packageConfig(pkg); ok {
			configs = append(configs, c)
			break
		}
	}

	for _, remote := range rec.Remotes {
		if remote.URL == "" || denied(remote.URL) {
			continue
		}
		protocol := remote.Type
		if protocol == "" {
			protocol = "sse"
		}
		configs = append(configs, CandidateConfig{
			Kind:   KindHTTP,
			Params: map[string]any{"remoteUrl": remote.URL, "protocol": protocol},
		})
	}

	if rec.RemoteURL != "" && !denied(rec.RemoteURL) {
		configs = append(configs, CandidateConfig{
			Kind:   KindHTTP,
			Params: map[string]any{"remoteUrl": rec.RemoteURL, "protocol": "sse"},
		})
	}

	if rec.Image != "" {
		configs = append(configs, CandidateConfig{
			Kind:   KindDocker,
			Params: map[string]any{"image": rec.Image},
		})
	}

	return orderConfigs(configs)
}

// packageConfig maps a package hint to a candidate, preferring an explicit
// npx spawn command, then npm and pypi registry entries.
func packageConfig(pkg catalog.PackageHint) (CandidateConfig, bool) {
	if pkg.Spawn != nil && pkg.Spawn.Command == "npx" {
		name := pkg.Identifier
		if len(pkg.Spawn.Args) > 0 {
			name = pkg.Spawn.Args[len(pkg.Spawn.Args)-1]
		}
		return CandidateConfig{
			Kind: KindNPX,
			Params: map[string]any{
				"package": name,
				"args":    pkg.Spawn.Args,
				"env":     envOrEmpty(pkg.Spawn.Env),
			},
		}, true
	}

	switch pkg.RegistryType {
	case "npm":
		return CandidateConfig{
			Kind:   KindNPX,
			Params: map[string]any{"package": pkg.Identifier, "env": map[string]string{}},
		}, true
	case "pypi":
		id := pkg.Identifier
		entry := id
		if i := strings.LastIndex(id, "/"); i >= 0 {
			entry = id[i+1:]
		}
		return CandidateConfig{
			Kind: KindStdio,
			Params: map[string]any{
				"command": "uvx",
				"args":    []string{"--from", id, entry},
				"env":     map[string]string{},
			},
		}, true
	}
	return CandidateConfig{}, false
}

func envOrEmpty(env map[string]string) map[string]string {
	if env == nil {
		return map[string]string{}
	}
	return env
}

func priorityOf(kind string) int {
	for i, k := range kindPriority {
		if k == kind {
			return i
		}
	}
	return len(kindPriority)
}

func orderConfigs(configs []CandidateConfig) []CandidateConfig {
	seen := make(map[string]bool, len(configs))
	unique := configs[:0]
	for _, c := range configs {
		if seen[c.Kind] {
			continue
		}
		seen[c.Kind] = true
		unique = append(unique, c)
	}

	sort.SliceStable(unique, func(i, j int) bool {
		return priorityOf(unique[i].Kind) < priorityOf(unique[j].Kind)
	})
	return unique
}
