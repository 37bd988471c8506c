package compile

import (
	"regexp"
	"strings"
)

// VarDetector extracts required credential variables from a spawn error
// message. Detection is inherently heuristic, so it is pluggable:
// stricter or service-specific detectors can replace the regex default
// without touching the state machine.
type VarDetector interface {
	Detect(errorText string) map[string]string
}

// RegexDetector is the default detector. It tries three patterns in
// order, stopping at the first that yields an explicit variable name.
type RegexDetector struct{}

var (
	credPhraseRe = regexp.MustCompile(`requires credentials:\s*([A-Z_][A-Z0-9_]+)`)
	envPhraseRe  = regexp.MustCompile(`(?i)([A-Z_][A-Z0-9_]{2,})\s*(?:environment variable required|env.*required)`)
	bareTokenRe  = regexp.MustCompile(`\b([A-Z_][A-Z0-9_]{3,})\b`)
)

// Structural words that look like env vars but never are.
var tokenStoplist = map[string]bool{
	"SERVER":  true,
	"ERROR":   true,
	"FAILED":  true,
	"TIMEOUT": true,
	"SESSION": true,
	"ID":      true,
	"MCP":     true,
	"API":     true,
}

// Detect returns a map of variable name to a human-readable hint, empty
// when no requirement is recognized.
func (RegexDetector) Detect(errorText string) map[string]string {
	if m := credPhraseRe.FindStringSubmatch(errorText); m != nil {
		return map[string]string{m[1]: "Required: " + m[1]}
	}

	if m := envPhraseRe.FindStringSubmatch(errorText); m != nil {
		name := strings.ToUpper(m[1])
		return map[string]string{name: "Required: " + name}
	}

	vars := make(map[string]string)
	for _, m := range bareTokenRe.FindAllStringSubmatch(errorText, -1) {
		if tokenStoplist[m[1]] {
			continue
		}
		vars[m[1]] = "Required: " + m[1]
	}
	return vars
}
