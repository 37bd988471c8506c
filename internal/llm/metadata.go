package llm

import (
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Metadata is a fully validated generation result. Parsing never returns
// a partially-filled value: any check failing rejects the whole response.
type Metadata struct {
	Name        string
	Description string
	Tags        []string
}

const (
	minNameLen = 3
	maxNameLen = 60
	minDescLen = 20
	maxDescLen = 200
	minTags    = 2
	maxTags    = 4
	maxTagLen  = 25
)

// Marketing and boilerplate phrases stripped from generated names.
var namePhrases = []string{"MCP Server", "MCP", "Server", "| Glama", "| PulseMCP"}

var (
	byAuthorRe   = regexp.MustCompile(`(?i)\s+by\s+\S+`)
	descPrefixRe = regexp.MustCompile(`(?i)^MCP server:\s*`)
	tagCharRe    = regexp.MustCompile(`[^a-z0-9-]`)
	preambleRe   = regexp.MustCompile(`(?s)^[^{]*`)
)

// ParseMetadata extracts and validates a metadata object from raw model
// output. The text is tolerated in several wrappings: code fences, a
// greeting before the JSON, and (for reasoning models) a thinking
// preamble stripped up to the first brace. Returns nil when anything is
// missing or fails validation.
func ParseMetadata(content string, reasoning bool) *Metadata {
	content = strings.TrimSpace(content)

	if reasoning {
		content = preambleRe.ReplaceAllString(content, "")
	}

	content = stripCodeFences(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return nil
	}
	content = content[start : end+1]

	var data struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		Tags        json.RawMessage `json:"tags"`
	}
	if err := json.Unmarshal([]byte(content), &data); err != nil {
		return nil
	}
	if data.Name == "" || data.Description == "" || data.Tags == nil {
		return nil
	}
	var rawTags []string
	if err := json.Unmarshal(data.Tags, &rawTags); err != nil {
		return nil
	}

	name := CleanName(data.Name)
	if utf8.RuneCountInString(name) < minNameLen {
		return nil
	}
	name = truncateRunes(name, maxNameLen)

	desc := cleanDescription(data.Description)
	if utf8.RuneCountInString(desc) < minDescLen {
		return nil
	}
	desc = truncateRunes(desc, maxDescLen)

	tags := normalizeTags(rawTags)
	if len(tags) < minTags {
		return nil
	}

	return &Metadata{Name: name, Description: desc, Tags: tags}
}

// CleanName strips boilerplate phrases and attribution suffixes and
// collapses whitespace. Exported because the sparse-context prompt embeds
// the cleaned original name as a hint.
func CleanName(name string) string {
	for _, phrase := range namePhrases {
		re := regexp.MustCompile(`(?i)\s*` + regexp.QuoteMeta(phrase) + `\s*`)
		name = re.ReplaceAllString(name, " ")
	}
	name = byAuthorRe.ReplaceAllString(name, "")
	return strings.Join(strings.Fields(name), " ")
}

func cleanDescription(desc string) string {
	desc = descPrefixRe.ReplaceAllString(strings.TrimSpace(desc), "")
	return strings.Join(strings.Fields(desc), " ")
}

// normalizeTags lowercases, truncates, and slugifies each tag, dropping
// banned and too-short results, keeping at most maxTags of the first
// five candidates.
func normalizeTags(raw []string) []string {
	var out []string
	for i, t := range raw {
		if i >= 5 {
			break
		}
		tag := truncateRunes(strings.ToLower(strings.TrimSpace(t)), maxTagLen)
		tag = tagCharRe.ReplaceAllString(tag, "-")
		tag = strings.Trim(tag, "-")
		if len(tag) < 2 || bannedTags[tag] {
			continue
		}
		out = append(out, tag)
	}
	if len(out) > maxTags {
		out = out[:maxTags]
	}
	return out
}

// truncateRunes caps s at max characters without splitting a multibyte
// rune. The length limits are character counts, not byte counts.
func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}

// stripCodeFences keeps only fenced content when the response wraps its
// JSON in a markdown code block.
func stripCodeFences(content string) string {
	if !strings.Contains(content, "```") {
		return content
	}
	var kept []string
	inCode := false
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCode = !inCode
			continue
		}
		if inCode {
			kept = append(kept, line)
		}
	}
	if len(kept) == 0 {
		return content
	}
	return strings.Join(kept, "\n")
}
