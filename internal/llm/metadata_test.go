package llm

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestParseMetadata_Valid(t *testing.T) {
	content := `{"name": "GitHub Repository Access", "description": "Reads and writes GitHub repositories. Supports issues and pull requests.", "tags": ["github", "git"]}`

	m := ParseMetadata(content, false)
	if m == nil {
		t.Fatal("ParseMetadata returned nil for valid input")
	}
	if m.Name != "GitHub Repository Access" {
		t.Errorf("Name = %q", m.Name)
	}
	if len(m.Tags) != 2 {
		t.Errorf("Tags = %v", m.Tags)
	}
}

func TestParseMetadata_ShortDescription(t *testing.T) {
	// Below the 20-char floor: the whole result is rejected.
	content := `{"name": "X Service Thing", "description": "short", "tags": ["github", "git"]}`
	if m := ParseMetadata(content, false); m != nil {
		t.Errorf("ParseMetadata = %+v, want nil for 5-char description", m)
	}
}

func TestParseMetadata_DescriptionAtFloor(t *testing.T) {
	desc := strings.Repeat("d", 20)
	content := `{"name": "Real Name Here", "description": "` + desc + `", "tags": ["github", "git"]}`

	m := ParseMetadata(content, false)
	if m == nil {
		t.Fatal("ParseMetadata returned nil for exactly-20-char description")
	}
	if m.Description != desc {
		t.Errorf("Description = %q, want untruncated %q", m.Description, desc)
	}
}

func TestParseMetadata_Truncation(t *testing.T) {
	longName := strings.Repeat("N", 80)
	longDesc := strings.Repeat("D", 300)
	content := `{"name": "` + longName + `", "description": "` + longDesc + `", "tags": ["github", "git"]}`

	m := ParseMetadata(content, false)
	if m == nil {
		t.Fatal("ParseMetadata returned nil")
	}
	if len(m.Name) != 60 {
		t.Errorf("len(Name) = %d, want 60", len(m.Name))
	}
	if len(m.Description) != 200 {
		t.Errorf("len(Description) = %d, want 200", len(m.Description))
	}
}

func TestParseMetadata_MultibyteTruncation(t *testing.T) {
	// Limits are character counts: truncation must never split a rune.
	longName := strings.Repeat("ü", 80)
	longDesc := strings.Repeat("説", 300)
	content := `{"name": "` + longName + `", "description": "` + longDesc + `", "tags": ["github", "git"]}`

	m := ParseMetadata(content, false)
	if m == nil {
		t.Fatal("ParseMetadata returned nil")
	}
	if !utf8.ValidString(m.Name) || !utf8.ValidString(m.Description) {
		t.Fatal("truncation split a multibyte rune")
	}
	if n := utf8.RuneCountInString(m.Name); n != 60 {
		t.Errorf("name runes = %d, want 60", n)
	}
	if n := utf8.RuneCountInString(m.Description); n != 200 {
		t.Errorf("description runes = %d, want 200", n)
	}
}

func TestParseMetadata_NameBoilerplateStripped(t *testing.T) {
	content := `{"name": "Weather MCP Server by acme", "description": "Fetches weather forecasts for any location. Supports hourly data.", "tags": ["weather", "maps"]}`

	m := ParseMetadata(content, false)
	if m == nil {
		t.Fatal("ParseMetadata returned nil")
	}
	if m.Name != "Weather" {
		t.Errorf("Name = %q, want boilerplate and attribution removed", m.Name)
	}
}

func TestParseMetadata_NameTooShortAfterCleaning(t *testing.T) {
	content := `{"name": "MCP Server", "description": "A sufficiently long description of the thing here.", "tags": ["github", "git"]}`
	if m := ParseMetadata(content, false); m != nil {
		t.Errorf("ParseMetadata = %+v, want nil when cleaning empties the name", m)
	}
}

func TestParseMetadata_DescriptionPrefixStripped(t *testing.T) {
	content := `{"name": "File Browser", "description": "MCP server: Browses and edits local files with full-text search.", "tags": ["filesystem", "search"]}`

	m := ParseMetadata(content, false)
	if m == nil {
		t.Fatal("ParseMetadata returned nil")
	}
	if strings.HasPrefix(m.Description, "MCP server:") {
		t.Errorf("Description = %q, want prefix stripped", m.Description)
	}
}

func TestParseMetadata_TagNormalization(t *testing.T) {
	content := `{"name": "Data Pipeline Kit", "description": "Moves data between warehouses. Handles schema drift cleanly.", "tags": ["Data Engineering!", "tool", "x", "ETL", "extra-one", "dropped-sixth"]}`

	m := ParseMetadata(content, false)
	if m == nil {
		t.Fatal("ParseMetadata returned nil")
	}
	// "tool" is banned, "x" too short, only first five considered, max four kept.
	want := []string{"data-engineering", "etl", "extra-one"}
	if len(m.Tags) != len(want) {
		t.Fatalf("Tags = %v, want %v", m.Tags, want)
	}
	for i := range want {
		if m.Tags[i] != want[i] {
			t.Errorf("Tags[%d] = %q, want %q", i, m.Tags[i], want[i])
		}
	}
}

func TestParseMetadata_TooFewValidTags(t *testing.T) {
	content := `{"name": "Data Pipeline Kit", "description": "Moves data between warehouses. Handles schema drift cleanly.", "tags": ["tool", "api"]}`
	if m := ParseMetadata(content, false); m != nil {
		t.Errorf("ParseMetadata = %+v, want nil when under 2 valid tags", m)
	}
}

func TestParseMetadata_CodeFenceWrapped(t *testing.T) {
	content := "Here you go:\n```json\n{\"name\": \"Search Engine Bridge\", \"description\": \"Queries external search engines. Returns ranked snippets.\", \"tags\": [\"search\", \"web-scraping\"]}\n```"

	if m := ParseMetadata(content, false); m == nil {
		t.Error("ParseMetadata returned nil for fenced JSON")
	}
}

func TestParseMetadata_ReasoningPreamble(t *testing.T) {
	content := "Let me think about what this server does. It clearly handles payments.\n" +
		`{"name": "Payment Gateway Link", "description": "Processes card payments via hosted checkout. Handles refunds too.", "tags": ["payment", "billing"]}`

	if m := ParseMetadata(content, true); m == nil {
		t.Error("ParseMetadata returned nil for reasoning output with preamble")
	}
}

func TestParseMetadata_MissingKeys(t *testing.T) {
	tests := []string{
		`{"description": "Long enough description right here.", "tags": ["a-tag", "b-tag"]}`,
		`{"name": "Some Name", "tags": ["a-tag", "b-tag"]}`,
		`{"name": "Some Name", "description": "Long enough description right here."}`,
		`{"name": "Some Name", "description": "Long enough description right here.", "tags": "not-a-list"}`,
		`not json at all`,
	}
	for _, content := range tests {
		if m := ParseMetadata(content, false); m != nil {
			t.Errorf("ParseMetadata(%q) = %+v, want nil", content, m)
		}
	}
}
