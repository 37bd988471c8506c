package llm

import (
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/catforge/internal/catalog"
)

const (
	maxPromptTools    = 20
	maxToolDescChars  = 200
	promptVocabSample = 30
)

const systemPrompt = "You are a JSON metadata generator. Output ONLY valid JSON, no thinking, no markdown, no explanation. Start with {"

const fallbackSystemPrompt = "You are a JSON metadata generator. Output ONLY valid JSON."

// richContextPrompt builds the generation prompt from a record's actually
// discovered tools. The instructions anchor the model on observed
// behavior rather than the record's marketing copy.
func richContextPrompt(rec catalog.Record, tools []mcp.Tool) string {
	var b strings.Builder
	b.WriteString("\n\nDISCOVERED TOOLS (from spawning the server):")
	for i, t := range tools {
		if i >= maxPromptTools {
			break
		}
		desc := truncateRunes(t.Description, maxToolDescChars)
		if desc != "" {
			fmt.Fprintf(&b, "\n%d. %s: %s", i+1, t.Name, desc)
		} else {
			fmt.Fprintf(&b, "\n%d. %s", i+1, t.Name)
		}
	}

	return fmt.Sprintf(`Generate professional metadata for this MCP server based on its ACTUAL tools.

SERVER INFO:
- Original Name: %q
- Author: %s
- Repository: %s%s

TASK: Create clean metadata that accurately describes what this server does based on the tools above.

RULES:

1. NAME (2-6 words, Title Case):
   - Remove: "MCP", "Server", "by [author]", "| Glama", "| PulseMCP"
   - Describe the core functionality based on tools
   - Examples: "GitHub Repository Access", "PostgreSQL Query Engine", "Echo Testing Utilities"

2. DESCRIPTION (2 sentences, max 200 chars):
   - MUST be based on what the tools actually do
   - First sentence: primary capability
   - Second sentence: key features
   - Be specific and accurate

3. TAGS (2-4 specific lowercase tags):
   - FORBIDDEN: mcp, server, tool, api, client, wrapper, helper, utility
   - Choose tags that match the domain/functionality of the tools
   - Available tags: %s
   - Or create appropriate domain-specific tags

Return ONLY valid JSON (no markdown):
{"name": "Name", "description": "Sentence one. Sentence two.", "tags": ["tag1", "tag2"]}`,
		rec.Name, rec.Namespace, rec.RepoURL, b.String(),
		strings.Join(validTags[:promptVocabSample], ", "))
}

// sparseContextPrompt builds the generation prompt from static naming and
// origin hints only, used when the record could not be spawned.
func sparseContextPrompt(rec catalog.Record) string {
	repoName := ""
	if rec.RepoURL != "" {
		parts := strings.Split(strings.TrimRight(rec.RepoURL, "/"), "/")
		repoName = parts[len(parts)-1]
	}

	return fmt.Sprintf(`Generate professional metadata for this software package.

PACKAGE INFO:
- Original Name: %q
- Name Hint: %q
- Repository Name: %q
- Author: %s
- Repository: %s
- Original Description: %q

The server could not be spawned. Infer functionality from the repository name.

RULES:

1. NAME (2-6 words, Title Case):
   - Derive from repository name
   - Example: "cocktails-rag-mcp" -> "Cocktails Recipe Search"
   - Remove: "MCP", "Server", "-mcp" suffix

2. DESCRIPTION (2 sentences, max 200 chars):
   - Infer from repo name structure
   - Be specific about likely functionality

3. TAGS (2-4 specific lowercase tags):
   - FORBIDDEN: mcp, server, tool, api, client, wrapper, helper, utility
   - Infer from repository name
   - Example: "cocktails-rag-mcp" -> ["recipes", "search", "food"]

Return ONLY valid JSON:
{"name": "Name", "description": "Sentence one. Sentence two.", "tags": ["tag1", "tag2"]}`,
		rec.Name, CleanName(rec.Name), repoName, rec.Namespace, rec.RepoURL, rec.Description)
}
