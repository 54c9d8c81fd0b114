package agent

import (
	"encoding/json"

	"github.com/alihassan-coder/perplexity2-agent/internal/search"
)

// citationExcerptLimit caps the excerpt length carried on a citation.
// Longer content is cut and suffixed with "..." so the UI payload stays
// small; the full text still reaches the model via the tool message.
const citationExcerptLimit = 200

// Citation is a single source reference surfaced alongside an answer.
type Citation struct {
	URL     string `json:"url"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
}

// extractCitations turns a search tool's raw JSON result into citation
// records. Records without a URL are dropped, result order is preserved,
// and excerpts are truncated. Tools other than web search yield no
// citations, as do results that fail to parse.
func extractCitations(toolName, raw string) []Citation {
	if toolName != search.ToolName {
		return nil
	}

	var records []struct {
		URL     string `json:"url"`
		Title   string `json:"title"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		return nil
	}

	var citations []Citation
	for _, r := range records {
		if r.URL == "" {
			continue
		}
		c := Citation{URL: r.URL, Title: r.Title, Content: r.Content}
		if len(c.Content) > citationExcerptLimit {
			c.Content = c.Content[:citationExcerptLimit] + "..."
		}
		citations = append(citations, c)
	}
	return citations
}
