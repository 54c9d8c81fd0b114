package fetch

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolName is the name under which page fetching is exposed to the model.
const ToolName = "web_fetch"

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature.
func ToolHandler(f *Fetcher) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		rawURL, _ := args["url"].(string)
		if rawURL == "" {
			return "", fmt.Errorf("%s: url is required", ToolName)
		}

		maxChars := 0
		if mc, ok := args["max_chars"].(float64); ok && mc > 0 {
			maxChars = int(mc)
		}

		result, err := f.Fetch(ctx, rawURL, maxChars)
		if err != nil {
			return "", err
		}

		out, err := json.Marshal(result)
		if err != nil {
			return result.Content, nil
		}
		return string(out), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_fetch tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The URL of the page to fetch, typically from a web_search result.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters of extracted text to return. Default: 20000.",
			},
		},
		"required": []string{"url"},
	}
}
