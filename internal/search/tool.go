package search

import (
	"context"
	"encoding/json"
	"fmt"
)

// ToolName is the name under which the search capability is exposed to
// the model.
const ToolName = "web_search"

// ToolHandler returns a function compatible with the tools.Tool Handler
// signature. It wraps the Manager's search method for use as an agent tool.
// The handler returns the result list JSON-encoded so the agent can
// extract citation records from it.
func ToolHandler(mgr *Manager) func(ctx context.Context, args map[string]any) (string, error) {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, _ := args["query"].(string)
		if query == "" {
			return "", fmt.Errorf("%s: query is required", ToolName)
		}

		opts := Options{}
		if count, ok := args["count"].(float64); ok && count > 0 {
			opts.Count = int(count)
		}

		results, err := mgr.Search(ctx, query, opts)
		if err != nil {
			return "", err
		}

		out, err := json.Marshal(results)
		if err != nil {
			return FormatResults(results, len(results)), nil
		}
		return string(out), nil
	}
}

// ToolDefinition returns the JSON Schema parameters for the web_search tool.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query string.",
			},
			"count": map[string]any{
				"type":        "integer",
				"description": "Maximum number of results to return (1-10). Default: 8.",
			},
		},
		"required": []string{"query"},
	}
}
