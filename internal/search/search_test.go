package search

import (
	"context"
	"encoding/json"
	"testing"
)

// mockProvider is a simple test provider.
type mockProvider struct {
	name    string
	results []Result
	err     error
}

func (m *mockProvider) Name() string { return m.name }
func (m *mockProvider) Search(_ context.Context, _ string, _ Options) ([]Result, error) {
	return m.results, m.err
}

func TestManagerSearch(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{Title: "Test", URL: "https://example.com", Content: "A test result"},
		},
	})

	results, err := mgr.Search(context.Background(), "test", Options{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Title != "Test" {
		t.Errorf("expected title 'Test', got %q", results[0].Title)
	}
}

func TestManagerUnconfigured(t *testing.T) {
	mgr := NewManager("missing")
	_, err := mgr.Search(context.Background(), "test", Options{})
	if err == nil {
		t.Fatal("expected error for missing provider")
	}
}

func TestToolHandlerReturnsJSON(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{
		name: "mock",
		results: []Result{
			{URL: "https://a.com", Title: "A", Content: "alpha"},
			{URL: "https://b.com", Title: "B"},
		},
	})

	handler := ToolHandler(mgr)
	out, err := handler(context.Background(), map[string]any{"query": "test"})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	var results []Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("handler output is not JSON: %v", err)
	}
	if len(results) != 2 || results[0].URL != "https://a.com" {
		t.Errorf("unexpected results %+v", results)
	}
}

func TestToolHandlerRequiresQuery(t *testing.T) {
	mgr := NewManager("mock")
	mgr.Register(&mockProvider{name: "mock"})

	handler := ToolHandler(mgr)
	if _, err := handler(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing query")
	}
}

func TestFormatResults(t *testing.T) {
	results := []Result{
		{Title: "First", URL: "https://a.com", Content: "Snippet A"},
		{Title: "Second", URL: "https://b.com"},
	}
	out := FormatResults(results, 2)
	if out == "" {
		t.Fatal("expected non-empty output")
	}
}

func TestFormatResultsEmpty(t *testing.T) {
	out := FormatResults(nil, 0)
	if out != "No results found." {
		t.Errorf("expected 'No results found.', got %q", out)
	}
}
