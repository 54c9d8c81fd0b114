package session

import (
	"path/filepath"
	"testing"

	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := OpenArchive(filepath.Join(t.TempDir(), "archive.db"))
	if err != nil {
		t.Fatalf("OpenArchive failed: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestArchiveTranscriptRoundTrip(t *testing.T) {
	a := openTestArchive(t)

	err := a.RecordMessages("s1",
		Message{Role: "user", Content: "What is the capital of France?"},
		Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{llm.NewToolCall("call-1", "web_search", map[string]any{"query": "capital of France"})},
		},
		Message{Role: "tool", Content: `[{"url":"https://example.com"}]`, ToolCallID: "call-1"},
	)
	if err != nil {
		t.Fatalf("RecordMessages failed: %v", err)
	}

	msgs, err := a.Transcript("s1")
	if err != nil {
		t.Fatalf("Transcript failed: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" || msgs[2].Role != "tool" {
		t.Errorf("order not preserved: %s %s %s", msgs[0].Role, msgs[1].Role, msgs[2].Role)
	}
	if len(msgs[1].ToolCalls) != 1 || msgs[1].ToolCalls[0].Function.Name != "web_search" {
		t.Errorf("tool calls not round-tripped: %+v", msgs[1].ToolCalls)
	}
	if msgs[2].ToolCallID != "call-1" {
		t.Errorf("tool_call_id not round-tripped: %q", msgs[2].ToolCallID)
	}
}

func TestArchiveSummary(t *testing.T) {
	a := openTestArchive(t)

	if err := a.SetSummary("s1", "user likes concise answers"); err != nil {
		t.Fatalf("SetSummary failed: %v", err)
	}
	got, err := a.Summary("s1")
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if got != "user likes concise answers" {
		t.Errorf("unexpected summary %q", got)
	}

	// Unknown session yields empty summary, no error.
	got, err = a.Summary("nope")
	if err != nil || got != "" {
		t.Errorf("expected empty summary for unknown session, got %q, %v", got, err)
	}
}

func TestArchiveSessionsIsolated(t *testing.T) {
	a := openTestArchive(t)

	a.RecordMessages("a", Message{Role: "user", Content: "for a"})
	a.RecordMessages("b", Message{Role: "user", Content: "for b"})

	msgs, err := a.Transcript("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "for a" {
		t.Errorf("unexpected transcript for a: %+v", msgs)
	}
}
