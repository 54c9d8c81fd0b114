package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
)

func TestSummarizeBlankSegmentSkipsModel(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("should not be called")}}
	s := NewSummarizer(mock, "test-model", nil)

	existing := "The user likes terse answers."
	for _, segment := range []string{"", "   ", "\n\t "} {
		got, err := s.Summarize(context.Background(), existing, segment)
		if err != nil {
			t.Fatalf("Summarize(%q) error: %v", segment, err)
		}
		if got != existing {
			t.Errorf("Summarize(%q) = %q, want existing summary unchanged", segment, got)
		}
	}
	if mock.callCount() != 0 {
		t.Errorf("model calls = %d, want 0", mock.callCount())
	}
}

func TestSummarizeMergesSegment(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("  merged summary \n")}}
	s := NewSummarizer(mock, "test-model", nil)

	got, err := s.Summarize(context.Background(), "old summary", "user: what is Go?")
	if err != nil {
		t.Fatalf("Summarize() error: %v", err)
	}
	if got != "merged summary" {
		t.Errorf("Summarize() = %q, want trimmed model output", got)
	}
	if mock.callCount() != 1 {
		t.Fatalf("model calls = %d, want 1", mock.callCount())
	}
	prompt := mock.calls[0][1].Content
	if !strings.Contains(prompt, "old summary") || !strings.Contains(prompt, "what is Go?") {
		t.Errorf("merge prompt missing inputs: %q", prompt)
	}
}

func TestSummarizeModelFailure(t *testing.T) {
	mock := &mockLLM{err: errors.New("rate limited")}
	s := NewSummarizer(mock, "test-model", nil)

	_, err := s.Summarize(context.Background(), "old", "new segment")
	if err == nil || !strings.Contains(err.Error(), "rate limited") {
		t.Fatalf("err = %v, want wrapped model failure", err)
	}
}
