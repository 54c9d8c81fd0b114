package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
	"github.com/alihassan-coder/perplexity2-agent/internal/prompts"
)

// Summarizer maintains the rolling conversation summary. Each refresh
// regenerates the whole summary from the existing one plus the new
// segment; nothing is ever appended in place.
type Summarizer struct {
	llm    llm.Client
	model  string
	logger *slog.Logger
}

// NewSummarizer creates a summarizer that uses the given model.
func NewSummarizer(client llm.Client, model string, logger *slog.Logger) *Summarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{
		llm:    client,
		model:  model,
		logger: logger.With("component", "summarizer"),
	}
}

// Summarize folds segment into the existing summary and returns the
// regenerated text. A blank or whitespace-only segment returns the
// existing summary unchanged without calling the model. A model failure
// propagates to the caller; the turn that triggered the refresh aborts.
func (s *Summarizer) Summarize(ctx context.Context, existing, segment string) (string, error) {
	if strings.TrimSpace(segment) == "" {
		return existing, nil
	}

	messages := []llm.Message{
		{Role: "system", Content: prompts.SummarizerSystemPrompt},
		{Role: "user", Content: prompts.SummaryMergePrompt(existing, segment)},
	}

	s.logger.Debug("refreshing summary",
		"existing_len", len(existing),
		"segment_len", len(segment),
	)

	resp, err := s.llm.Chat(ctx, s.model, messages, nil)
	if err != nil {
		return "", fmt.Errorf("summary refresh: %w", err)
	}

	summary := strings.TrimSpace(resp.Message.Content)
	s.logger.Debug("summary refreshed", "summary_len", len(summary))
	return summary, nil
}
