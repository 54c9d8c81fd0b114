package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/alihassan-coder/perplexity2-agent/internal/events"
	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
	"github.com/alihassan-coder/perplexity2-agent/internal/prompts"
	"github.com/alihassan-coder/perplexity2-agent/internal/session"
)

// serializedTailLimit bounds the serialized older-message segment handed
// to the summarizer. The tail is kept, not the head, so the most recent
// exchanges dominate the refreshed summary.
const serializedTailLimit = 4000

// buildContext assembles the bounded model context for one turn of a
// session: the active system message, the running summary injected as a
// synthetic system message, and the most recent window of history. When
// the history has outgrown the summary trigger, the older portion is
// folded into the summary first; that refresh can fail, which aborts
// the turn.
func (l *Loop) buildContext(ctx context.Context, key string) ([]llm.Message, error) {
	sess := l.sessions.Get(key)

	// The first system message in history overrides the default persona.
	system := prompts.BaseSystemPrompt()
	systemSet := false
	var history []session.Message
	for _, m := range sess.Messages {
		if m.Role == "system" {
			if !systemSet {
				system = m.Content
				systemSet = true
			}
			continue
		}
		history = append(history, m)
	}

	recent := history
	var older []session.Message
	if len(history) > l.summaryTrigger {
		older = history[:len(history)-l.recentWindow]
		recent = history[len(history)-l.recentWindow:]
	}

	summary := sess.Summary
	if len(older) > 0 {
		refreshed, err := l.summarizer.Summarize(ctx, summary, serializeMessages(older))
		if err != nil {
			return nil, err
		}
		summary = refreshed
		l.sessions.SetSummary(key, summary)
		if l.archive != nil {
			if err := l.archive.SetSummary(key, summary); err != nil {
				l.logger.Warn("archive summary write failed", "session", key, "error", err)
			}
		}
		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindSummaryRefresh,
			Data:   map[string]any{"session": key, "summary_len": len(summary)},
		})
	}

	messages := []llm.Message{{Role: "system", Content: system}}
	if summary != "" {
		messages = append(messages, llm.Message{
			Role:    "system",
			Content: prompts.SummaryContext(summary),
		})
	}
	if len(recent) > l.recentWindow {
		recent = recent[len(recent)-l.recentWindow:]
	}
	for _, m := range recent {
		messages = append(messages, llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}
	return messages, nil
}

// serializeMessages flattens messages into "role: content" lines for the
// summarizer, keeping only the last serializedTailLimit characters of
// the joined text.
func serializeMessages(msgs []session.Message) string {
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, fmt.Sprintf("%s: %s", m.Role, m.Content))
	}
	joined := strings.Join(lines, "\n")
	if len(joined) > serializedTailLimit {
		joined = joined[len(joined)-serializedTailLimit:]
	}
	return joined
}
