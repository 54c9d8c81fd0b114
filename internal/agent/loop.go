// Package agent implements the core agent loop: a state machine that
// alternates model calls and web tool executions until the model
// produces an answer with no further tool requests.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/alihassan-coder/perplexity2-agent/internal/events"
	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
	"github.com/alihassan-coder/perplexity2-agent/internal/search"
	"github.com/alihassan-coder/perplexity2-agent/internal/session"
	"github.com/alihassan-coder/perplexity2-agent/internal/tools"
)

// DefaultSessionKey is used when a request carries no checkpoint_id.
// All such requests share one conversation, so unrelated callers can
// see each other's history. Kept for interface compatibility; clients
// that need isolation must send their own key.
const DefaultSessionKey = "1"

// Defaults for the context and iteration bounds.
const (
	DefaultRecentWindow   = 8
	DefaultSummaryTrigger = 12
	DefaultMaxToolTurns   = 10
)

// Request is one user turn against a session.
type Request struct {
	Message string `json:"message"`
	// SessionKey selects the conversation (the checkpoint_id of the
	// HTTP API). Empty means DefaultSessionKey.
	SessionKey string `json:"checkpoint_id,omitempty"`
	// Model overrides the loop's default model when set.
	Model string `json:"model,omitempty"`
}

// Response is the completed result of a turn.
type Response struct {
	Content   string     `json:"response"`
	Citations []Citation `json:"citations,omitempty"`
	Model     string     `json:"model,omitempty"`

	InputTokens  int `json:"-"`
	OutputTokens int `json:"-"`
}

// Config carries the loop's dependencies and tuning knobs. Zero-value
// bounds fall back to the defaults above.
type Config struct {
	Logger   *slog.Logger
	LLM      llm.Client
	Model    string
	Sessions *session.Store
	Archive  *session.Archive
	Registry *tools.Registry
	Bus      *events.Bus

	RecentWindow   int
	SummaryTrigger int
	MaxToolTurns   int
}

// Loop is the core agent execution loop. One Loop serves all sessions;
// per-session turn locks keep concurrent requests against the same key
// from interleaving.
type Loop struct {
	logger     *slog.Logger
	llm        llm.Client
	model      string
	sessions   *session.Store
	archive    *session.Archive
	registry   *tools.Registry
	summarizer *Summarizer
	bus        *events.Bus

	recentWindow   int
	summaryTrigger int
	maxToolTurns   int
}

// NewLoop creates an agent loop from cfg.
func NewLoop(cfg Config) *Loop {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		logger:         logger.With("component", "agent"),
		llm:            cfg.LLM,
		model:          cfg.Model,
		sessions:       cfg.Sessions,
		archive:        cfg.Archive,
		registry:       cfg.Registry,
		bus:            cfg.Bus,
		recentWindow:   cfg.RecentWindow,
		summaryTrigger: cfg.SummaryTrigger,
		maxToolTurns:   cfg.MaxToolTurns,
	}
	if l.recentWindow <= 0 {
		l.recentWindow = DefaultRecentWindow
	}
	if l.summaryTrigger <= 0 {
		l.summaryTrigger = DefaultSummaryTrigger
	}
	if l.maxToolTurns <= 0 {
		l.maxToolTurns = DefaultMaxToolTurns
	}
	l.summarizer = NewSummarizer(cfg.LLM, cfg.Model, logger)
	return l
}

// Run executes one turn: append the user message, then alternate model
// and tool states until the model answers without requesting a tool,
// or the tool turn cap trips. When stream is non-nil, progress and
// content events are emitted as the turn advances; the caller is
// responsible for draining the stream concurrently.
//
// When the model requests several tool calls at once, only the first is
// executed; the rest are dropped and logged. Errors abort the turn, but
// messages already appended to the session stay appended.
//
// Run emits at most one error event on the stream and always closes it
// before returning.
func (l *Loop) Run(ctx context.Context, req *Request, stream *EventStreamer) (*Response, error) {
	if stream != nil {
		defer stream.Close()
	}

	key := req.SessionKey
	if key == "" {
		key = DefaultSessionKey
	}
	model := req.Model
	if model == "" {
		model = l.model
	}
	requestID := uuid.NewString()
	logger := l.logger.With("request_id", requestID, "session", key)

	unlock := l.sessions.Lock(key)
	defer unlock()

	logger.Info("turn started", "model", model, "message_len", len(req.Message))
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestStart,
		Data:   map[string]any{"request_id": requestID, "session": key},
	})
	stream.Status(StageInitializing, "Starting request")

	l.append(key, session.Message{Role: "user", Content: req.Message})

	resp, err := l.run(ctx, key, model, requestID, logger, stream)
	if err != nil {
		logger.Error("turn failed", "error", err)
		stream.Error(err)
		l.bus.Publish(events.Event{
			Source: events.SourceAgent,
			Kind:   events.KindRequestComplete,
			Data:   map[string]any{"request_id": requestID, "session": key, "error": err.Error()},
		})
		return nil, err
	}

	logger.Info("turn completed",
		"citations", len(resp.Citations),
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
	)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindRequestComplete,
		Data: map[string]any{
			"request_id":    requestID,
			"session":       key,
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		},
	})
	return resp, nil
}

func (l *Loop) run(ctx context.Context, key, model, requestID string, logger *slog.Logger, stream *EventStreamer) (*Response, error) {
	resp := &Response{Model: model}

	for turn := 0; ; turn++ {
		messages, err := l.buildContext(ctx, key)
		if err != nil {
			return nil, err
		}

		stream.Status(StageThinking, "Generating response")
		chatResp, err := l.chat(ctx, model, messages, stream)
		if err != nil {
			return nil, fmt.Errorf("model call: %w", err)
		}
		resp.InputTokens += chatResp.InputTokens
		resp.OutputTokens += chatResp.OutputTokens

		assistant := session.Message{
			Role:      "assistant",
			Content:   chatResp.Message.Content,
			ToolCalls: chatResp.Message.ToolCalls,
		}
		l.append(key, assistant)

		if len(assistant.ToolCalls) == 0 {
			resp.Content = assistant.Content
			break
		}
		if turn >= l.maxToolTurns {
			return nil, fmt.Errorf("%w after %d turns", ErrToolTurnLimit, l.maxToolTurns)
		}

		if dropped := len(assistant.ToolCalls) - 1; dropped > 0 {
			logger.Warn("dropping extra tool calls", "dropped", dropped)
		}
		citations, err := l.toolTurn(ctx, key, assistant.ToolCalls[0], requestID, logger, stream)
		if err != nil {
			return nil, err
		}
		// Each tool turn replaces the citation set; the final answer
		// cites only its last search.
		resp.Citations = citations
	}

	stream.Status(StageFinalizing, "Finalizing answer")
	return resp, nil
}

// chat calls the model, streaming tokens through to the event stream
// when one is attached.
func (l *Loop) chat(ctx context.Context, model string, messages []llm.Message, stream *EventStreamer) (*llm.ChatResponse, error) {
	toolDefs := l.registry.List()

	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLLMCall,
		Data:   map[string]any{"model": model, "messages": len(messages)},
	})

	var resp *llm.ChatResponse
	var err error
	if stream != nil {
		resp, err = l.llm.ChatStream(ctx, model, messages, toolDefs, func(e llm.StreamEvent) {
			if e.Kind == llm.KindToken {
				stream.Content(e.Token)
			}
		})
	} else {
		resp, err = l.llm.Chat(ctx, model, messages, toolDefs)
	}
	if err != nil {
		return nil, err
	}

	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindLLMResponse,
		Data: map[string]any{
			"model":         model,
			"tool_calls":    len(resp.Message.ToolCalls),
			"input_tokens":  resp.InputTokens,
			"output_tokens": resp.OutputTokens,
		},
	})
	return resp, nil
}

// toolTurn executes one tool call and appends its result to the session
// under the originating call ID.
func (l *Loop) toolTurn(ctx context.Context, key string, tc llm.ToolCall, requestID string, logger *slog.Logger, stream *EventStreamer) ([]Citation, error) {
	name := tc.Function.Name
	if name == "" {
		return nil, ErrMalformedToolCall
	}
	callID := tc.ID
	if callID == "" {
		return nil, ErrMalformedToolCall
	}

	if name == search.ToolName {
		query, _ := tc.Function.Arguments["query"].(string)
		stream.Searching(name, "Searching the web for: "+query)
	} else {
		stream.Searching(name, "Running "+name)
	}

	logger.Debug("executing tool", "tool", name, "call_id", callID)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolCall,
		Data:   map[string]any{"request_id": requestID, "tool": name, "call_id": callID},
	})

	result, err := l.registry.Execute(ctx, name, tc.Function.Arguments)
	l.bus.Publish(events.Event{
		Source: events.SourceAgent,
		Kind:   events.KindToolDone,
		Data:   map[string]any{"request_id": requestID, "tool": name, "call_id": callID, "ok": err == nil},
	})
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}

	l.append(key, session.Message{
		Role:       "tool",
		Content:    result,
		ToolCallID: callID,
	})

	citations := extractCitations(name, result)
	stream.URLs(citations)
	stream.Status(StageProcessing, "Processing results")
	return citations, nil
}

// append writes messages to the in-memory store and, best effort, to
// the archive.
func (l *Loop) append(key string, msgs ...session.Message) {
	l.sessions.Append(key, msgs...)
	if l.archive != nil {
		if err := l.archive.RecordMessages(key, msgs...); err != nil {
			l.logger.Warn("archive write failed", "session", key, "error", err)
		}
	}
}

// SessionStats exposes store counters for diagnostics.
func (l *Loop) SessionStats() map[string]any {
	return l.sessions.Stats()
}
