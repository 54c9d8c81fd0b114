package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
	"github.com/alihassan-coder/perplexity2-agent/internal/search"
	"github.com/alihassan-coder/perplexity2-agent/internal/session"
	"github.com/alihassan-coder/perplexity2-agent/internal/tools"
)

// mockLLM returns canned responses in order, recording every request.
// When the canned list runs out it keeps returning the last response.
type mockLLM struct {
	mu        sync.Mutex
	responses []*llm.ChatResponse
	calls     [][]llm.Message
	err       error
}

func (m *mockLLM) Chat(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any) (*llm.ChatResponse, error) {
	return m.ChatStream(ctx, model, messages, toolDefs, nil)
}

func (m *mockLLM) ChatStream(ctx context.Context, model string, messages []llm.Message, toolDefs []map[string]any, callback llm.StreamCallback) (*llm.ChatResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, messages)
	n := len(m.calls)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return nil, errors.New("mockLLM: no canned responses")
	}
	idx := n - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	resp := m.responses[idx]
	if callback != nil && resp.Message.Content != "" {
		callback(llm.StreamEvent{Kind: llm.KindToken, Token: resp.Message.Content})
	}
	return resp, nil
}

func (m *mockLLM) Ping(ctx context.Context) error { return nil }

func (m *mockLLM) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func textResponse(content string) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model:   "test-model",
		Message: llm.Message{Role: "assistant", Content: content},
		Done:    true,
	}
}

func toolCallResponse(id, name string, args map[string]any) *llm.ChatResponse {
	return &llm.ChatResponse{
		Model: "test-model",
		Message: llm.Message{
			Role:      "assistant",
			ToolCalls: []llm.ToolCall{llm.NewToolCall(id, name, args)},
		},
		Done: true,
	}
}

// searchRegistry returns a registry whose web search tool records the
// arguments it saw and returns raw as its result.
func searchRegistry(raw string, gotArgs *map[string]any) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name:        search.ToolName,
		Description: "Search the web.",
		Parameters:  search.ToolDefinition(),
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if gotArgs != nil {
				*gotArgs = args
			}
			return raw, nil
		},
	})
	return reg
}

func newTestLoop(client llm.Client, reg *tools.Registry) (*Loop, *session.Store) {
	store := session.NewStore()
	if reg == nil {
		reg = tools.NewRegistry()
	}
	l := NewLoop(Config{
		LLM:      client,
		Model:    "test-model",
		Sessions: store,
		Registry: reg,
	})
	return l, store
}

func TestRunWithoutToolCalls(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("Hello there.")}}
	l, store := newTestLoop(mock, nil)

	resp, err := l.Run(context.Background(), &Request{Message: "hi", SessionKey: "s1"}, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "Hello there." {
		t.Errorf("Content = %q, want %q", resp.Content, "Hello there.")
	}
	if len(resp.Citations) != 0 {
		t.Errorf("expected no citations, got %d", len(resp.Citations))
	}

	sess := store.Get("s1")
	if len(sess.Messages) != 2 {
		t.Fatalf("history length = %d, want 2", len(sess.Messages))
	}
	if sess.Messages[0].Role != "user" || sess.Messages[0].Content != "hi" {
		t.Errorf("first message = %+v, want user/hi", sess.Messages[0])
	}
	if sess.Messages[1].Role != "assistant" || sess.Messages[1].Content != "Hello there." {
		t.Errorf("second message = %+v, want assistant reply", sess.Messages[1])
	}
}

func TestDefaultSessionKey(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("ok")}}
	l, store := newTestLoop(mock, nil)

	if _, err := l.Run(context.Background(), &Request{Message: "hi"}, nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := store.Get(DefaultSessionKey); len(got.Messages) != 2 {
		t.Errorf("default session history = %d messages, want 2", len(got.Messages))
	}
}

func TestToolCallCorrelationAndTermination(t *testing.T) {
	raw := `[{"url":"https://example.com/paris","title":"Paris","content":"Capital of France."}]`
	var gotArgs map[string]any
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", search.ToolName, map[string]any{"query": "capital of France"}),
		textResponse("Paris is the capital of France."),
	}}
	l, store := newTestLoop(mock, searchRegistry(raw, &gotArgs))

	resp, err := l.Run(context.Background(), &Request{Message: "capital of France?", SessionKey: "s1"}, nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "Paris is the capital of France." {
		t.Errorf("Content = %q", resp.Content)
	}
	if gotArgs["query"] != "capital of France" {
		t.Errorf("tool saw args %v", gotArgs)
	}
	if len(resp.Citations) != 1 || resp.Citations[0].URL != "https://example.com/paris" {
		t.Errorf("Citations = %+v", resp.Citations)
	}
	if mock.callCount() != 2 {
		t.Errorf("model calls = %d, want 2", mock.callCount())
	}

	// History: user, assistant(tool call), tool result, assistant answer.
	sess := store.Get("s1")
	if len(sess.Messages) != 4 {
		t.Fatalf("history length = %d, want 4", len(sess.Messages))
	}
	assistant := sess.Messages[1]
	if len(assistant.ToolCalls) != 1 || assistant.ToolCalls[0].ID != "call_1" {
		t.Fatalf("assistant tool calls = %+v", assistant.ToolCalls)
	}
	toolMsg := sess.Messages[2]
	if toolMsg.Role != "tool" {
		t.Errorf("third message role = %q, want tool", toolMsg.Role)
	}
	if toolMsg.ToolCallID != "call_1" {
		t.Errorf("tool message call id = %q, want call_1", toolMsg.ToolCallID)
	}
	if toolMsg.Content != raw {
		t.Errorf("tool message content = %q", toolMsg.Content)
	}
}

func TestFirstToolCallOnly(t *testing.T) {
	var executions int
	reg := tools.NewRegistry()
	reg.Register(&tools.Tool{
		Name: search.ToolName,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			executions++
			return "[]", nil
		},
	})

	multi := &llm.ChatResponse{
		Message: llm.Message{
			Role: "assistant",
			ToolCalls: []llm.ToolCall{
				llm.NewToolCall("call_a", search.ToolName, map[string]any{"query": "first"}),
				llm.NewToolCall("call_b", search.ToolName, map[string]any{"query": "second"}),
			},
		},
	}
	mock := &mockLLM{responses: []*llm.ChatResponse{multi, textResponse("done")}}
	l, _ := newTestLoop(mock, reg)

	if _, err := l.Run(context.Background(), &Request{Message: "q", SessionKey: "s1"}, nil); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if executions != 1 {
		t.Errorf("tool executions = %d, want 1", executions)
	}
}

func TestUnknownToolAbortsTurn(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", "teleport", map[string]any{"to": "Paris"}),
	}}
	l, store := newTestLoop(mock, nil)

	_, err := l.Run(context.Background(), &Request{Message: "go", SessionKey: "s1"}, nil)
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}

	// Appends committed before the failure stay committed.
	sess := store.Get("s1")
	if len(sess.Messages) != 2 {
		t.Errorf("history length = %d, want 2 (user + assistant)", len(sess.Messages))
	}
}

func TestMalformedToolCall(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", "", nil),
	}}
	l, _ := newTestLoop(mock, nil)

	_, err := l.Run(context.Background(), &Request{Message: "q", SessionKey: "s1"}, nil)
	if !errors.Is(err, ErrMalformedToolCall) {
		t.Fatalf("err = %v, want ErrMalformedToolCall", err)
	}
}

func TestToolCallMissingID(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("", search.ToolName, map[string]any{"query": "q"}),
	}}
	l, _ := newTestLoop(mock, searchRegistry("[]", nil))

	_, err := l.Run(context.Background(), &Request{Message: "q", SessionKey: "s1"}, nil)
	if !errors.Is(err, ErrMalformedToolCall) {
		t.Fatalf("err = %v, want ErrMalformedToolCall", err)
	}
}

func TestToolTurnLimit(t *testing.T) {
	// The model never stops asking for searches.
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", search.ToolName, map[string]any{"query": "again"}),
	}}
	store := session.NewStore()
	l := NewLoop(Config{
		LLM:          mock,
		Model:        "test-model",
		Sessions:     store,
		Registry:     searchRegistry("[]", nil),
		MaxToolTurns: 3,
	})

	_, err := l.Run(context.Background(), &Request{Message: "q", SessionKey: "s1"}, nil)
	if !errors.Is(err, ErrToolTurnLimit) {
		t.Fatalf("err = %v, want ErrToolTurnLimit", err)
	}
	// Three tool turns ran, then the fourth model response tripped the cap.
	if mock.callCount() != 4 {
		t.Errorf("model calls = %d, want 4", mock.callCount())
	}
}

func TestModelErrorPropagates(t *testing.T) {
	mock := &mockLLM{err: errors.New("upstream down")}
	l, _ := newTestLoop(mock, nil)

	_, err := l.Run(context.Background(), &Request{Message: "q", SessionKey: "s1"}, nil)
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Fatalf("err = %v, want wrapped upstream error", err)
	}
}

func drainEvents(t *testing.T, stream *EventStreamer) func() []Event {
	t.Helper()
	var mu sync.Mutex
	var got []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range stream.Events() {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		}
	}()
	return func() []Event {
		<-done
		mu.Lock()
		defer mu.Unlock()
		return got
	}
}

func TestStreamEventOrder(t *testing.T) {
	raw := `[{"url":"https://example.com/paris","title":"Paris","content":"Capital of France."}]`
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", search.ToolName, map[string]any{"query": "capital of France"}),
		textResponse("Paris is the capital of France."),
	}}
	l, _ := newTestLoop(mock, searchRegistry(raw, nil))

	stream := NewEventStreamer(context.Background(), 4)
	collect := drainEvents(t, stream)

	resp, err := l.Run(context.Background(), &Request{Message: "capital of France?", SessionKey: "s1"}, stream)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if resp.Content != "Paris is the capital of France." {
		t.Errorf("Content = %q", resp.Content)
	}

	got := collect()
	var kinds []string
	var content strings.Builder
	for _, e := range got {
		switch e.Type {
		case EventStatus:
			kinds = append(kinds, e.Stage)
			if e.Stage == StageSearching && e.Tool != search.ToolName {
				t.Errorf("searching event Tool = %q, want %q", e.Tool, search.ToolName)
			}
		case EventContent:
			kinds = append(kinds, "content")
			content.WriteString(e.Content)
		default:
			kinds = append(kinds, e.Type)
		}
	}

	want := []string{
		StageInitializing,
		StageThinking,
		StageSearching,
		"urls",
		StageProcessing,
		StageThinking,
		"content",
		StageFinalizing,
	}
	if fmt.Sprint(kinds) != fmt.Sprint(want) {
		t.Errorf("event order = %v, want %v", kinds, want)
	}
	if content.String() != "Paris is the capital of France." {
		t.Errorf("streamed content = %q", content.String())
	}
}

func TestStreamErrorEvent(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{
		toolCallResponse("call_1", "teleport", nil),
	}}
	l, _ := newTestLoop(mock, nil)

	stream := NewEventStreamer(context.Background(), 4)
	collect := drainEvents(t, stream)

	_, err := l.Run(context.Background(), &Request{Message: "q", SessionKey: "s1"}, stream)
	if !errors.Is(err, tools.ErrUnknownTool) {
		t.Fatalf("err = %v, want ErrUnknownTool", err)
	}

	got := collect()
	errorEvents := 0
	for _, e := range got {
		if e.Type == EventError {
			errorEvents++
		}
	}
	if errorEvents != 1 {
		t.Errorf("error events = %d, want exactly 1", errorEvents)
	}
	if last := got[len(got)-1]; last.Type != EventError {
		t.Errorf("last event = %+v, want the error event", last)
	}
}

func TestConcurrentSessionsIndependent(t *testing.T) {
	mock := &mockLLM{responses: []*llm.ChatResponse{textResponse("reply")}}
	l, store := newTestLoop(mock, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("s%d", i)
			if _, err := l.Run(context.Background(), &Request{Message: "hi", SessionKey: key}, nil); err != nil {
				t.Errorf("Run(%s) error: %v", key, err)
			}
		}()
	}
	wg.Wait()

	for i := range 8 {
		key := fmt.Sprintf("s%d", i)
		if got := store.Get(key); len(got.Messages) != 2 {
			t.Errorf("session %s history = %d, want 2", key, len(got.Messages))
		}
	}
}
