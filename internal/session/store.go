// Package session provides keyed conversation state: message history
// and the running summary for each session, plus per-session turn
// serialization so concurrent requests against the same key cannot
// interleave their history appends.
package session

import (
	"sync"
	"time"

	"github.com/alihassan-coder/perplexity2-agent/internal/llm"
)

// Message is a single entry in a session's history.
type Message struct {
	Role       string         `json:"role"` // system, user, assistant, tool
	Content    string         `json:"content"`
	ToolCalls  []llm.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // For tool responses
	Timestamp  time.Time      `json:"timestamp"`
}

// Session holds the state of a single conversation. Sessions live for
// the lifetime of the process; eviction is someone else's problem.
type Session struct {
	Key       string    `json:"key"`
	Messages  []Message `json:"messages"`
	Summary   string    `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store manages in-memory session state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	// turnLocks serializes agent turns per session key. Held across a
	// whole turn (model calls included), so it is separate from mu,
	// which only guards map access and must never be held that long.
	lockMu    sync.Mutex
	turnLocks map[string]*sync.Mutex
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions:  make(map[string]*Session),
		turnLocks: make(map[string]*sync.Mutex),
	}
}

// Get returns a snapshot of the session for key, creating an empty
// session (no system message, empty summary) if none exists.
func (s *Store) Get(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(key).copy()
}

func (s *Store) getOrCreateLocked(key string) *Session {
	sess, ok := s.sessions[key]
	if !ok {
		now := time.Now()
		sess = &Session{
			Key:       key,
			Messages:  []Message{},
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.sessions[key] = sess
	}
	return sess
}

// Append adds messages to a session's history, preserving order.
// The session is created if it does not exist.
func (s *Store) Append(key string, msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key)
	now := time.Now()
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		sess.Messages = append(sess.Messages, m)
	}
	sess.UpdatedAt = now
}

// SetSummary atomically replaces the running summary for a session.
func (s *Store) SetSummary(key, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(key)
	sess.Summary = text
	sess.UpdatedAt = time.Now()
}

// Lock acquires the turn lock for a session key and returns the
// release function. Exactly one turn runs per session at a time;
// turns for different keys proceed independently.
func (s *Store) Lock(key string) (unlock func()) {
	s.lockMu.Lock()
	l, ok := s.turnLocks[key]
	if !ok {
		l = &sync.Mutex{}
		s.turnLocks[key] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Keys returns all session keys, in no particular order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.sessions))
	for k := range s.sessions {
		keys = append(keys, k)
	}
	return keys
}

// Stats returns store-wide counters for diagnostics.
func (s *Store) Stats() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totalMessages := 0
	for _, sess := range s.sessions {
		totalMessages += len(sess.Messages)
	}
	return map[string]any{
		"sessions": len(s.sessions),
		"messages": totalMessages,
	}
}

func (sess *Session) copy() *Session {
	msgs := make([]Message, len(sess.Messages))
	copy(msgs, sess.Messages)
	return &Session{
		Key:       sess.Key,
		Messages:  msgs,
		Summary:   sess.Summary,
		CreatedAt: sess.CreatedAt,
		UpdatedAt: sess.UpdatedAt,
	}
}
