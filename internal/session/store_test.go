package session

import (
	"fmt"
	"sync"
	"testing"
)

func TestGetCreatesEmptySession(t *testing.T) {
	store := NewStore()
	sess := store.Get("abc")

	if sess.Key != "abc" {
		t.Errorf("expected key abc, got %q", sess.Key)
	}
	if len(sess.Messages) != 0 {
		t.Errorf("expected empty history, got %d messages", len(sess.Messages))
	}
	if sess.Summary != "" {
		t.Errorf("expected empty summary, got %q", sess.Summary)
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	store := NewStore()
	for i := 0; i < 10; i++ {
		store.Append("s", Message{Role: "user", Content: fmt.Sprintf("msg-%d", i)})
	}

	sess := store.Get("s")
	if len(sess.Messages) != 10 {
		t.Fatalf("expected 10 messages, got %d", len(sess.Messages))
	}
	for i, m := range sess.Messages {
		if want := fmt.Sprintf("msg-%d", i); m.Content != want {
			t.Errorf("message %d: got %q, want %q", i, m.Content, want)
		}
	}
}

func TestSetSummaryReplaces(t *testing.T) {
	store := NewStore()
	store.SetSummary("s", "first")
	store.SetSummary("s", "second")

	if got := store.Get("s").Summary; got != "second" {
		t.Errorf("expected summary replaced, got %q", got)
	}
}

func TestGetReturnsSnapshot(t *testing.T) {
	store := NewStore()
	store.Append("s", Message{Role: "user", Content: "hello"})

	sess := store.Get("s")
	sess.Messages[0].Content = "mutated"
	sess.Summary = "mutated"

	fresh := store.Get("s")
	if fresh.Messages[0].Content != "hello" {
		t.Error("snapshot mutation leaked into store")
	}
	if fresh.Summary != "" {
		t.Error("summary mutation leaked into store")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store := NewStore()
	store.Append("a", Message{Role: "user", Content: "for a"})
	store.Append("b", Message{Role: "user", Content: "for b"})

	if n := len(store.Get("a").Messages); n != 1 {
		t.Errorf("session a: expected 1 message, got %d", n)
	}
	if got := store.Get("b").Messages[0].Content; got != "for b" {
		t.Errorf("session b: got %q", got)
	}
}

func TestLockSerializesTurnsPerKey(t *testing.T) {
	store := NewStore()

	// Each goroutine appends a marker pair under the turn lock. If the
	// lock serializes properly, pairs are never interleaved.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			unlock := store.Lock("s")
			defer unlock()
			store.Append("s", Message{Role: "user", Content: fmt.Sprintf("u-%d", i)})
			store.Append("s", Message{Role: "assistant", Content: fmt.Sprintf("a-%d", i)})
		}(i)
	}
	wg.Wait()

	msgs := store.Get("s").Messages
	if len(msgs) != 40 {
		t.Fatalf("expected 40 messages, got %d", len(msgs))
	}
	for i := 0; i < len(msgs); i += 2 {
		if msgs[i].Role != "user" || msgs[i+1].Role != "assistant" {
			t.Fatalf("interleaved pair at %d: %s/%s", i, msgs[i].Role, msgs[i+1].Role)
		}
		// The assistant message must answer the user message of the
		// same turn.
		if msgs[i].Content[2:] != msgs[i+1].Content[2:] {
			t.Fatalf("mismatched pair at %d: %q vs %q", i, msgs[i].Content, msgs[i+1].Content)
		}
	}
}

func TestLockDifferentKeysIndependent(t *testing.T) {
	store := NewStore()

	unlockA := store.Lock("a")
	defer unlockA()

	// Locking a different key must not block.
	done := make(chan struct{})
	go func() {
		unlockB := store.Lock("b")
		unlockB()
		close(done)
	}()
	<-done
}

func TestStats(t *testing.T) {
	store := NewStore()
	store.Append("a", Message{Role: "user", Content: "1"})
	store.Append("a", Message{Role: "assistant", Content: "2"})
	store.Append("b", Message{Role: "user", Content: "3"})

	stats := store.Stats()
	if stats["sessions"] != 2 {
		t.Errorf("expected 2 sessions, got %v", stats["sessions"])
	}
	if stats["messages"] != 3 {
		t.Errorf("expected 3 messages, got %v", stats["messages"])
	}
}
