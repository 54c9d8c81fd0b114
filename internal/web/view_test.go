package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alihassan-coder/perplexity2-agent/internal/agent"
	"github.com/alihassan-coder/perplexity2-agent/internal/session"
)

func TestTranscriptView(t *testing.T) {
	store := session.NewStore()
	store.Append("abc",
		session.Message{Role: "user", Content: "What is Go?"},
		session.Message{Role: "assistant", Content: "# Go\n\nA **compiled** language."},
	)
	store.SetSummary("abc", "User is learning Go.")

	mux := http.NewServeMux()
	NewHandler(store, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/chat/view?checkpoint_id=abc", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "What is Go?") {
		t.Error("user message missing from transcript")
	}
	if !strings.Contains(body, "<strong>compiled</strong>") {
		t.Error("assistant markdown was not rendered to HTML")
	}
	if !strings.Contains(body, "User is learning Go.") {
		t.Error("summary missing from transcript")
	}
}

func TestTranscriptViewEscapesToolOutput(t *testing.T) {
	store := session.NewStore()
	store.Append("abc", session.Message{
		Role:    "tool",
		Content: `<script>alert("x")</script>`,
	})

	mux := http.NewServeMux()
	NewHandler(store, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/chat/view?checkpoint_id=abc", nil))

	body := rec.Body.String()
	if strings.Contains(body, "<script>alert") {
		t.Error("tool output reached the page unescaped")
	}
	if !strings.Contains(body, "&lt;script&gt;") {
		t.Error("expected escaped tool output in page")
	}
}

func TestTranscriptViewDefaultSession(t *testing.T) {
	store := session.NewStore()
	store.Append(agent.DefaultSessionKey, session.Message{Role: "user", Content: "default key message"})

	mux := http.NewServeMux()
	NewHandler(store, nil).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/chat/view", nil))

	if !strings.Contains(rec.Body.String(), "default key message") {
		t.Error("missing checkpoint_id should fall back to session 1")
	}
}
