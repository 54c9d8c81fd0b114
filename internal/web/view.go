// Package web serves a read-only HTML view of session transcripts for
// operators. Assistant messages are markdown and rendered as HTML; all
// other roles are shown as plain text.
package web

import (
	"bytes"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/yuin/goldmark"

	"github.com/alihassan-coder/perplexity2-agent/internal/agent"
	"github.com/alihassan-coder/perplexity2-agent/internal/session"
)

const transcriptTemplate = `<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>Transcript {{.Key}}</title>
<style>
body { font-family: sans-serif; font-size: 14px; line-height: 1.5; max-width: 52rem; margin: 2rem auto; }
.msg { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 6px; }
.user { background: #eef3fb; }
.assistant { background: #f4f4f4; }
.tool { background: #fdf6e3; font-family: monospace; white-space: pre-wrap; font-size: 12px; }
.role { font-weight: bold; font-size: 12px; text-transform: uppercase; color: #666; }
.summary { border-left: 3px solid #888; padding-left: 1rem; color: #444; font-style: italic; }
</style></head>
<body>
<h1>Session {{.Key}}</h1>
{{if .Summary}}<div class="summary">{{.Summary}}</div>{{end}}
{{range .Messages}}<div class="msg {{.Role}}"><div class="role">{{.Role}}</div>{{.Body}}</div>
{{end}}
</body></html>`

// Handler renders session transcripts.
type Handler struct {
	store    *session.Store
	logger   *slog.Logger
	template *template.Template
}

// NewHandler creates a transcript view over the given store.
func NewHandler(store *session.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:    store,
		logger:   logger.With("component", "web"),
		template: template.Must(template.New("transcript").Parse(transcriptTemplate)),
	}
}

// RegisterRoutes adds the transcript view to a mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /chat/view", h.handleView)
}

type viewMessage struct {
	Role string
	Body template.HTML
}

type viewData struct {
	Key      string
	Summary  string
	Messages []viewMessage
}

// handleView renders one session. GET /chat/view?checkpoint_id=...
func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("checkpoint_id")
	if key == "" {
		key = agent.DefaultSessionKey
	}

	sess := h.store.Get(key)
	data := viewData{Key: key, Summary: sess.Summary}
	for _, m := range sess.Messages {
		data.Messages = append(data.Messages, viewMessage{
			Role: m.Role,
			Body: renderBody(m.Role, m.Content),
		})
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.template.Execute(w, data); err != nil {
		h.logger.Debug("transcript render failed", "session", key, "error", err)
	}
}

// renderBody converts assistant markdown to HTML. Other roles are
// escaped verbatim; tool payloads especially must never be interpreted
// as markup.
func renderBody(role, content string) template.HTML {
	if role != "assistant" {
		return template.HTML(template.HTMLEscapeString(content))
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(content), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(content))
	}
	return template.HTML(buf.String())
}
