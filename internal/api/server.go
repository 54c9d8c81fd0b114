// Package api implements the HTTP surface of the service: the health
// endpoint, the synchronous and streaming chat endpoints, and the
// operational event feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alihassan-coder/perplexity2-agent/internal/agent"
	"github.com/alihassan-coder/perplexity2-agent/internal/buildinfo"
	"github.com/alihassan-coder/perplexity2-agent/internal/events"
	"github.com/alihassan-coder/perplexity2-agent/internal/web"
)

// streamBuffer is the event channel depth for one streaming request.
// Small on purpose: a stalled client stalls its own turn instead of
// queueing unbounded events.
const streamBuffer = 16

// writeTimeout is the server write timeout; streaming handlers reset
// the deadline per event so long tool loops do not trip it.
const writeTimeout = 120 * time.Second

// features advertised on the health endpoint.
var features = []string{"streaming", "web_search", "agent_progress"}

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// UsageStats accumulates token counters across requests.
type UsageStats struct {
	mu                sync.Mutex
	TotalRequests     int64 `json:"total_requests"`
	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`
}

func (u *UsageStats) Record(inputTokens, outputTokens int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.TotalRequests++
	u.TotalInputTokens += int64(inputTokens)
	u.TotalOutputTokens += int64(outputTokens)
}

func (u *UsageStats) Snapshot() map[string]int64 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return map[string]int64{
		"total_requests":      u.TotalRequests,
		"total_input_tokens":  u.TotalInputTokens,
		"total_output_tokens": u.TotalOutputTokens,
	}
}

// Server is the HTTP API server.
type Server struct {
	listen string
	loop   *agent.Loop
	bus    *events.Bus
	view   *web.Handler
	logger *slog.Logger
	server *http.Server
	stats  *UsageStats
}

// NewServer creates an API server. bus and view may be nil, which
// disables the event feed and the transcript view respectively.
func NewServer(listen string, loop *agent.Loop, bus *events.Bus, view *web.Handler, logger *slog.Logger) *Server {
	return &Server{
		listen: listen,
		loop:   loop,
		bus:    bus,
		view:   view,
		logger: logger.With("component", "api"),
		stats:  &UsageStats{},
	}
}

// Handler builds the route table. Split from Start so tests can drive
// the full middleware stack through httptest.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("GET /chat", s.handleChat)
	mux.HandleFunc("GET /chat/stream", s.handleChatStream)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /v1/session/stats", s.handleStats)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	if s.view != nil {
		s.view.RegisterRoutes(mux)
	}

	return s.withLogging(s.withCORS(mux))
}

// Start begins serving HTTP requests and blocks until the listener
// fails or the server is shut down.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: writeTimeout,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}

	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// withCORS allows any origin. The service fronts a browser UI served
// from elsewhere and carries no credentials.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"status":   "online",
		"message":  "Perplexity 2.0 API is running",
		"version":  buildinfo.Version,
		"features": features,
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	stats := map[string]any{"usage": s.stats.Snapshot()}
	for k, v := range s.loop.SessionStats() {
		stats[k] = v
	}
	writeJSON(w, stats, s.logger)
}

// handleChat runs a full turn and returns the final answer in one
// response. GET /chat?message=...&checkpoint_id=...
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	req := &agent.Request{
		Message:    message,
		SessionKey: r.URL.Query().Get("checkpoint_id"),
	}
	resp, err := s.loop.Run(r.Context(), req, nil)
	if err != nil {
		s.logger.Error("agent turn failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "agent error: "+err.Error())
		return
	}
	s.stats.Record(resp.InputTokens, resp.OutputTokens)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"response": resp.Content}, s.logger)
}

// handleChatStream runs a turn while relaying its progress as SSE
// events. Every stream, successful or not, ends with a literal
// "data: [DONE]" record.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	message := r.URL.Query().Get("message")
	if message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.errorResponse(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	req := &agent.Request{
		Message:    message,
		SessionKey: r.URL.Query().Get("checkpoint_id"),
	}
	stream := agent.NewEventStreamer(r.Context(), streamBuffer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		resp, err := s.loop.Run(r.Context(), req, stream)
		if err != nil {
			// Already surfaced to the client as an error event.
			return
		}
		s.stats.Record(resp.InputTokens, resp.OutputTokens)
	}()

	rc := http.NewResponseController(w)
	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	eventCh := stream.Events()
	for eventCh != nil {
		select {
		case event, ok := <-eventCh:
			if !ok {
				eventCh = nil
				continue
			}
			s.writeSSE(w, event)
			flusher.Flush()
		case <-keepalive.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		}
		// Long tool loops must not trip the server write timeout.
		if err := rc.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
			s.logger.Debug("failed to reset write deadline", "error", err)
		}
	}
	<-done

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func (s *Server) writeSSE(w http.ResponseWriter, event agent.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Debug("failed to marshal SSE event", "error", err)
		return
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		s.logger.Debug("failed to write SSE event", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, map[string]any{
		"error": map[string]any{
			"message": message,
			"code":    code,
		},
	}, s.logger)
}
