package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alihassan-coder/perplexity2-agent/internal/events"
)

// eventFeedBuffer is the bus subscription depth for one WebSocket
// client. The bus drops events for subscribers that fall this far
// behind rather than blocking the agent.
const eventFeedBuffer = 256

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same posture as the CORS middleware: any origin may watch.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents upgrades to a WebSocket and relays the operational
// event bus as JSON frames until the client disconnects.
// GET /v1/events
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusNotFound, "event feed disabled")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(eventFeedBuffer)
	defer s.bus.Unsubscribe(sub)

	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("event feed connected")
	defer logger.Info("event feed disconnected")

	// Reader goroutine: we never expect client frames, but reading is
	// how close frames and connection loss are noticed.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	s.bus.Publish(events.Event{
		Source: events.SourceAPI,
		Kind:   "feed_connected",
		Data:   map[string]any{"remote": r.RemoteAddr},
	})

	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(event); err != nil {
				logger.Debug("event feed write failed", "error", err)
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
