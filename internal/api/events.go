package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// upgrader mirrors tests/ws/server.go's permissive test-harness
// upgrader; the control surface is meant to be reached from a
// same-origin UI, not an arbitrary third-party page, so origin
// checking is left to a reverse proxy in front of this server rather
// than duplicated here.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const writeWait = 10 * time.Second

// handleEventStream upgrades to a websocket and forwards every Stream
// event whose type matches the "prefix" query parameter (default "",
// matching everything) until the client disconnects.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	prefix := r.URL.Query().Get("prefix")
	sub := s.Stream.Subscribe(prefix)
	defer s.Stream.Unsubscribe(sub)

	// Drain client-initiated control frames (pings/close) on their own
	// goroutine so a dead connection is detected promptly.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}
