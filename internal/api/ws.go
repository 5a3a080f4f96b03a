package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	// wsSubscriberBuffer bounds the per-client event backlog; a stalled
	// client drops events instead of blocking publishers.
	wsSubscriberBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 16 * 1024,
	// The API is an open local observer surface; same-origin policy is
	// not enforced here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleEvents streams bus events to a WebSocket client as JSON, one
// event per message, until the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe(wsSubscriberBuffer)
	defer s.bus.Unsubscribe(sub)

	// Reader goroutine: we never expect client messages, but reading is
	// required to process close frames and detect disconnects.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case e, ok := <-sub:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug("websocket write failed", "error", err)
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
