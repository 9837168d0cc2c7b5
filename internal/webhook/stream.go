package webhook

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	streamInterval = time.Second
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin is enforced by the CORS layer for the REST routes; the quote
	// stream carries no trading capability so any origin may watch it.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleQuoteStream upgrades the connection and pushes quote snapshots at a
// fixed interval until the client goes away.
func (s *Server) handleQuoteStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	sub, err := s.engine.SubscribeQuotes(r.Context())
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error()),
			time.Now().Add(writeWait))
		return
	}
	defer sub.Close()

	s.logger.Info("quote stream opened", "remote", r.RemoteAddr)

	// Drain client messages so pings and close frames are processed.
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			s.logger.Info("quote stream closed", "remote", r.RemoteAddr)
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(quoteResponse(sub.Snapshot())); err != nil {
				s.logger.Debug("quote stream write failed", "err", err)
				return
			}
		}
	}
}
