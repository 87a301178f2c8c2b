package server

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/aeolun/ninechess/pkg/protocol"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Terminal and bot clients send no Origin worth checking
		return true
	},
}

// HandleWebSocket upgrades the request and runs the same handshake and
// message loop as a TCP connection over binary messages.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-s.shutdown:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	// Counted before the hijack so Stop waits for this connection
	s.conns.Add(1)

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.conns.Done()
		s.log.Debugw("WebSocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	// One message may hold a whole length-prefixed frame
	ws.SetReadLimit(int64(s.config.MaxFrameSize) + 4)

	go s.handleConnection(protocol.NewWSConn(ws), "websocket")
}
