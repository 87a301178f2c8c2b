package client

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aeolun/ninechess/pkg/protocol"
)

// DialWebSocket connects to the server's /ws endpoint. The returned
// connection carries the handshake and frames exactly like TCP.
func DialWebSocket(addr string, useTLS bool) (*protocol.WSConn, error) {
	scheme := "ws"
	if useTLS {
		scheme = "wss"
	}
	u := url.URL{Scheme: scheme, Host: addr, Path: "/ws"}

	dialer := &websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   64 * 1024,
		WriteBufferSize:  64 * 1024,
	}

	ws, _, err := dialer.Dial(u.String(), nil)
	if err != nil {
		// A bad handshake usually means the wrong scheme
		if strings.Contains(err.Error(), "bad handshake") {
			if useTLS {
				return nil, fmt.Errorf("TLS handshake failed, server may not support WSS (try ws:// instead): %w", err)
			}
			return nil, fmt.Errorf("handshake failed, server may require WSS/TLS (try wss:// instead): %w", err)
		}
		return nil, err
	}

	return protocol.NewWSConn(ws), nil
}
