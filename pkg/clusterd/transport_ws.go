package clusterd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
)

// WSHandler processes one upgraded WebSocket connection. Implementations
// are expected to loop reading/writing until the peer disconnects.
type WSHandler func(conn *websocket.Conn)

// WebSocketTransport is a reference Transport plug-in serving upgraded
// WebSocket connections. Connections are long-lived and session-bearing, so
// IsPermanentConnection is true: the master routes them with sticky
// remote-address hashing (spec.md scenario 2).
type WebSocketTransport struct {
	port     int
	handle   WSHandler
	upgrader websocket.Upgrader
	listener *chanListener
	srv      *http.Server
	conns    atomic.Int64
}

// NewWebSocketTransport builds a WebSocket transport bound to port. handle
// is invoked once per upgraded connection.
func NewWebSocketTransport(port int, handle WSHandler) *WebSocketTransport {
	return &WebSocketTransport{
		port:     port,
		handle:   handle,
		listener: newChanListener(&net.TCPAddr{Port: port}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Port implements Transport.
func (t *WebSocketTransport) Port() int { return t.port }

// IsPermanentConnection implements Transport.
func (t *WebSocketTransport) IsPermanentConnection() bool { return true }

// Server implements Transport.
func (t *WebSocketTransport) Server() ConnSink { return t }

// Start implements Transport.
func (t *WebSocketTransport) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		t.handle(conn)
	})

	t.srv = &http.Server{Handler: mux}
	go func() {
		<-ctx.Done()
		_ = t.srv.Close()
	}()
	if err := t.srv.Serve(t.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("websocket transport serve: %w", err)
	}
	return nil
}

// Listen implements ConnSink. Always a no-op: the master runtime owns the
// real listening socket.
func (t *WebSocketTransport) Listen(port int) error { return nil }

// Close implements ConnSink.
func (t *WebSocketTransport) Close() error {
	return t.listener.Close()
}

// ConnCh implements ConnSink.
func (t *WebSocketTransport) ConnCh() chan<- net.Conn { return t.listener.connCh }

// Connections implements ConnSink.
func (t *WebSocketTransport) Connections() *atomic.Int64 { return &t.conns }
