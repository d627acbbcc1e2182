package clusterd

import (
	"testing"

	"github.com/gorilla/websocket"
)

func TestWebSocketTransportIsSticky(t *testing.T) {
	transport := NewWebSocketTransport(0, func(c *websocket.Conn) {})

	if !transport.IsPermanentConnection() {
		t.Error("WebSocket transport must be sticky (IsPermanentConnection=true)")
	}
	if transport.Server().Listen(9090) != nil {
		t.Error("Listen must always be a no-op")
	}
	if transport.Port() != 0 {
		t.Errorf("expected port 0, got %d", transport.Port())
	}
}

func TestWebSocketTransportConnectionsCounter(t *testing.T) {
	transport := NewWebSocketTransport(0, func(c *websocket.Conn) {})

	if got := transport.Connections().Load(); got != 0 {
		t.Errorf("expected zero connections initially, got %d", got)
	}
	transport.Connections().Add(1)
	if got := transport.Connections().Load(); got != 1 {
		t.Errorf("expected 1 connection after Add, got %d", got)
	}
}
