package clusterd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
)

// HTTPTransport is a reference Transport plug-in that serves plain HTTP.
// Connections are short-lived and stateless, so IsPermanentConnection is
// false: the master routes them round-robin (spec.md scenario 1).
type HTTPTransport struct {
	port     int
	handler  http.Handler
	listener *chanListener
	srv      *http.Server
	conns    atomic.Int64
}

// NewHTTPTransport builds an HTTP transport bound to port, serving handler.
func NewHTTPTransport(port int, handler http.Handler) *HTTPTransport {
	return &HTTPTransport{
		port:     port,
		handler:  handler,
		listener: newChanListener(&net.TCPAddr{Port: port}),
	}
}

// Port implements Transport.
func (t *HTTPTransport) Port() int { return t.port }

// IsPermanentConnection implements Transport.
func (t *HTTPTransport) IsPermanentConnection() bool { return false }

// Server implements Transport.
func (t *HTTPTransport) Server() ConnSink { return t }

// Start implements Transport. In a worker process Listen never actually
// binds the port (the master already owns it); http.Server.Serve only needs
// a net.Listener to pull connections from, which chanListener provides.
func (t *HTTPTransport) Start(ctx context.Context) error {
	t.srv = &http.Server{Handler: t.handler}
	go func() {
		<-ctx.Done()
		_ = t.srv.Close()
	}()
	if err := t.srv.Serve(t.listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http transport serve: %w", err)
	}
	return nil
}

// Listen implements ConnSink. It is always a no-op here: the real listening
// socket is owned and accepted-on exclusively by the master runtime
// (master.go); this transport only ever runs inside a worker, fed by
// handed-off sockets over ConnCh.
func (t *HTTPTransport) Listen(port int) error { return nil }

// Close implements ConnSink.
func (t *HTTPTransport) Close() error {
	return t.listener.Close()
}

// ConnCh implements ConnSink.
func (t *HTTPTransport) ConnCh() chan<- net.Conn { return t.listener.connCh }

// Connections implements ConnSink.
func (t *HTTPTransport) Connections() *atomic.Int64 { return &t.conns }
