package clusterd

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"runtime"
)

// Master owns the real listening socket and the routing decision for every
// connection it accepts. It never speaks the application protocol; it only
// forwards sockets to workers.
type Master struct {
	cfg        ClusterConfig
	port       int
	sticky     bool
	codec      Codec
	logger     *Logger
	supervisor *Supervisor
	balancer   *Balancer

	listener *net.TCPListener
}

// NewMaster builds a master runtime for transport, whose Port() and
// IsPermanentConnection() determine the listening port and routing policy.
// masterDebugPort is forwarded to the supervisor for child debug-port
// offsetting; pass 0 if the master was not started under a debugger flag.
func NewMaster(cfg ClusterConfig, transport Transport, logger *Logger, masterDebugPort int) (*Master, error) {
	codec, err := NewCodec(CodecType(cfg.Codec))
	if err != nil {
		return nil, fmt.Errorf("construct codec: %w", err)
	}

	seed, err := randomSeed()
	if err != nil {
		return nil, fmt.Errorf("generate routing seed: %w", err)
	}

	workerCount := cfg.Workers
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	cfg.Workers = workerCount

	m := &Master{
		cfg:        cfg,
		port:       transport.Port(),
		sticky:     transport.IsPermanentConnection(),
		codec:      codec,
		logger:     logger,
		supervisor: NewSupervisor(cfg, codec, logger, masterDebugPort),
		balancer:   NewBalancer(seed, transport.IsPermanentConnection(), logger),
	}
	return m, nil
}

// randomSeed draws a uniform random 32-bit seed, chosen once per master
// instance per spec.md's data model.
func randomSeed() (uint32, error) {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// Start binds the listening socket, spawns the configured worker pool, and
// begins accepting and routing connections. It blocks until ctx is
// cancelled or the accept loop hits an unrecoverable error.
func (m *Master) Start(ctx context.Context) error {
	addr := &net.TCPAddr{Port: m.port}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return fmt.Errorf("bind listener on port %d: %w", m.port, err)
	}
	m.listener = listener

	m.logger.InfoContext(ctx, "master listening", "port", m.port, "workers", m.cfg.Workers, "sticky", m.sticky)

	if err := m.supervisor.Start(ctx, m.cfg.Workers); err != nil {
		_ = listener.Close()
		return fmt.Errorf("start worker pool: %w", err)
	}
	m.balancer.SetWorkers(m.supervisor.Workers())
	m.supervisor.onExit = func(w *Worker, respawn bool) {
		m.balancer.SetWorkers(m.supervisor.Workers())
	}

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.AcceptTCP()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		// Pause on connect: no read is ever issued against conn before the
		// balancer hands it to a worker. net.TCPConn performs no implicit
		// read on accept, so this invariant holds by construction.
		go m.route(conn)
	}
}

// route hands one freshly accepted connection to the balancer. The
// balancer's worker set is refreshed only on spawn/exit (via onExit above),
// never per connection: the balancer owns the live round-robin rotation
// state, and resetting it from the supervisor's stable stored order before
// every connection would undo every rotation it had made.
func (m *Master) route(conn *net.TCPConn) {
	m.balancer.Route(conn)
}

// Shutdown stops accepting new connections and tears down every worker.
func (m *Master) Shutdown(ctx context.Context) error {
	if m.listener != nil {
		_ = m.listener.Close()
	}
	return m.supervisor.Shutdown(ctx)
}
