package clusterd

import (
	"net"
	"sync"

	"github.com/restloop/clusterd/internal/ctrlproto"
)

// routable is the subset of a worker handle the balancer needs: a stable
// identity for logging plus the control channel to send the handoff on.
type routable interface {
	ID() string
	Connected() bool
	SendHandoff(msg *ctrlproto.Message, conn *net.TCPConn) error
}

// Balancer implements spec.md's routing policy: round-robin for
// short-lived/stateless transports, sticky-by-remote-address-hash for
// long-lived/session-bearing ones. The routing list is mutated only under
// mu: Route runs in one goroutine per accepted connection and SetWorkers is
// called from the supervisor's worker monitors.
type Balancer struct {
	mu      sync.Mutex
	seed    uint32
	sticky  bool
	workers []routable
	logger  *Logger
}

// NewBalancer creates a balancer seeded once for the master's lifetime.
func NewBalancer(seed uint32, sticky bool, logger *Logger) *Balancer {
	return &Balancer{seed: seed, sticky: sticky, logger: logger}
}

// SetWorkers replaces the routing list wholesale. Used by the supervisor
// after a respawn completes; during the gap between an exit and a
// completed respawn the list simply has one fewer entry, per spec.md's
// open question on worker-list-during-respawn.
func (b *Balancer) SetWorkers(workers []routable) {
	b.mu.Lock()
	b.workers = workers
	b.mu.Unlock()
}

// Route selects a worker for conn and sends it the handoff. On any send
// failure the connection is dropped: the client observes an abrupt close
// and must retry: spec.md explicitly forbids retrying against a different
// worker.
func (b *Balancer) Route(conn *net.TCPConn) {
	addr := remoteAddrKey(conn)

	b.mu.Lock()
	var chosen routable
	if b.sticky {
		chosen = b.selectStickyLocked(addr)
	} else {
		chosen = b.selectRoundRobinLocked()
	}
	b.mu.Unlock()

	if chosen == nil || !chosen.Connected() {
		b.drop(conn, addr, "no connected worker available")
		return
	}

	msg := ctrlproto.NewBalancingMessage(addr)
	if err := chosen.SendHandoff(msg, conn); err != nil {
		b.drop(conn, addr, err.Error())
		return
	}

	ConnectionsRoutedTotal.WithLabelValues(b.policyLabel()).Inc()
}

func (b *Balancer) policyLabel() string {
	if b.sticky {
		return "sticky"
	}
	return "round_robin"
}

// selectStickyLocked implements hash(addr) mod len(workers); the list is
// never mutated by this policy. Callers must hold b.mu.
func (b *Balancer) selectStickyLocked(addr string) routable {
	if len(b.workers) == 0 {
		return nil
	}
	idx := Hash(b.seed, []byte(addr)) % uint32(len(b.workers))
	return b.workers[idx]
}

// selectRoundRobinLocked removes the head of the list, selects it, and
// re-appends it at the tail. Callers must hold b.mu.
func (b *Balancer) selectRoundRobinLocked() routable {
	if len(b.workers) == 0 {
		return nil
	}
	head := b.workers[0]
	b.workers = append(b.workers[1:], head)
	return head
}

// drop logs the failure, emits a close on the socket, and ends it. The
// routing list is left unchanged: a dead worker is pruned by the
// supervisor on exit, not by the balancer.
func (b *Balancer) drop(conn *net.TCPConn, addr, reason string) {
	if b.logger != nil {
		b.logger.Error("failed to route connection to worker",
			"remote_addr", addr, "reason", reason)
	}
	ConnectionsDroppedTotal.Inc()
	_ = conn.Close()
}
