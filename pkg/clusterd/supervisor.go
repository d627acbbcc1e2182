package clusterd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/restloop/clusterd/internal/ctrlproto"
)

// WorkerState mirrors the state machine in spec.md's worker supervisor
// section: Running while the child is alive and its control channel is up,
// Closing while a voluntary-close handshake is in flight, Exited once the
// process has been reaped.
type WorkerState int32

const (
	WorkerStateRunning WorkerState = iota
	WorkerStateClosing
	WorkerStateExited
)

// debugFlagNames are the argv flag names that mark a debugger/inspector port;
// any one of these triggers offset rewriting for a spawned child.
var debugFlagNames = map[string]bool{
	"--inspect":      true,
	"--inspect-brk":  true,
	"--inspect-port": true,
	"--debug-port":   true,
}

// Worker is the master-side handle for one forked child: its process,
// control channel, and routing-relevant state. It implements routable so
// the Balancer can address it directly.
type Worker struct {
	id      string
	index   int
	logger  *Logger
	codec   Codec
	restart RestartConfig

	cmd         *exec.Cmd
	controlConn *net.UnixConn
	connected   atomic.Bool
	state       atomic.Int32
	pid         atomic.Int32

	// exited is closed exactly once, by monitor, after cmd.Wait() has
	// returned. It is the only signal other goroutines (Shutdown) may use
	// to learn the process has been reaped; they must never call
	// cmd.Wait() themselves, since a *exec.Cmd supports only one waiter.
	exited chan struct{}

	mu sync.Mutex
}

// ID implements routable.
func (w *Worker) ID() string { return w.id }

// Connected implements routable: true only once the control channel has
// completed its handshake accept.
func (w *Worker) Connected() bool {
	return w.connected.Load() && WorkerState(w.state.Load()) == WorkerStateRunning
}

// SendHandoff implements routable, forwarding straight to sendHandoff on
// this worker's control channel.
func (w *Worker) SendHandoff(msg *ctrlproto.Message, conn *net.TCPConn) error {
	w.mu.Lock()
	cc := w.controlConn
	w.mu.Unlock()
	if cc == nil {
		return fmt.Errorf("worker %s: control channel not established", w.id)
	}
	return sendHandoff(cc, msg, w.codec, conn)
}

// PID returns the child's operating system process id, or 0 if not running.
func (w *Worker) PID() int { return int(w.pid.Load()) }

// Supervisor forks, monitors, and respawns worker child processes per
// spec.md's worker supervisor design: a derived environment overlay, a
// strictly monotonic unique id, and offset debug/inspect ports.
type Supervisor struct {
	cfg       ClusterConfig
	logger    *Logger
	codec     Codec
	secConfig SocketSecurityConfig
	auth      *ControlAuth
	secretHex string

	mu              sync.Mutex
	workers         []*Worker
	nextID          uint64
	debugOffset     uint32
	masterDebugPort int

	onExit func(w *Worker, respawn bool)
}

// NewSupervisor builds a supervisor for the given cluster configuration.
// masterDebugPort is the port named by any `--inspect*`/`--debug-port` flag
// present in the master's own argv, or 0 if none was given. A fresh control
// channel HMAC secret is generated for this master's lifetime and handed to
// every worker it spawns.
func NewSupervisor(cfg ClusterConfig, codec Codec, logger *Logger, masterDebugPort int) *Supervisor {
	secret, err := GenerateControlSecret()
	if err != nil {
		logger.Error("failed to generate control channel secret; workers will fail the handshake", "error", err)
	}
	return &Supervisor{
		cfg:             cfg,
		logger:          logger,
		codec:           codec,
		secConfig:       DefaultSocketSecurityConfig(cfg.HandoffDir),
		masterDebugPort: masterDebugPort,
		auth:            NewControlAuth(secret),
		secretHex:       ControlSecretToHex(secret),
	}
}

// Workers returns the current routing list as routable handles, snapshot at
// call time. Safe to call concurrently with spawns/exits.
func (s *Supervisor) Workers() []routable {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]routable, 0, len(s.workers))
	for _, w := range s.workers {
		out = append(out, w)
	}
	return out
}

// Start spawns workerCount workers sequentially, as required by spec.md
// §4.3 step 3: each spawn blocks until that worker's control-channel
// handshake completes, so the master only begins accepting once every
// initial worker is connected.
func (s *Supervisor) Start(ctx context.Context, workerCount int) error {
	for i := 0; i < workerCount; i++ {
		w, err := s.spawn(ctx, i)
		if err != nil {
			return fmt.Errorf("spawn worker %d: %w", i, err)
		}
		s.mu.Lock()
		s.workers = append(s.workers, w)
		s.mu.Unlock()
	}
	return nil
}

// nextOffset returns the next debug-port offset: it starts at 1 and
// increments per spawn, never wrapping.
func (s *Supervisor) nextOffset() uint32 {
	offset := atomic.AddUint32(&s.debugOffset, 1)
	DebugPortOffset.Set(float64(offset))
	return offset
}

// rewriteDebugPort computes masterDebugPort + offset, subtracting 1 if the
// result exceeds 65535, per spec.md's debug port offsetting rule.
func rewriteDebugPort(masterPort int, offset uint32) int {
	port := masterPort + int(offset)
	if port > 65535 {
		port--
	}
	return port
}

// deriveArgs copies the master's own argv, removing any existing
// --inspect-brk flag and appending a freshly offset one when the master was
// itself started under a debugger/inspector flag.
func (s *Supervisor) deriveArgs(offset uint32) []string {
	src := os.Args[1:]
	if s.masterDebugPort == 0 {
		return append([]string(nil), src...)
	}

	hasDebugFlag := false
	out := make([]string, 0, len(src)+1)
	for _, a := range src {
		name := a
		if idx := indexByte(a, '='); idx >= 0 {
			name = a[:idx]
		}
		if debugFlagNames[name] {
			hasDebugFlag = true
			if name == "--inspect-brk" {
				continue
			}
		}
		out = append(out, a)
	}
	if hasDebugFlag {
		newPort := rewriteDebugPort(s.masterDebugPort, offset)
		out = append(out, fmt.Sprintf("--inspect-brk=%d", newPort))
	}
	return out
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// spawn forks one child, derives its environment and arguments, and blocks
// until the control-channel handshake completes.
func (s *Supervisor) spawn(ctx context.Context, index int) (*Worker, error) {
	uniqueID := atomic.AddUint64(&s.nextID, 1) - 1
	id := fmt.Sprintf("worker-%d", uniqueID)
	offset := s.nextOffset()

	socketPath, err := SecureSocketPath(s.secConfig, id)
	if err != nil {
		return nil, fmt.Errorf("allocate control socket: %w", err)
	}
	_ = os.Remove(socketPath)

	listener, err := NewSecureListener(socketPath, s.secConfig)
	if err != nil {
		return nil, fmt.Errorf("listen on control socket: %w", err)
	}

	exe, err := os.Executable()
	if err != nil {
		listener.Close()
		return nil, fmt.Errorf("resolve executable path: %w", err)
	}

	args := s.deriveArgs(offset)
	cmd := exec.CommandContext(ctx, exe, args...)

	env := os.Environ()
	for k, v := range s.cfg.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = MarkAsMaster(env)
	env = append(env,
		fmt.Sprintf("CLUSTERD_WORKER_ID=%s", id),
		fmt.Sprintf("CLUSTERD_UNIQUE_ID=%d", uniqueID),
		fmt.Sprintf("CLUSTERD_CONTROL_SOCKET=%s", socketPath),
		fmt.Sprintf("%s=%s", controlSecretEnv, s.secretHex),
	)
	cmd.Env = env
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	w := &Worker{
		id:      id,
		index:   index,
		logger:  s.logger.WithWorker(id),
		codec:   s.codec,
		restart: s.cfg.Restart,
		cmd:     cmd,
		exited:  make(chan struct{}),
	}

	if err := cmd.Start(); err != nil {
		listener.Close()
		return nil, fmt.Errorf("start child process: %w", err)
	}
	w.pid.Store(int32(cmd.Process.Pid))
	w.state.Store(int32(WorkerStateRunning))
	WorkersTotal.WithLabelValues("running").Inc()

	accepted := make(chan error, 1)
	go func() {
		conn, err := listener.Accept()
		if err != nil {
			accepted <- err
			return
		}
		uc, ok := conn.(*net.UnixConn)
		if !ok {
			conn.Close()
			accepted <- fmt.Errorf("control socket accept returned non-unix conn")
			return
		}
		if err := s.auth.AuthenticateServer(uc); err != nil {
			uc.Close()
			accepted <- fmt.Errorf("control channel handshake: %w", err)
			return
		}
		w.mu.Lock()
		w.controlConn = uc
		w.mu.Unlock()
		w.connected.Store(true)
		accepted <- nil
	}()

	select {
	case err := <-accepted:
		if err != nil {
			listener.Close()
			_ = cmd.Process.Kill()
			return nil, fmt.Errorf("control channel handshake: %w", err)
		}
	case <-time.After(10 * time.Second):
		listener.Close()
		_ = cmd.Process.Kill()
		return nil, fmt.Errorf("control channel handshake timed out")
	}

	go s.monitor(ctx, w, listener, socketPath)

	w.logger.InfoContext(ctx, "worker ready", "pid", w.pid.Load())
	return w, nil
}

// monitor waits for the child to exit or to announce a voluntary close,
// then applies the respawn policy from spec.md's state machine.
func (s *Supervisor) monitor(ctx context.Context, w *Worker, listener *SecureListener, socketPath string) {
	defer listener.Close()
	defer os.Remove(socketPath)

	closeCh := make(chan struct{})
	go func() {
		for {
			w.mu.Lock()
			cc := w.controlConn
			w.mu.Unlock()
			if cc == nil {
				return
			}
			msg, _, err := recvHandoff(cc, w.codec)
			if err != nil {
				return
			}
			if msg.IsClose() {
				close(closeCh)
				return
			}
		}
	}()

	waitErr := make(chan error, 1)
	go func() { waitErr <- w.cmd.Wait() }()

	var respawn bool
	select {
	case <-closeCh:
		w.state.Store(int32(WorkerStateClosing))
		w.logger.Info("worker announced voluntary close")
		respawn = s.cfg.Respawn
		<-waitErr
	case err := <-waitErr:
		if err != nil {
			w.logger.Error("worker process exited unexpectedly", "error", err)
		} else {
			w.logger.Warn("worker process exited with status 0")
		}
		respawn = s.cfg.Respawn
	}

	w.state.Store(int32(WorkerStateExited))
	w.connected.Store(false)
	w.pid.Store(0)
	WorkersTotal.WithLabelValues("running").Dec()
	close(w.exited)

	s.removeWorker(w)

	if s.onExit != nil {
		s.onExit(w, respawn)
	}

	if respawn {
		WorkerRestartsTotal.Inc()
		s.respawnWithBackoff(ctx, w.index)
		// Run onExit again so the routing list picks up the replacement.
		if s.onExit != nil {
			s.onExit(w, respawn)
		}
	}
}

// removeWorker drops w from the routing list; the supervisor, not the
// balancer, is responsible for pruning dead workers.
func (s *Supervisor) removeWorker(dead *Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.workers[:0]
	for _, w := range s.workers {
		if w != dead {
			out = append(out, w)
		}
	}
	s.workers = out
}

// respawnWithBackoff retries the spawn with exponential backoff bounded by
// RestartConfig, giving up after MaxAttempts.
func (s *Supervisor) respawnWithBackoff(ctx context.Context, index int) {
	backoff := s.cfg.Restart.InitialBackoff
	for attempt := 1; attempt <= s.cfg.Restart.MaxAttempts; attempt++ {
		w, err := s.spawn(ctx, index)
		if err == nil {
			s.mu.Lock()
			s.workers = append(s.workers, w)
			s.mu.Unlock()
			return
		}
		s.logger.Error("failed to respawn worker", "attempt", attempt, "error", err)
		WorkerSpawnFailuresTotal.Inc()
		if attempt == s.cfg.Restart.MaxAttempts {
			s.logger.Error("giving up on respawn", "index", index)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * s.cfg.Restart.Multiplier)
		if backoff > s.cfg.Restart.MaxBackoff {
			backoff = s.cfg.Restart.MaxBackoff
		}
	}
}

// Shutdown signals every worker to stop and waits for their processes to be
// reaped. A worker that has not exited within 5 seconds is killed.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	workers := append([]*Worker(nil), s.workers...)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			if w.cmd.Process != nil {
				_ = w.cmd.Process.Signal(os.Interrupt)
			}
			// w.exited is closed by this worker's monitor goroutine, the
			// sole owner of cmd.Wait(): exec.Cmd does not support being
			// waited on from two goroutines at once, so Shutdown must
			// never call Wait itself, only observe monitor's signal.
			select {
			case <-w.exited:
			case <-time.After(5 * time.Second):
				if w.cmd.Process != nil {
					_ = w.cmd.Process.Kill()
				}
				<-w.exited
			}
		}(w)
	}
	wg.Wait()
	return nil
}
