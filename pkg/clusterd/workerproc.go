package clusterd

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/restloop/clusterd/internal/ctrlproto"
)

// WorkerProcess is the child-side runtime: it dials the control channel the
// master prepared for it, forwards handed-off sockets into the transport's
// ConnSink exactly as a native accept would, and announces a voluntary
// close upstream before the transport actually stops.
type WorkerProcess struct {
	id             string
	transport      Transport
	codec          Codec
	logger         *Logger
	controlConn    *net.UnixConn
	voluntaryClose func() error
}

// NewWorkerProcess reads its control-channel socket path and identity from
// the environment the supervisor set (CLUSTERD_WORKER_ID,
// CLUSTERD_CONTROL_SOCKET) and dials in.
func NewWorkerProcess(transport Transport, logger *Logger, codec Codec) (*WorkerProcess, error) {
	id := os.Getenv("CLUSTERD_WORKER_ID")
	socketPath := os.Getenv("CLUSTERD_CONTROL_SOCKET")
	if socketPath == "" {
		return nil, fmt.Errorf("CLUSTERD_CONTROL_SOCKET not set; is this process actually a worker?")
	}
	secret, err := ControlSecretFromHex(os.Getenv(controlSecretEnv))
	if err != nil {
		return nil, fmt.Errorf("decode control channel secret: %w", err)
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("dial control socket %s: %w", socketPath, err)
	}
	uc, ok := conn.(*net.UnixConn)
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("control socket dial returned non-unix conn")
	}
	if err := NewControlAuth(secret).AuthenticateClient(uc); err != nil {
		_ = uc.Close()
		return nil, fmt.Errorf("control channel handshake: %w", err)
	}

	return &WorkerProcess{
		id:          id,
		transport:   transport,
		codec:       codec,
		logger:      logger.WithWorker(id),
		controlConn: uc,
	}, nil
}

// Run wraps the transport's Close to announce a voluntary close, starts the
// handoff-receive loop, and calls transport.Start. It blocks until ctx is
// cancelled or the transport stops. Application code that wants to shut the
// in-process server down on purpose should call CloseServer rather than
// reaching into Transport.Server().Close() directly, so the master is
// notified before the socket actually goes away.
func (wp *WorkerProcess) Run(ctx context.Context) error {
	sink := wp.transport.Server()

	announced := false
	wp.voluntaryClose = WrapWorkerClose(sink, func() {
		if announced {
			return
		}
		announced = true
		msg := ctrlproto.NewCloseMessage()
		if err := sendHandoff(wp.controlConn, msg, wp.codec, nil); err != nil {
			wp.logger.ErrorContext(ctx, "failed to announce voluntary close", "error", err)
		}
	})

	go wp.recvLoop(ctx, sink)

	wp.logger.InfoContext(ctx, "worker transport starting", "port", wp.transport.Port())
	return wp.transport.Start(ctx)
}

// CloseServer performs the application-initiated server shutdown described
// in spec.md §4.2: it announces the close upstream, then closes the
// transport's sink.
func (wp *WorkerProcess) CloseServer() error {
	if wp.voluntaryClose == nil {
		return wp.transport.Server().Close()
	}
	return wp.voluntaryClose()
}

// recvLoop reads framed control messages off the channel and, for each
// balancing message carrying a handed-off socket, increments the sink's
// connection counter and delivers the socket to its ConnCh exactly as a
// native accept would.
func (wp *WorkerProcess) recvLoop(ctx context.Context, sink ConnSink) {
	for {
		msg, conn, err := recvHandoff(wp.controlConn, wp.codec)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			wp.logger.ErrorContext(ctx, "control channel read failed, worker exiting", "error", err)
			return
		}

		if !msg.IsBalancing() || conn == nil {
			continue
		}

		sink.Connections().Add(1)
		select {
		case sink.ConnCh() <- conn:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

// Close shuts down the control channel. Called after the transport's own
// Start has returned.
func (wp *WorkerProcess) Close() error {
	return wp.controlConn.Close()
}
