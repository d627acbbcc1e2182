package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/restloop/clusterd/pkg/clusterd"
)

// runServe builds the configured transport and re-enters as either master
// or worker, per clusterd.IsWorker. Both paths share the same binary and
// the same config; only the role detector tells them apart.
func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	debugPort, _ := cmd.Flags().GetInt("debug-port")
	inspectBrk, _ := cmd.Flags().GetBool("inspect-brk")
	if !inspectBrk {
		debugPort = 0
	}

	cfg, err := clusterd.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := clusterd.NewLogger(cfg.Logging)

	codec, err := clusterd.NewCodec(clusterd.CodecType(cfg.Cluster.Codec))
	if err != nil {
		return fmt.Errorf("construct codec: %w", err)
	}

	transport, err := buildTransport(cfg.Transport)
	if err != nil {
		return fmt.Errorf("construct transport: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if clusterd.IsWorker() {
		return runWorker(ctx, transport, logger, codec)
	}
	return runMaster(ctx, cfg.Cluster, cfg.Metrics, transport, logger, debugPort)
}

func runMaster(ctx context.Context, clusterCfg clusterd.ClusterConfig, metricsCfg clusterd.MetricsConfig, transport clusterd.Transport, logger *clusterd.Logger, debugPort int) error {
	master, err := clusterd.NewMaster(clusterCfg, transport, logger, debugPort)
	if err != nil {
		return fmt.Errorf("build master: %w", err)
	}

	if metricsCfg.Enabled {
		mux := http.NewServeMux()
		mux.Handle(metricsCfg.Path, clusterd.MetricsHandler())
		metricsSrv := &http.Server{Addr: metricsCfg.Endpoint, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			_ = metricsSrv.Close()
		}()
	}

	if err := master.Start(ctx); err != nil {
		return fmt.Errorf("master runtime stopped: %w", err)
	}
	return master.Shutdown(context.Background())
}

func runWorker(ctx context.Context, transport clusterd.Transport, logger *clusterd.Logger, codec clusterd.Codec) error {
	wp, err := clusterd.NewWorkerProcess(transport, logger, codec)
	if err != nil {
		return fmt.Errorf("build worker process: %w", err)
	}
	defer wp.Close()

	if err := wp.Run(ctx); err != nil {
		return fmt.Errorf("worker transport stopped: %w", err)
	}
	return nil
}

// buildTransport constructs the reference HTTP or WebSocket plug-in named
// by cfg.Kind. These are demonstration handlers: a real deployment supplies
// its own Transport implementation satisfying pkg/clusterd.Transport.
func buildTransport(cfg clusterd.TransportConfig) (clusterd.Transport, error) {
	switch cfg.Kind {
	case "", "http":
		return clusterd.NewHTTPTransport(cfg.Port, http.HandlerFunc(echoHandler)), nil
	case "websocket":
		return clusterd.NewWebSocketTransport(cfg.Port, echoWebSocket), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// echoHandler answers every request with the serving process id, letting an
// operator confirm round-robin rotation across workers end to end.
func echoHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "hello from worker pid %d\n", os.Getpid())
}

// echoWebSocket reflects every message back to the client, keeping the
// connection open until the peer disconnects, demonstrating sticky routing
// end to end.
func echoWebSocket(conn *websocket.Conn) {
	defer conn.Close()
	for {
		mt, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, msg); err != nil {
			return
		}
	}
}
