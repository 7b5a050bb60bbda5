package main

import (
	"context"
	stderrors "errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/semdds/gateway/websocket"
)

type bridgeOptions struct {
	listen       string
	topicTimeout time.Duration
	pingInterval time.Duration
	queueSize    int
}

func newBridgeCmd(root *rootOptions) *cobra.Command {
	opts := &bridgeOptions{}
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Stream topics to WebSocket clients",
		Long: `bridge serves ws://<listen>/topics/{name}. Each connection receives the
samples of the topic as JSON frames.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withNode(cmd.Context(), func(ctx context.Context, n *node) error {
				return runBridge(ctx, n, opts)
			})
		},
	}
	d := websocket.DefaultConfig()
	f := cmd.Flags()
	f.StringVarP(&opts.listen, "listen", "l", ":8088", "HTTP listen address")
	f.DurationVar(&opts.topicTimeout, "topic-timeout", d.TopicTimeout, "how long to wait for an unknown topic to be discovered")
	f.DurationVar(&opts.pingInterval, "ping-interval", d.PingInterval, "interval between keepalive pings")
	f.IntVar(&opts.queueSize, "queue-size", d.QueueSize, "frames buffered per client")
	return cmd
}

func runBridge(ctx context.Context, n *node, opts *bridgeOptions) error {
	b, err := websocket.NewBridge(n.participant, websocket.Config{
		TopicTimeout: opts.topicTimeout,
		PingInterval: opts.pingInterval,
		QueueSize:    opts.queueSize,
	}, n.logger, n.metrics)
	if err != nil {
		return err
	}
	n.health.UpdateHealthy("bridge", "listening on "+opts.listen)

	mux := http.NewServeMux()
	mux.Handle("/topics/", b)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	ln, err := net.Listen("tcp", opts.listen)
	if err != nil {
		_ = b.Close()
		return err
	}
	n.logger.Info("bridge listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// Hijacked WebSocket connections are not tracked by Shutdown.
		if cerr := b.Close(); cerr != nil {
			n.logger.Warn("close bridge", "error", cerr)
		}
		err = srv.Shutdown(shutdownCtx)
		n.health.UpdateUnhealthy("bridge", "stopped")
		return err
	}
	_ = b.Close()
	if stderrors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
