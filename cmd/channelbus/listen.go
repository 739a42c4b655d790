package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	cbus "github.com/next-trace/scg-channel-bus/contract/bus"
	"github.com/next-trace/scg-channel-bus/servicebus"
)

// EchoKey is the responder key every listening process answers with its request data.
const EchoKey = "echo"

func newListenCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "listen <channel>...",
		Short: "Print messages addressed to this process on the given channels",
		Long: "Registers a printing handler per channel and an echo responder, then listens until " +
			"interrupted.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.listen(ctx, cmd.OutOrStdout(), args)
		},
	}
}

func (a *app) listen(ctx context.Context, out io.Writer, channels []string) error {
	sb, cleanup, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var mu sync.Mutex
	for _, name := range channels {
		if err := sb.RegisterChannel(name, printer(&mu, out, name)); err != nil {
			return err
		}
	}

	sb.Respond(EchoKey, func(_ context.Context, req servicebus.Object) (servicebus.Object, error) {
		return req, nil
	})

	if a.cfg.MetricsAddr != "" {
		srv := serveMetrics(a.cfg.MetricsAddr, a.registry)
		defer shutdown(srv)
	}

	if err := sb.StartListeners(ctx); err != nil {
		return err
	}

	a.logger.Info("Listening", "channels", sb.Channels(), "transport", a.cfg.Transport)

	<-ctx.Done()

	a.logger.Info("Shutting down")

	return nil
}

func printer(mu *sync.Mutex, out io.Writer, channel string) cbus.HandlerFunc {
	return func(_ context.Context, m cbus.Message) error {
		mu.Lock()
		defer mu.Unlock()

		_, err := fmt.Fprintf(out, "%s\t%s\n", channel, m.Payload)

		return err
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server failed", "addr", addr, "error", err)
		}
	}()

	return srv
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
}
