package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/indexpool/internal/metrics"
	"github.com/Aman-CERP/indexpool/internal/watcher"
	"github.com/Aman-CERP/indexpool/pkg/indexer"
)

func newServeCmd(opts *options) *cobra.Command {
	var reindex []string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Watch repositories and keep the index current until interrupted",
		Long: `Watch every configured repository and index documents as they are saved.

Prometheus metrics are served on metrics.listen (default 127.0.0.1:9464).
On SIGINT or SIGTERM the queues are drained for up to pool.shutdown_timeout;
tasks still queued after that are logged and dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, reindex)
		},
	}

	cmd.Flags().StringSliceVar(&reindex, "reindex", nil, "Reindex these repositories once at startup, one after another")

	return cmd
}

func runServe(ctx context.Context, opts *options, reindex []string) error {
	cfg := opts.cfg
	logger := opts.logger

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var (
		w *watcher.FSWatcher
		d *watcher.Dispatcher
	)
	if cfg.Watch.Enabled {
		w, err = watcher.NewFSWatcher(a.resolver, watcher.Options{DebounceWindow: cfg.WatchDebounce()})
		if err != nil {
			return err
		}
		w.SetLogger(logger)
		d = watcher.NewDispatcher(a.resolver, a.controller, logger)
		if err := metrics.RegisterWatch(a.registry, d, w); err != nil {
			_ = w.Stop()
			return fmt.Errorf("register watch metrics: %w", err)
		}
	}
	var ln net.Listener
	if cfg.Metrics.Listen != "" {
		ln, err = net.Listen("tcp", cfg.Metrics.Listen)
		if err != nil {
			if w != nil {
				_ = w.Stop()
			}
			return fmt.Errorf("metrics listener: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if ln != nil {
		srv := &http.Server{
			Handler:           metricsMux(a),
			ReadHeaderTimeout: 5 * time.Second,
		}
		logger.Info("metrics_listening", slog.String("addr", ln.Addr().String()))
		g.Go(func() error {
			if err := srv.Serve(ln); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if w != nil {
		g.Go(func() error {
			return ignoreCanceled(w.Start(gctx))
		})
		g.Go(func() error {
			return ignoreCanceled(d.Run(gctx, w.Events()))
		})
	}

	if len(reindex) > 0 {
		g.Go(func() error {
			for _, repo := range reindex {
				if err := a.controller.ReindexAll(indexer.NewDocRef(repo, "/"), true, false); err != nil {
					logger.Warn("startup reindex refused", slog.String("repository", repo), slog.String("error", err.Error()))
					continue
				}
				if err := waitForReindex(gctx, a); err != nil {
					return nil
				}
			}
			return nil
		})
	}

	logger.Info("serving",
		slog.Any("repositories", a.resolver.Repositories()),
		slog.Bool("watch", cfg.Watch.Enabled))

	<-gctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	report := a.controller.Shutdown(shutdownCtx)
	for _, t := range report.NotRun() {
		logger.Warn("task_not_run", slog.String("target", t.Key()), slog.String("kind", t.Kind.String()))
	}

	return g.Wait()
}

func metricsMux(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{Registry: a.registry}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if !a.backend.IsEnabled() {
			http.Error(w, "indexing disabled", http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintln(w, "ok")
	})
	return mux
}

func ignoreCanceled(err error) error {
	if stderrors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
