package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/Aman-CERP/indexpool/internal/admission"
	"github.com/Aman-CERP/indexpool/internal/backend"
	"github.com/Aman-CERP/indexpool/internal/config"
	"github.com/Aman-CERP/indexpool/internal/errors"
	"github.com/Aman-CERP/indexpool/internal/metrics"
	"github.com/Aman-CERP/indexpool/internal/resolve"
	"github.com/Aman-CERP/indexpool/internal/store"
)

// app is the wired indexing stack shared by serve and index.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	lock       *store.DirLock
	index      store.DocumentIndex
	resolver   *resolve.Resolver
	backend    *backend.StoreBackend
	controller *admission.Controller
	registry   *prometheus.Registry
}

// openApp locks the data directory, opens the document index and builds the
// lanes. Close releases everything in reverse order.
func openApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.Backend.DataDir, 0o755); err != nil {
		return nil, errors.IOError(fmt.Sprintf("create data dir %s", cfg.Backend.DataDir), err)
	}

	a := &app{cfg: cfg, logger: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	a.lock = store.NewDirLock(cfg.Backend.DataDir)
	if err := a.lock.TryLock(); err != nil {
		a.lock = nil
		return nil, err
	}

	index, err := store.Open(cfg.Backend.DataDir, store.Backend(cfg.Backend.Kind))
	if err != nil {
		return nil, err
	}
	a.index = index

	a.resolver, err = resolve.New(cfg.Backend.Repositories,
		resolve.WithExtensions(cfg.Backend.Extensions),
		resolve.WithMaxFileSize(cfg.Backend.MaxFileSize),
		resolve.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	fingerprints, err := resolve.NewFingerprints(cfg.Backend.FingerprintCacheSize)
	if err != nil {
		return nil, err
	}
	breaker := errors.NewCircuitBreaker("document-index",
		errors.WithMaxFailures(cfg.Backend.CircuitMaxFailures),
		errors.WithResetTimeout(cfg.CircuitReset()))

	a.backend, err = backend.New(a.resolver, a.index,
		backend.WithFingerprints(fingerprints),
		backend.WithCircuitBreaker(breaker),
		backend.WithWriteBatch(cfg.Backend.WriteBatch),
		backend.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(a.registry)

	acfg := cfg.AdmissionConfig()
	acfg.Observer = recorder
	acfg.Rejections = recorder
	acfg.Logger = logger
	a.controller, err = admission.New(a.backend, acfg)
	if err != nil {
		return nil, err
	}
	a.registry.MustRegister(metrics.NewLaneCollector(a.controller))

	ok = true
	return a, nil
}

// Close closes the index and releases the data directory lock.
func (a *app) Close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Warn("close index", slog.String("error", err.Error()))
		}
		a.index = nil
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			a.logger.Warn("release data dir lock", slog.String("error", err.Error()))
		}
		a.lock = nil
	}
}
