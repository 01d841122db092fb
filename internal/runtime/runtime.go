// Package runtime assembles the vitals services and serves the HTTP API.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/loqa-vitals/internal/bus"
	"github.com/loqalabs/loqa-vitals/internal/config"
	"github.com/loqalabs/loqa-vitals/internal/extract"
	"github.com/loqalabs/loqa-vitals/internal/natsserver"
	"github.com/loqalabs/loqa-vitals/internal/pipeline"
	"github.com/loqalabs/loqa-vitals/internal/protocol"
	"github.com/loqalabs/loqa-vitals/internal/store"
	"github.com/loqalabs/loqa-vitals/internal/stt"
)

type Runtime struct {
	cfg        config.Config
	configPath string
	logger     *slog.Logger
	ready      atomic.Bool

	nats    *natsserver.EmbeddedServer
	bus     *bus.Client
	records *store.Store
	gateway *stt.Gateway
	intake  *pipeline.Intake
}

// New prepares a runtime. configPath is watched for changes when non-empty.
func New(cfg config.Config, configPath string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:        cfg,
		configPath: configPath,
		logger:     logger,
	}
}

// Start runs until ctx is cancelled or a server fails.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}()

	p, err := r.startServices(ctx)
	defer r.stopServices()
	if err != nil {
		return err
	}

	a := &api{
		pipeline: p,
		records:  r.records,
		gateway:  r.gateway,
		ready:    r.healthy,
		log:      r.logger.With(slog.String("component", "api")),
	}
	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	servers := []*http.Server{{
		Addr:              addr,
		Handler:           newRouter(a),
		ReadHeaderTimeout: 5 * time.Second,
	}}
	if metricsHandler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metricsHandler)
		servers = append(servers, &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		})
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range servers {
		g.Go(func() error {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server %s: %w", srv.Addr, err)
			}
			return nil
		})
	}
	if r.configPath != "" {
		if _, err := os.Stat(r.configPath); err == nil {
			g.Go(func() error {
				return watchConfig(gctx, r.configPath, r.logger.With(slog.String("component", "config-watcher")), r.applyConfig)
			})
		}
	}
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", srv.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("stt_backend", string(r.gateway.Status().Backend)),
		slog.Bool("bus", r.bus != nil))

	return g.Wait()
}

func (r *Runtime) startServices(ctx context.Context) (*pipeline.Pipeline, error) {
	records, err := store.Open(ctx, r.cfg.RecordStore, r.logger)
	if err != nil {
		return nil, fmt.Errorf("open record store: %w", err)
	}
	r.records = records

	offline := stt.NewOffline(time.Duration(r.cfg.Offline.DelayMS) * time.Millisecond)
	r.gateway, err = stt.NewGateway(r.cfg.STT, offline, r.logger)
	if err != nil {
		return nil, fmt.Errorf("configure stt: %w", err)
	}

	opts := []pipeline.Option{pipeline.WithStore(records)}
	if r.cfg.Bus.Enabled {
		if err := r.connectBus(ctx); err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithPublisher(r.bus))
	}
	p := pipeline.New(r.gateway, extract.NewEngine(), r.cfg.Pipeline, r.logger, opts...)

	if r.bus != nil {
		r.intake = pipeline.NewIntake(ctx, p, r.bus)
		if err := r.intake.Start(); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (r *Runtime) connectBus(ctx context.Context) error {
	busCfg := r.cfg.Bus
	if busCfg.Embedded {
		srv, err := natsserver.Start(busCfg, r.logger)
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		r.nats = srv
		busCfg.Servers = []string{srv.ClientURL()}
	}
	client, err := bus.Connect(ctx, busCfg, r.logger)
	if err != nil {
		return err
	}
	r.bus = client
	if err := client.EnsureStream(protocol.StreamName, protocol.StreamSubjects); err != nil {
		return err
	}
	return nil
}

// stopServices releases whatever startServices managed to open, in reverse
// order.
func (r *Runtime) stopServices() {
	if r.intake != nil {
		r.intake.Close()
	}
	if r.bus != nil {
		r.bus.Close()
	}
	if r.nats != nil {
		r.nats.Shutdown()
	}
	if r.records != nil {
		if err := r.records.Close(); err != nil {
			r.logger.Error("record store close error", slog.String("error", err.Error()))
		}
	}
}

// applyConfig pushes the reloadable parts of a changed config file into the
// running services. Everything else needs a restart.
func (r *Runtime) applyConfig(cfg config.Config) {
	if err := r.gateway.Configure(cfg.STT); err != nil {
		r.logger.Warn("rejected stt config change", slog.String("error", err.Error()))
		return
	}
	r.logger.Info("config reloaded", slog.String("stt_mode", cfg.STT.Mode), slog.Bool("stt_enabled", cfg.STT.Enabled))
}

func (r *Runtime) healthy() bool {
	if !r.ready.Load() {
		return false
	}
	if r.cfg.Bus.Enabled && !r.bus.Healthy() {
		return false
	}
	return r.intake == nil || r.intake.Healthy()
}
