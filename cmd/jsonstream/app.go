package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"

	"github.com/agentfacts/jsonstream/internal/config"
	"github.com/agentfacts/jsonstream/internal/filter"
	"github.com/agentfacts/jsonstream/internal/index"
	"github.com/agentfacts/jsonstream/internal/ingest"
	"github.com/agentfacts/jsonstream/internal/jsonstream"
	"github.com/agentfacts/jsonstream/internal/observability"
)

// Application holds the components shared by the subcommands.
type Application struct {
	cfg *config.Config
	fs  afero.Fs

	store    *index.Store
	recorder *index.Recorder
	filter   *filter.Engine

	// Observability
	registry  *prometheus.Registry
	metrics   *observability.Metrics
	health    *observability.Health
	obsServer *observability.Server
}

func newApplication(cfg *config.Config, fs afero.Fs) (*Application, error) {
	app := &Application{
		cfg:      cfg,
		fs:       fs,
		registry: prometheus.NewRegistry(),
	}

	app.metrics = observability.NewMetrics(cfg.Metrics.Namespace, app.registry)
	app.health = observability.NewHealth(version)

	// Initialize span index (if enabled)
	if cfg.Index.Enabled {
		var err error
		app.store, err = index.NewStore(index.StoreConfig{DBPath: cfg.Index.DBPath})
		if err != nil {
			return nil, fmt.Errorf("failed to create span index: %w", err)
		}

		app.recorder = index.NewRecorder(app.store, index.RecorderConfig{
			BufferSize:    cfg.Index.BufferSize,
			FlushInterval: cfg.Index.FlushInterval,
			FlushTimeout:  cfg.Index.FlushTimeout,
			Metrics:       app.metrics,
		})

		app.health.RegisterChecker("span_index", observability.DatabaseChecker(app.store.Ping))
		app.health.RegisterChecker("span_recorder", observability.RecorderChecker(func() int64 {
			return app.recorder.Stats().Dropped
		}))
	}

	// Initialize record filter
	app.filter = filter.NewEngine(filter.EngineConfig{
		Enabled: cfg.Filter.Enabled,
		Mode:    cfg.Filter.Mode,
		Query:   cfg.Filter.Query,
	})
	if cfg.Filter.Enabled {
		app.health.RegisterChecker("filter", observability.FilterChecker(app.filter.IsReady))
	}

	app.obsServer = observability.NewServer(observability.ServerConfig{
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsAddress: cfg.Metrics.Address,
		MetricsPort:    cfg.Metrics.Port,
		MetricsPath:    cfg.Metrics.Path,
		HealthEnabled:  cfg.Health.Enabled,
		HealthAddress:  cfg.Health.Address,
		HealthPort:     cfg.Health.Port,
		LivenessPath:   cfg.Health.LivenessPath,
		ReadinessPath:  cfg.Health.ReadinessPath,
	}, app.registry, app.health)

	return app, nil
}

// Start loads filter policies and starts the background components.
func (app *Application) Start(ctx context.Context) error {
	if app.cfg.Filter.Enabled {
		loader := filter.NewLoader(app.fs, app.cfg.Filter.PolicyDir, app.cfg.Filter.DataFile)
		if err := loader.LoadAndInitialize(ctx, app.filter); err != nil {
			return fmt.Errorf("failed to load filter policies: %w", err)
		}
		log.Info().
			Str("policy_dir", app.cfg.Filter.PolicyDir).
			Str("data_file", app.cfg.Filter.DataFile).
			Str("mode", app.cfg.Filter.Mode).
			Msg("Record filter initialized")
	}

	if app.recorder != nil {
		app.recorder.Start()
		log.Info().
			Str("db_path", app.cfg.Index.DBPath).
			Msg("Span indexing enabled")
	}

	if err := app.obsServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start observability server: %w", err)
	}

	app.health.SetReady(true)
	return nil
}

// Stop flushes pending spans and releases every component.
func (app *Application) Stop(ctx context.Context) error {
	app.health.SetReady(false)

	if err := app.obsServer.Stop(ctx); err != nil {
		log.Error().Err(err).Msg("Error stopping observability server")
	}

	// Stop recorder (flushes remaining spans)
	if app.recorder != nil {
		app.recorder.Stop()
	}

	if app.store != nil {
		if err := app.store.Close(); err != nil {
			return fmt.Errorf("closing span index: %w", err)
		}
	}
	return nil
}

// pipeline builds an ingest pipeline wired to the enabled components.
func (app *Application) pipeline(cfg ingest.PipelineConfig) *ingest.Pipeline {
	opts := []ingest.Option{ingest.WithMetrics(app.metrics)}
	if app.recorder != nil {
		opts = append(opts, ingest.WithRecorder(app.recorder))
	}
	if app.filter.Enabled() {
		opts = append(opts, ingest.WithFilter(app.filter))
	}
	return ingest.NewPipeline(cfg, opts...)
}

// writerOptions returns the options for every document writer.
func (app *Application) writerOptions() []jsonstream.Option {
	return []jsonstream.Option{jsonstream.WithObserver(app.metrics)}
}
