package cli

import (
	"fmt"

	"github.com/rs/zerolog"

	"sdturbo/internal/cache"
	"sdturbo/internal/config"
	"sdturbo/internal/engine"
	"sdturbo/internal/imageio"
	"sdturbo/internal/pipeline"
	"sdturbo/internal/progress"
	"sdturbo/internal/registry"
	"sdturbo/internal/service"
	"sdturbo/internal/session"
	"sdturbo/internal/store"
)

// app is one wired pipeline and the service over it.
type app struct {
	cfg    config.Config
	log    zerolog.Logger
	models []registry.Descriptor
	pipe   *pipeline.Pipeline
	svc    *service.Service
}

func build(cfg config.Config, log zerolog.Logger) (*app, error) {
	eng, err := engine.New(cfg.Engine, engine.Config{Threads: cfg.Threads, Logger: log})
	if err != nil {
		return nil, &config.ConfigError{Key: "engine", Err: err}
	}
	models, err := registry.Descriptors(cfg.Model)
	if err != nil {
		return nil, &config.ConfigError{Key: "model", Err: err}
	}
	format, err := imageio.ParseFormat(cfg.ImageFormat)
	if err != nil {
		return nil, &config.ConfigError{Key: "image_format", Err: err}
	}
	st, err := store.NewDir(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	tr := progress.NewTracker()
	loader := cache.New(st, tr, cache.WithLogger(log))
	mgr := session.New(eng, session.Config{Provider: cfg.Provider, Device: cfg.Device, Threads: cfg.Threads}, log)
	p, err := pipeline.New(loader, mgr, tr, pipeline.Config{
		Models:   models,
		Base:     cfg.Model,
		Images:   cfg.Images,
		Parallel: cfg.Parallel,
		Seed:     cfg.Seed,
		Logger:   log,
	})
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("engine", eng.Name()).
		Str("provider", cfg.Provider).
		Str("model", cfg.Model).
		Str("cache", st.Root()).
		Msg("pipeline configured")
	return &app{
		cfg:    cfg,
		log:    log,
		models: models,
		pipe:   p,
		svc:    service.New(p, models, format, log),
	}, nil
}
