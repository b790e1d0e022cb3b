package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/pdf-alttext/config"
	"github.com/feichai0017/pdf-alttext/internal/agent/vision"
	"github.com/feichai0017/pdf-alttext/internal/alttext"
	"github.com/feichai0017/pdf-alttext/internal/artifact"
	"github.com/feichai0017/pdf-alttext/internal/extract"
	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/internal/service/pipeline"
	"github.com/feichai0017/pdf-alttext/internal/utils/validator"
	"github.com/feichai0017/pdf-alttext/internal/workspace"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
	"github.com/feichai0017/pdf-alttext/pkg/queue"
	"github.com/feichai0017/pdf-alttext/pkg/storage"
	"github.com/feichai0017/pdf-alttext/pkg/worker"
)

// App wires the pipeline for the server and the CLI.
type App struct {
	Config   *config.Config
	Logger   logger.Logger
	Sessions *workspace.Manager
	Tracker  *progress.Tracker
	Pool     *queue.Pool
	Service  *pipeline.PipelineService
	Worker   *worker.PipelineWorker

	closers []func() error
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig) (logger.Logger, error) {
	return logger.NewLogger(
		logger.WithLevel(cfg.Level),
		logger.WithEncoding(cfg.Encoding),
		logger.WithOutputPaths(cfg.OutputPaths),
	)
}

func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: log}

	sessions, err := workspace.NewManager(cfg.Sessions.Dir)
	if err != nil {
		return nil, err
	}
	a.Sessions = sessions
	a.Tracker = progress.NewTracker(progress.WithLogger(log.Named("progress")))

	store, err := a.statusStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Pool = queue.NewPool(cfg.Queue.PoolSize, store, log)

	describer, models := a.describer(ctx)
	generator := alttext.NewGenerator(sessions, a.Tracker, describer, models,
		alttext.ConfigFrom(cfg.AltText), log,
		alttext.WithImageURL(alttext.PrefixImageURL(cfg.Server.ImageURLPrefix)),
	)
	engine := extract.NewEngine(sessions, a.Tracker, extract.ConfigFrom(cfg.Extraction), log)

	mirror, err := storage.NewStorage(ctx, cfg.Storage, log.Named("storage"))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a.Service = pipeline.NewService(pipeline.Deps{
		Sessions:  sessions,
		Tracker:   a.Tracker,
		Queue:     a.Pool,
		Extractor: engine,
		Generator: generator,
		Writer:    artifact.NewDocxWriter(log),
		Validator: validator.NewDocumentValidator(log, &validator.ValidatorConfig{
			MaxFileSize:  cfg.Sessions.MaxUploadMB * 1024 * 1024,
			AllowedTypes: []string{".pdf"},
		}),
		Storage: mirror,
	}, log, &pipeline.ServiceConfig{SessionTTL: cfg.Sessions.TTL})

	a.Worker = worker.NewPipelineWorker(a.Pool, a.Service, log)
	return a, nil
}

func (a *App) statusStore(ctx context.Context) (queue.StatusStore, error) {
	if a.Config.Redis.Addr == "" {
		return queue.NewMemoryStatusStore(a.Config.Queue.StatusTTL), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     a.Config.Redis.Addr,
		Password: a.Config.Redis.Password,
		DB:       a.Config.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.Logger.Info("Using redis job status store", logger.String("addr", a.Config.Redis.Addr))
	return queue.NewRedisStatusStore(client, a.Config.Queue.StatusTTL), nil
}

// describer returns the configured vision provider. Without one the service
// still extracts images and every alt-text entry carries the setup error.
func (a *App) describer(ctx context.Context) (vision.Describer, []string) {
	client, err := vision.NewClient(ctx, a.Config.AI, a.Logger.Named("vision"))
	if err != nil {
		a.Logger.Warn("Vision provider unavailable, alt text generation will fail", logger.Error(err))
		return unavailable{err: err}, nil
	}
	a.closers = append(a.closers, client.Close)
	return client, client.Models
}

type unavailable struct {
	err error
}

func (u unavailable) Describe(context.Context, vision.Request) (string, error) {
	return "", vision.Permanent(u.err)
}

// Start registers the stage handlers on the pool.
func (a *App) Start(ctx context.Context) error {
	return a.Worker.Start(ctx)
}

// Shutdown stops accepting jobs, waits for running ones and releases clients.
func (a *App) Shutdown(ctx context.Context) error {
	if a.Worker != nil {
		a.Worker.Stop()
	}
	var errs []error
	if a.Pool != nil {
		if err := a.Pool.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
