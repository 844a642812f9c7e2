// Package app wires configuration, storage, event sinks and engines.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/mind-engage/mindengage-progress/internal/activity"
	"github.com/mind-engage/mindengage-progress/internal/config"
	"github.com/mind-engage/mindengage-progress/internal/content"
	"github.com/mind-engage/mindengage-progress/internal/db"
	"github.com/mind-engage/mindengage-progress/internal/events"
	"github.com/mind-engage/mindengage-progress/internal/grading"
	"github.com/mind-engage/mindengage-progress/internal/progress"
	"github.com/mind-engage/mindengage-progress/internal/quiz"
	"github.com/mind-engage/mindengage-progress/internal/storage"
)

type App struct {
	Config config.Config
	Log    *slog.Logger
	DB     *sql.DB

	Activity *activity.SQLStore
	Content  *content.SQLRepo
	Blobs    storage.BlobStore
	Events   events.Sink
	EventLog *events.SQLSink // nil unless the sql sink is enabled

	Progress *progress.Engine
	Resolver *quiz.Resolver
	Grading  *grading.Engine

	closers []func() error
}

// New opens the database and builds every component. The caller owns the
// returned App and must Close it.
func New(ctx context.Context, cfg config.Config, log *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	driver, err := db.ParseDriver(cfg.DBDriver)
	if err != nil {
		return nil, err
	}
	h, err := db.Open(ctx, driver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, Log: log, DB: h, closers: []func() error{h.Close}}

	a.Content = content.NewSQLRepo(h)
	if cfg.ContentPath != "" {
		cat, err := content.LoadCatalog(cfg.ContentPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := cat.Apply(ctx, a.Content); err != nil {
			a.Close()
			return nil, fmt.Errorf("apply catalog: %w", err)
		}
		log.Info("catalog loaded", "path", cfg.ContentPath, "courses", len(cat.Courses), "questions", len(cat.Questions))
	}
	a.Activity = activity.NewSQLStore(h, time.Now)

	blobs, err := storage.NewFSStore(cfg.BlobBasePath)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.Blobs = blobs

	if err := a.buildSinks(ctx); err != nil {
		a.Close()
		return nil, err
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	a.Progress = progress.New(a.Activity, a.Content,
		progress.WithSink(a.Events), progress.WithBlobStore(a.Blobs),
		progress.WithLogger(log.With("component", "progress")))
	a.Resolver = quiz.NewResolver(a.Content, a.Activity,
		quiz.WithRand(rand.New(rand.NewSource(seed))), quiz.WithLogger(log.With("component", "quiz")))
	a.Grading = grading.NewEngine(a.Content, a.Activity, a.Resolver, a.Progress,
		grading.WithBlobStore(a.Blobs), grading.WithSink(a.Events),
		grading.WithLogger(log.With("component", "grading")))
	return a, nil
}

func (a *App) buildSinks(ctx context.Context) error {
	a.Events = events.Nop{}
	if a.Config.HasSink(config.SinkNone) {
		return nil
	}
	var sinks events.Multi
	for _, kind := range a.Config.EventSinks {
		switch kind {
		case config.SinkLog:
			sinks = append(sinks, events.LogSink{Logger: a.Log.With("component", "events")})
		case config.SinkSQL:
			a.EventLog = events.NewSQLSink(a.DB)
			sinks = append(sinks, a.EventLog)
		case config.SinkRedis:
			client, err := events.DialRedis(ctx, a.Config.RedisURL)
			if err != nil {
				return err
			}
			a.closers = append(a.closers, client.Close)
			sinks = append(sinks, events.NewRedisSink(client, a.Config.RedisChannel))
		}
	}
	switch len(sinks) {
	case 0:
	case 1:
		a.Events = sinks[0]
	default:
		a.Events = sinks
	}
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
