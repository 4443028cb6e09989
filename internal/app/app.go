// Package app wires stores, retrievers and sinks into a matching engine from
// a ServerConfig. Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/example/journey-matching/internal/config"
	"github.com/example/journey-matching/internal/dispatch"
	"github.com/example/journey-matching/internal/geo"
	"github.com/example/journey-matching/internal/ingest"
	"github.com/example/journey-matching/internal/matcher"
	"github.com/example/journey-matching/internal/models"
	"github.com/example/journey-matching/internal/settings"
	"github.com/example/journey-matching/internal/storage"
)

// Store is what the app needs from persistence.
type Store interface {
	storage.JourneyStore
	storage.MatchStore
	storage.EventStore
}

type App struct {
	Engine  *matcher.Engine
	Store   Store
	Hub     *dispatch.EventHub
	Trigger *dispatch.BatchTrigger
	Logger  *slog.Logger

	memIndex *geo.Index
	redis    *geo.RedisIndex
	closers  []func() error
}

func New(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*App, error) {
	a := &App{Logger: logger, Hub: dispatch.NewEventHub(logger)}

	var source settings.Source = cfg.StaticSettings()
	if cfg.PGDSN != "" {
		ps, err := storage.NewPostgresStore(cfg.PGDSN, cfg.RoutingToken)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ps.Close)
		if cfg.RunMigrations {
			if err := runMigrations(ctx, ps, "migrations", logger); err != nil {
				_ = a.Close()
				return nil, err
			}
		}
		a.Store = ps
		source = ps
	} else {
		a.Store = storage.NewMemoryStore()
	}

	var retriever geo.Retriever
	switch {
	case cfg.PostGISDSN != "":
		pool, err := geo.NewPostGISPool(ctx, cfg.PostGISDSN)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		retriever = geo.NewPostGISRetriever(pool)
	case cfg.RedisAddr != "":
		a.redis = geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisKeyPrefix)
		a.closers = append(a.closers, a.redis.Client().Close)
		retriever = a.redis
	default:
		a.memIndex = geo.NewIndex()
		retriever = a.memIndex
	}

	sinks := []matcher.EventSink{a.Hub}
	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		a.closers = append(a.closers, kp.Close)
		sinks = append(sinks, kp)
	}

	var notifier matcher.Notifier
	if cfg.NotifyEndpoint != "" {
		a.Trigger = dispatch.NewBatchTrigger(cfg.NotifyEndpoint, cfg.NotifyKey, cfg.NotifyTimeout)
		notifier = a.Trigger
	}

	a.Engine = &matcher.Engine{
		Journeys:      a.Store,
		Retriever:     retriever,
		Matches:       a.Store,
		Events:        a.Store,
		Sinks:         sinks,
		Settings:      source,
		Routing:       cfg.Routing(),
		Notifier:      notifier,
		Logger:        logger,
		NotifyTimeout: cfg.NotifyTimeout,
	}
	return a, nil
}

// IndexJourney stores j when it has no id yet and makes it visible to the
// in-process retriever. The PostGIS retriever reads the table directly.
func (a *App) IndexJourney(ctx context.Context, j *models.Journey) error {
	if j.ID == 0 {
		if err := a.Store.SaveJourney(ctx, j); err != nil {
			return fmt.Errorf("save journey: %w", err)
		}
	} else if _, ok := a.Store.(*storage.MemoryStore); ok {
		if err := a.Store.SaveJourney(ctx, j); err != nil {
			return err
		}
	}
	switch {
	case a.memIndex != nil:
		a.memIndex.Upsert(*j)
	case a.redis != nil:
		return a.redis.Upsert(ctx, *j)
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func runMigrations(ctx context.Context, ps *storage.PostgresStore, dir string, logger *slog.Logger) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return err
	}
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := ps.DB().ExecContext(ctx, string(b)); err != nil {
			return fmt.Errorf("migration %s: %w", filepath.Base(f), err)
		}
		logger.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
