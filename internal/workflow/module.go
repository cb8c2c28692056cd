package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/ronappleton/lmnp-workflow/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

type backendOut struct {
	fx.Out

	Store     Store
	Directory Directory
	Catalog   Catalog
	Pinger    Pinger
}

func Module() fx.Option {
	return fx.Options(
		fx.Provide(
			newBackend,
			newDocumentResolver,
			newSender,
			newDispatcher,
			func(d *Dispatcher) StepDispatcher { return d },
			NewEngine,
		),
	)
}

func newBackend(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (backendOut, error) {
	ctx := context.Background()
	var fileCatalog *StaticCatalog
	if cfg.Catalog.Path != "" {
		c, err := LoadCatalogFile(cfg.Catalog.Path)
		if err != nil {
			return backendOut{}, err
		}
		fileCatalog = c
	}

	if cfg.Database.DSN == "" {
		logger.Warn("database dsn not configured; using in-memory store")
		catalog := fileCatalog
		if catalog == nil {
			c, err := NewStaticCatalog(BuiltinSteps)
			if err != nil {
				return backendOut{}, err
			}
			catalog = c
		}
		mem := NewMemoryStore()
		return backendOut{Store: mem, Directory: mem, Catalog: catalog, Pinger: mem}, nil
	}

	pg, err := NewPGStore(ctx, cfg.Database.DSN, cfg.Database.Migrate)
	if err != nil {
		return backendOut{}, fmt.Errorf("connect store: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		return pg.Close()
	}})

	out := backendOut{Store: pg, Directory: pg, Catalog: pg, Pinger: pg}
	if cfg.Database.SeedCatalog {
		seed := BuiltinSteps
		if fileCatalog != nil {
			seed, _ = fileCatalog.ListSteps(ctx, nil)
		}
		if err := pg.SeedSteps(ctx, seed); err != nil {
			return backendOut{}, err
		}
		logger.Info("step catalog seeded", zap.Int("steps", len(seed)))
	} else if fileCatalog != nil {
		out.Catalog = fileCatalog
	}
	return out, nil
}

func newDocumentResolver() DocumentResolver {
	return NewChecklistResolver(DefaultDocumentChecklist)
}

func newSender(cfg config.Config) Sender {
	return NewHTTPSender(cfg.Notification.SendURL, cfg.Notification.APIKey, cfg.Notification.Timeout)
}

func newDispatcher(cfg config.Config, store Store, dir Directory, docs DocumentResolver, sender Sender, logger *zap.Logger) *Dispatcher {
	d := NewDispatcher(store, dir, docs, sender, logger.Named("dispatcher"))
	if cfg.Notification.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Notification.Timezone)
		if err != nil {
			logger.Warn("unknown notification timezone; dates rendered in UTC", zap.String("timezone", cfg.Notification.Timezone))
		} else {
			d.SetLocation(loc)
		}
	}
	return d
}
