package ipifhub

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	hub "github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/alert"
	"github.com/soundprediction/ipifhub/pkg/config"
	"github.com/soundprediction/ipifhub/pkg/driver"
	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/indexsync"
	"github.com/soundprediction/ipifhub/pkg/logger"
	"github.com/soundprediction/ipifhub/pkg/queue"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/store/memstore"
	"github.com/soundprediction/ipifhub/pkg/store/sqlstore"
	"github.com/soundprediction/ipifhub/pkg/telemetry"
)

// app holds every component a command needs, wired from configuration.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  store.Store
	queue  queue.Queue
	index  index.Index
	sync   *indexsync.Synchronizer
	hub    *hub.Hub

	closers []func() error
}

// newApp opens the store, queue and index named by cfg and builds the hub
// on top of them. The caller must call close.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	if err := a.initLogger(ctx); err != nil {
		return nil, err
	}
	if err := a.initStore(ctx); err != nil {
		return nil, err
	}

	var err error
	a.queue, err = queue.New(&queue.Config{Type: queue.Type(cfg.Queue.Backend), Path: cfg.Queue.Path}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue: %w", err)
	}
	a.closers = append(a.closers, a.queue.Close)

	if err := a.initIndex(ctx); err != nil {
		return nil, err
	}

	a.sync = indexsync.New(a.store, a.queue, a.index,
		index.NewProjector(cfg.Hub.BaseURI, cfg.Hub.AutocreatedRepo),
		indexsync.WithWorkers(cfg.Sync.Workers),
		indexsync.WithRateLimit(cfg.Sync.RateLimit, cfg.Sync.Burst),
		indexsync.WithLogger(a.logger.With("component", "indexsync")),
	)

	a.hub, err = hub.NewHub(a.store, a.sync, &hub.Config{
		BaseURI:         cfg.Hub.BaseURI,
		AutocreatedRepo: cfg.Hub.AutocreatedRepo,
	}, a.logger.With("component", "hub"))
	if err != nil {
		return nil, fmt.Errorf("failed to create hub: %w", err)
	}
	ready = true
	return a, nil
}

// initLogger builds the logger and, when configured, the telemetry handlers
// that persist error records. The result becomes slog's default.
func (a *app) initLogger(ctx context.Context) error {
	base := logger.New(a.cfg.Log)
	handler := base.Handler()

	if path := a.cfg.Telemetry.ParquetPath; path != "" {
		ph, err := telemetry.NewParquetHandler(handler, path, 100)
		if err != nil {
			base.Warn("Failed to initialize error tracking", "error", err)
		} else {
			handler = ph
			a.closers = append(a.closers, ph.Close)
		}
	}

	if path := a.cfg.Telemetry.SQLPath; path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("failed to create telemetry directory: %w", err)
		}
		db, err := sql.Open(sqlstore.DriverSQLite, path)
		if err != nil {
			return fmt.Errorf("failed to open telemetry database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		sh, err := telemetry.NewSQLHandler(ctx, handler, db, nil)
		if err != nil {
			return err
		}
		handler = sh
	}

	a.logger = slog.New(handler)
	slog.SetDefault(a.logger)
	return nil
}

func (a *app) initStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "memory":
		a.store = memstore.New()
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		st, err := sqlstore.Open(ctx, sqlstore.DefaultConfig(a.cfg.Database.Driver, a.cfg.Database.URI))
		if err != nil {
			return fmt.Errorf("failed to open %s store: %w", a.cfg.Database.Driver, err)
		}
		a.store = st
	default:
		return fmt.Errorf("unsupported database driver: %s", a.cfg.Database.Driver)
	}
	a.closers = append(a.closers, a.store.Close)
	return nil
}

func (a *app) initIndex(ctx context.Context) error {
	switch a.cfg.Index.Backend {
	case "memory":
		a.index = index.NewMemoryIndex()
		return nil
	case "neo4j":
	default:
		return fmt.Errorf("unsupported index backend: %s", a.cfg.Index.Backend)
	}

	d, err := driver.NewNeo4jDriver(a.cfg.Index.URI, a.cfg.Index.Username, a.cfg.Index.Password, a.cfg.Index.Database)
	if err != nil {
		return fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	a.closers = append(a.closers, func() error { return d.Close(context.Background()) })
	if err := d.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j unreachable at %s: %w", a.cfg.Index.URI, err)
	}
	if err := d.BuildIndices(ctx); err != nil {
		return fmt.Errorf("failed to build neo4j indices: %w", err)
	}

	alerter := alert.New(a.cfg.Alert, a.logger)
	a.index = index.NewResilient(index.NewGraphIndex(d), a.cfg.Retry, a.cfg.CircuitBreaker, alerter, a.logger.With("component", "index"))
	a.logger.Info("Graph index ready", "uri", a.cfg.Index.URI, "database", a.cfg.Index.Database)
	return nil
}

// close releases everything newApp opened, last opened first.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// loadConfig loads configuration from file, environment and bound flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
