package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/atlasbms/atlas/internal/api"
	"github.com/atlasbms/atlas/internal/control/leadlag"
	"github.com/atlasbms/atlas/internal/engine"
	"github.com/atlasbms/atlas/internal/health"
	"github.com/atlasbms/atlas/internal/infra/locations"
	"github.com/atlasbms/atlas/internal/infra/sqlite"
	"github.com/atlasbms/atlas/internal/infra/tsdb"
	"github.com/atlasbms/atlas/internal/state"
)

// shutdownGrace is how long in-flight ticks may run after a shutdown
// request before their I/O is aborted.
const shutdownGrace = 10 * time.Second

// Daemon is the process supervisor. It owns the gateway, the state store,
// and one processor per location, and wires them together explicitly —
// nothing lives in package-level singletons.
type Daemon struct {
	Config   Config
	Logger   *zap.Logger
	DB       *sqlite.DB
	Gateway  *tsdb.Client
	Registry *locations.Registry
	States   *state.Store
	Coord    *leadlag.Coordinator
	Checker  *health.Checker
	Server   *api.Server

	processors []*engine.Processor
	cancel     context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	logger, err := newLogger(cfg.Logging.Debug)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := sqlite.Open(atlasHome())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Location registry: an on-disk copy wins over the embedded default.
	registry, err := loadRegistry(logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	gateway := tsdb.NewClient(tsdb.Config{
		BaseURL:    cfg.TSDB.BaseURL,
		MetricsDB:  cfg.TSDB.MetricsDB,
		CommandsDB: cfg.TSDB.CommandsDB,
		AuditDB:    cfg.TSDB.AuditDB,
		Timeout:    time.Duration(cfg.TSDB.TimeoutSec) * time.Second,
		Retries:    cfg.TSDB.Retries,
		RetryDelay: cfg.TSDB.RetryDelayDuration(),
		Debug:      cfg.Logging.Debug,
	}, logger)

	d := &Daemon{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Gateway:  gateway,
		Registry: registry,
		States:   state.NewStore(),
		Coord:    leadlag.New(logger, db),
	}

	// Seed the metadata repository from the registry roster.
	if err := d.seedMetadata(); err != nil {
		db.Close()
		return nil, err
	}

	// One processor per location; registering a processor registers its
	// lead-lag groups.
	dispatcher := engine.NewDispatcher()
	for _, loc := range registry.All() {
		p := engine.NewProcessor(loc, gateway, db, dispatcher, d.States, d.Coord, logger)
		d.processors = append(d.processors, p)
	}

	// Restore carried control state so PID accumulators and runtime
	// counters survive restarts.
	d.restoreSnapshots()

	d.Checker = health.NewChecker(db, gateway, d)
	d.Server = api.NewServer(db, registry, d.Coord, d, d.Checker, logger)
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	return d, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadRegistry(logger *zap.Logger) (*locations.Registry, error) {
	path := filepath.Join(atlasHome(), "locations.yaml")
	if _, err := os.Stat(path); err == nil {
		r, err := locations.LoadFile(path, logger)
		if err != nil {
			return nil, fmt.Errorf("load locations file: %w", err)
		}
		return r, nil
	}
	r, err := locations.LoadDefault(logger)
	if err != nil {
		return nil, fmt.Errorf("load embedded locations: %w", err)
	}
	return r, nil
}

// seedMetadata upserts the registry roster and alias table into sqlite.
func (d *Daemon) seedMetadata() error {
	for _, e := range d.Registry.AllEquipment() {
		if err := d.DB.UpsertEquipment(e); err != nil {
			return fmt.Errorf("seed metadata: %w", err)
		}
	}
	for alias, canonical := range d.Registry.Aliases() {
		if err := d.DB.AddAlias(alias, canonical); err != nil {
			return fmt.Errorf("seed aliases: %w", err)
		}
	}
	return nil
}

// AllTaskStatuses implements api.TaskSource and health.TaskSource.
func (d *Daemon) AllTaskStatuses() map[string][]engine.TaskStatus {
	out := make(map[string][]engine.TaskStatus, len(d.processors))
	for _, p := range d.processors {
		out[p.LocationID()] = p.TaskStatuses()
	}
	return out
}

// Serve starts the processors and the HTTP server and blocks until
// shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	// Scheduling stops first on shutdown; I/O gets a grace period.
	schedCtx, stopSched := context.WithCancel(context.Background())
	ioCtx, stopIO := context.WithCancel(context.Background())

	var procWG sync.WaitGroup
	for _, p := range d.processors {
		procWG.Add(1)
		go func() {
			defer procWG.Done()
			if err := p.Run(schedCtx, ioCtx); err != nil {
				d.Logger.Error("processor stopped", zap.String("location", p.LocationID()), zap.Error(err))
			}
		}()
	}

	// Background services.
	go d.Checker.Run(ctx)
	go d.snapshotLoop(ctx)
	go func() {
		if err := d.Registry.Watch(ctx.Done()); err != nil {
			d.Logger.Warn("locations watch stopped", zap.Error(err))
		}
	}()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			d.Logger.Info("shutdown signal", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		// Stop scheduling new ticks; let in-flight ticks finish within the
		// grace period, then cut their I/O.
		stopSched()
		done := make(chan struct{})
		go func() {
			procWG.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(shutdownGrace):
			d.Logger.Warn("grace period elapsed, aborting in-flight ticks")
		}
		stopIO()

		cancel()
		d.saveSnapshots()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		_ = httpServer.Shutdown(shutdownCtx)
		_ = d.DB.Close()
	}()

	d.Logger.Info("atlas serving",
		zap.String("addr", addr),
		zap.Int("locations", len(d.processors)),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus))

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		stopSched()
		stopIO()
		return err
	}
	return nil
}

// snapshotLoop persists the control state periodically.
func (d *Daemon) snapshotLoop(ctx context.Context) {
	ticker := time.NewTicker(d.Config.State.SnapshotIntervalDuration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.saveSnapshots()
		}
	}
}

func (d *Daemon) saveSnapshots() {
	if payload, err := json.Marshal(d.States.Export()); err == nil {
		if err := d.DB.SaveSnapshot(sqlite.SnapshotControlState, payload); err != nil {
			d.Logger.Warn("save control-state snapshot", zap.Error(err))
		}
	}
	if payload, err := json.Marshal(d.Coord.Export()); err == nil {
		if err := d.DB.SaveSnapshot(sqlite.SnapshotLeadLag, payload); err != nil {
			d.Logger.Warn("save lead-lag snapshot", zap.Error(err))
		}
	}
}

func (d *Daemon) restoreSnapshots() {
	if payload, found, err := d.DB.LoadSnapshot(sqlite.SnapshotControlState); err == nil && found {
		var snap state.Snapshot
		if err := json.Unmarshal(payload, &snap); err == nil {
			d.States.Import(snap)
			d.Logger.Info("restored control state", zap.Int("equipment", len(snap.KV)))
		}
	}
	if payload, found, err := d.DB.LoadSnapshot(sqlite.SnapshotLeadLag); err == nil && found {
		var groups []leadlag.Group
		if err := json.Unmarshal(payload, &groups); err == nil {
			d.Coord.Import(groups)
			d.Logger.Info("restored lead-lag groups", zap.Int("groups", len(groups)))
		}
	}
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	if d.Logger != nil {
		_ = d.Logger.Sync()
	}
}
