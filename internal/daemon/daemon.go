// Package daemon wires the scanward components together and runs them as a
// long-lived process: database and migrations, artifact storage, scanner
// adapters, the task runner, the scan lifecycle manager, the scheduler, the
// notifier, and the metrics endpoint. It owns startup order, signal
// handling, and graceful shutdown.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/scanward/scanward/internal/artifacts"
	"github.com/scanward/scanward/internal/config"
	"github.com/scanward/scanward/internal/db"
	"github.com/scanward/scanward/internal/exec"
	"github.com/scanward/scanward/internal/logging"
	"github.com/scanward/scanward/internal/metrics"
	"github.com/scanward/scanward/internal/notify"
	"github.com/scanward/scanward/internal/scanners"
	"github.com/scanward/scanward/internal/scans"
	"github.com/scanward/scanward/internal/scheduler"
	"github.com/scanward/scanward/internal/tasks"
)

const (
	defaultDirPermissions  = 0o750
	defaultFilePermissions = 0o600

	healthCheckInterval = 10 * time.Second
	metricsReadTimeout  = 5 * time.Second
)

// Daemon is the scanward background process.
type Daemon struct {
	config   *config.Config
	database *db.DB
	store    *db.Store
	manager  *scans.Manager
	sched    *scheduler.Scheduler
	runner   *tasks.Runner
	metrics  *http.Server
	pidFile  string
	logger   *logging.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.RWMutex
}

// New creates a daemon for the given configuration.
func New(cfg *config.Config) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:  cfg,
		pidFile: cfg.Daemon.PIDFile,
		logger:  logging.Default().WithComponent("daemon"),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start brings up all components and blocks in the main loop until a
// shutdown signal arrives.
func (d *Daemon) Start() error {
	d.logger.Info("Starting scanward daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, defaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initComponents(); err != nil {
		d.cleanup()
		return err
	}

	d.logger.Info("Daemon started")
	return d.run()
}

// Stop requests a graceful shutdown and waits up to the configured timeout.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached, forcing exit")
	}

	d.cleanup()
	return nil
}

// initComponents builds and starts every subsystem in dependency order.
func (d *Daemon) initComponents() error {
	dbConfig := d.config.GetDatabaseConfig()
	database, err := db.ConnectAndMigrate(d.ctx, &dbConfig)
	if err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}
	d.database = database
	d.store = db.NewStore(database)

	artifactStore := artifacts.NewStore(d.config.Reports.Dir)
	registry := scanners.NewRegistry(exec.NewLocalRunner(), artifactStore, scanners.Config{
		TrivyImage:     d.config.Scanning.TrivyImage,
		SCAPContentDir: d.config.Scanning.SCAPContentDir,
	})

	d.runner = tasks.NewRunner(tasks.Config{
		MaxConcurrent:   d.config.Scanning.MaxConcurrentScans,
		ShutdownTimeout: d.config.Daemon.ShutdownTimeout,
	})

	var notifier scans.Notifier
	if d.config.SMTP.Enabled() {
		notifier = notify.New(d.config.SMTP, nil)
	}

	d.manager = scans.NewManager(d.store, registry, d.runner, notifier, d.config.Scanning)

	if d.config.Scheduler.Enabled {
		d.sched = scheduler.New(d.store, d.manager, d.config.Scheduler)
		if err := d.sched.Start(d.ctx); err != nil {
			return fmt.Errorf("scheduler initialization failed: %w", err)
		}
	} else {
		d.logger.Info("Scheduler disabled")
	}

	d.startMetricsServer()
	return nil
}

// startMetricsServer exposes the Prometheus scrape endpoint when an address
// is configured.
func (d *Daemon) startMetricsServer() {
	addr := d.config.Daemon.MetricsAddr
	if addr == "" {
		d.logger.Info("Metrics endpoint disabled")
		return
	}

	pm := metrics.NewPrometheusMetrics()
	metrics.SetExporter(pm)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(pm.Registry(), promhttp.HandlerOpts{}))

	d.metrics = &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: metricsReadTimeout,
	}

	go func() {
		d.logger.Info("Metrics endpoint listening", "addr", addr)
		if err := d.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			d.logger.Error("Metrics endpoint failed", "error", err)
		}
	}()
}

// Manager returns the scan lifecycle manager.
func (d *Daemon) Manager() *scans.Manager {
	return d.manager
}

// Scheduler returns the schedule dispatcher, or nil when disabled.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.sched
}

// Store returns the persistence aggregate.
func (d *Daemon) Store() *db.Store {
	return d.store
}

// run is the main daemon loop.
func (d *Daemon) run() error {
	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			close(d.done)
			return nil
		case <-time.After(healthCheckInterval):
			d.performHealthCheck()
		}
	}
}

// performHealthCheck verifies the database connection and reconnects with
// backoff when it is gone.
func (d *Daemon) performHealthCheck() {
	if d.database == nil {
		return
	}
	if err := d.database.PingContext(d.ctx); err != nil {
		d.logger.Error("Database health check failed", "error", err)
		if err := d.reconnectDatabase(); err != nil {
			d.logger.Error("Database reconnection failed", "error", err)
		}
	}
}

// reconnectDatabase retries the database connection with exponential backoff.
func (d *Daemon) reconnectDatabase() error {
	const maxRetries = 5
	const baseDelay = 2 * time.Second
	const maxDelay = 30 * time.Second

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if attempt > 1 {
			delay := baseDelay << (attempt - 1)
			if delay > maxDelay {
				delay = maxDelay
			}
			select {
			case <-d.ctx.Done():
				return fmt.Errorf("reconnection cancelled by shutdown")
			case <-time.After(delay):
			}
		}

		if d.database != nil {
			if err := d.database.Close(); err != nil {
				d.logger.Warn("Failed to close stale database connection", "error", err)
			}
		}

		dbConfig := d.config.GetDatabaseConfig()
		database, err := db.ConnectAndMigrate(d.ctx, &dbConfig)
		if err != nil {
			d.logger.Error("Reconnection attempt failed",
				"attempt", attempt, "max_retries", maxRetries, "error", err)
			continue
		}

		d.mu.Lock()
		d.database = database
		*d.store = *db.NewStore(database)
		d.mu.Unlock()
		d.logger.Info("Database reconnected", "attempt", attempt)
		return nil
	}

	return fmt.Errorf("failed to reconnect after %d attempts", maxRetries)
}

// createPIDFile writes the current PID, refusing to start over a live
// daemon and removing stale files.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(d.pidFile), defaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), defaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

func (d *Daemon) checkExistingPID() error {
	if _, err := os.Stat(d.pidFile); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(string(data))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// setupSignalHandlers installs graceful shutdown on SIGTERM and SIGINT.
func (d *Daemon) setupSignalHandlers() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigChan
		d.logger.Info("Received signal", "signal", sig.String())
		d.cancel()
	}()
}

// cleanup tears down components in reverse startup order.
func (d *Daemon) cleanup() {
	if d.sched != nil {
		d.sched.Stop()
	}

	if d.runner != nil {
		if err := d.runner.Shutdown(); err != nil {
			d.logger.Warn("Task runner shutdown incomplete", "error", err)
		}
	}

	if d.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsReadTimeout)
		if err := d.metrics.Shutdown(ctx); err != nil {
			d.logger.Warn("Metrics endpoint shutdown failed", "error", err)
		}
		cancel()
		metrics.SetExporter(nil)
	}

	if d.database != nil {
		if err := d.database.Close(); err != nil {
			d.logger.Error("Failed to close database", "error", err)
		}
	}

	if d.pidFile != "" {
		if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
			d.logger.Warn("Failed to remove PID file", "error", err)
		}
	}

	d.logger.Info("Cleanup completed")
}

// IsRunning reports whether shutdown has been requested.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}
