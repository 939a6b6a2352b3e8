/**
 * Main Application Coordinator for fetchkit
 *
 * Features:
 * - Dependency injection and initialization
 * - Component lifecycle management
 * - Graceful shutdown handling
 * - Signal handling (SIGINT/SIGTERM)
 * - Configuration management
 *
 * Author: fetchkit Team
 * Updated: 2026-07-31
 */

package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/VatsalSy/fetchkit/internal/acquire"
	"github.com/VatsalSy/fetchkit/internal/cache"
	"github.com/VatsalSy/fetchkit/internal/checkpoint"
	"github.com/VatsalSy/fetchkit/internal/config"
	"github.com/VatsalSy/fetchkit/internal/errors"
	"github.com/VatsalSy/fetchkit/internal/logger"
	"github.com/VatsalSy/fetchkit/internal/queue"
	"github.com/VatsalSy/fetchkit/internal/transport/httpfetch"
	"github.com/VatsalSy/fetchkit/internal/transport/objectstore"
)

// ConfigLoader loads the application configuration. Tests substitute a
// loader backed by a local viper instance instead of the package-global one.
type ConfigLoader func() (*config.Config, error)

// Option configures a Coordinator at construction time.
type Option func(*Coordinator)

// WithConfigLoader overrides how App loads its configuration.
func WithConfigLoader(loader ConfigLoader) Option {
	return func(a *Coordinator) { a.configLoader = loader }
}

// Coordinator is the application's top-level lifecycle owner: it wires
// together configuration, logging, the cache, the checkpoint store, the
// schedulers and their transports, and the resource manager (acquire.Manager).
type Coordinator struct {
	config          *config.Config
	configLoader    ConfigLoader
	logger          *logger.Logger
	errorHandler    *errors.Handler
	cache           *cache.Cache
	checkpoints     *checkpoint.Store
	normalScheduler *queue.Scheduler
	prioScheduler   *queue.Scheduler
	manager         *acquire.Manager
	shutdownChan    chan struct{}
	mu              sync.RWMutex
	shutdownOnce    sync.Once
	isInitialized   bool
}

// New creates a new application instance.
func New(opts ...Option) (*Coordinator, error) {
	a := &Coordinator{shutdownChan: make(chan struct{}), configLoader: config.Load}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Initialize loads configuration and stands up logging, the cache, and the
// checkpoint store; the schedulers and manager are wired by InitializeEngine.
func (app *Coordinator) Initialize() error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.isInitialized {
		return errors.Errorf("application already initialized")
	}

	cfg, err := app.configLoader()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	app.config = cfg

	var output io.Writer = os.Stdout
	outputPath := cfg.GetString("log.output")
	if outputPath != "" && outputPath != "stdout" {
		file, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return errors.Wrap(err, "failed to open log file")
		}
		output = file
	}

	logConfig := &logger.Config{
		Level:         cfg.GetLogLevel(),
		Output:        output,
		Pretty:        cfg.GetString("log.format") == "pretty",
		IncludeCaller: true,
	}

	app.logger = logger.New(logConfig)
	if app.logger == nil {
		return errors.NewSimple("failed to initialize logger")
	}

	app.logger.Info("Initializing fetchkit",
		"version", cfg.GetString("version"),
		"config", viper.ConfigFileUsed(),
	)

	app.errorHandler = errors.NewHandler(app.logger)

	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return errors.Wrap(err, "failed to create data directory")
	}

	c, err := cache.New(
		filepath.Join(dataDir, "files"),
		filepath.Join(dataDir, "cache.db"),
		cfg.Mirror.MaxRetries,
		buildItem, nil, app.logger,
	)
	if err != nil {
		return errors.Wrap(err, "failed to initialize cache")
	}
	app.cache = c

	cp, err := checkpoint.Open(filepath.Join(dataDir, "checkpoints.db"))
	if err != nil {
		return errors.Wrap(err, "failed to initialize checkpoint store")
	}
	app.checkpoints = cp

	app.isInitialized = true
	app.logger.Info("Application initialized successfully")

	return nil
}

// InitializeEngine stands up the schedulers, transports, and resource
// manager. Separated from Initialize so callers can configure additional
// transports (or skip ones they don't need) first.
func (app *Coordinator) InitializeEngine(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if !app.isInitialized {
		return errors.Errorf("application not initialized")
	}
	if app.manager != nil {
		return nil
	}

	qcfg := queue.Config{SimultaneousDownloads: app.config.Queue.SimultaneousDownloads}
	app.normalScheduler = queue.NewScheduler(qcfg, nil, app.logger)

	if app.config.Queue.DedicatedPriorityLane {
		pcfg := queue.Config{SimultaneousDownloads: app.config.Queue.PrioritySimultaneous}
		app.prioScheduler = queue.NewScheduler(pcfg, nil, app.logger)
	}

	httpCfg := httpfetch.DefaultConfig()
	httpCfg.TempDir = filepath.Join(app.config.GetDataDir(), "tmp")
	if app.config.Transport.RateLimitPerSec > 0 {
		httpCfg.RequestsPerSec = app.config.Transport.RateLimitPerSec
	}
	if app.config.Transport.Burst > 0 {
		httpCfg.Burst = app.config.Transport.Burst
	}
	if app.config.Transport.MaxRetries > 0 {
		httpCfg.MaxRetries = app.config.Transport.MaxRetries
	}

	httpProc, err := httpfetch.New(httpCfg, app.logger)
	if err != nil {
		return errors.Wrap(err, "failed to initialize http transport")
	}
	app.normalScheduler.Add(httpProc)
	if app.prioScheduler != nil {
		app.prioScheduler.Add(httpProc)
	}

	if s3Client, err := objectstore.NewDefaultClient(ctx, ""); err == nil {
		s3Proc, err := objectstore.New(s3Client, filepath.Join(app.config.GetDataDir(), "tmp"), app.logger)
		if err != nil {
			return errors.Wrap(err, "failed to initialize object store transport")
		}
		app.normalScheduler.Add(s3Proc)
		if app.prioScheduler != nil {
			app.prioScheduler.Add(s3Proc)
		}
	} else {
		app.logger.Warn("object store transport unavailable, s3:// mirrors will have no processor", "error", err.Error())
	}

	app.manager = acquire.New(app.cache, app.checkpoints, app.normalScheduler, app.prioScheduler, app.logger)
	app.normalScheduler.SetDelegate(app.manager)
	if app.prioScheduler != nil {
		app.prioScheduler.SetDelegate(app.manager)
	}

	app.logger.Info("Acquisition engine initialized successfully")
	return nil
}

// Manager returns the resource manager, or nil if InitializeEngine has not
// been called yet.
func (app *Coordinator) Manager() *acquire.Manager {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.manager
}

// CacheForCLI returns the cache, for commands (like cleanup) that need
// direct access without going through the resource manager.
func (app *Coordinator) CacheForCLI() *cache.Cache {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.cache
}

// Checkpoints returns the checkpoint store.
func (app *Coordinator) Checkpoints() *checkpoint.Store {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return app.checkpoints
}

// Stop stops the application gracefully, closing the cache and checkpoint
// stores. Safe to call more than once.
func (app *Coordinator) Stop() error {
	app.shutdownOnce.Do(func() {
		close(app.shutdownChan)

		app.mu.Lock()
		defer app.mu.Unlock()

		if app.logger != nil {
			app.logger.Info("Shutting down fetchkit...")
		}

		if app.normalScheduler != nil {
			app.normalScheduler.Pause()
		}
		if app.prioScheduler != nil {
			app.prioScheduler.Pause()
		}

		if app.cache != nil {
			if err := app.cache.Close(); err != nil && app.logger != nil {
				app.logger.Error(err, "failed to close cache")
			}
		}
		if app.checkpoints != nil {
			if err := app.checkpoints.Close(); err != nil && app.logger != nil {
				app.logger.Error(err, "failed to close checkpoint store")
			}
		}

		if app.logger != nil {
			app.logger.Info("fetchkit shutdown complete")
		}
	})

	return nil
}

func (app *Coordinator) handleSignals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	app.setupSignalHandling(sigChan)

	select {
	case sig := <-sigChan:
		app.logger.Info("Received signal", "signal", fmt.Sprint(sig))
		cancel()
	case <-app.shutdownChan:
		cancel()
	}
}

func (app *Coordinator) expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}
	return path
}
