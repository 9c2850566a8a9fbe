// Package app provides the application context and dependency management
// for the assetsync CLI. It centralizes configuration, the registry, the
// metrics and the lazily created client.
package app

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/agentstation/assetsync"
	"github.com/agentstation/assetsync/cmd/application"
	"github.com/agentstation/assetsync/internal/metrics"
	"github.com/agentstation/assetsync/internal/registry/sqlite"
	"github.com/agentstation/assetsync/internal/sources/aasregistry"
	"github.com/agentstation/assetsync/internal/sources/aasrest"
	"github.com/agentstation/assetsync/internal/sources/file"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/sources"
)

// Ensure App implements application.Application at compile time.
var _ application.Application = (*App)(nil)

// App represents the assetsync application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string
	builtBy string

	// Configuration
	config *Config

	// Logger
	logger *zerolog.Logger

	metrics *metrics.Metrics

	// Lazily created, guarded by mu
	mu       sync.RWMutex
	client   assetsync.Client
	registry registry.Registry
	closers  []io.Closer
}

// New creates a new App instance with the given version information.
// The app is initialized with configuration loaded from the environment
// that can be customized using functional options.
func New(version, commit, date, builtBy string, opts ...Option) (*App, error) {
	app := &App{
		version: version,
		commit:  commit,
		date:    date,
		builtBy: builtBy,
	}

	config, err := LoadConfig()
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	app.config = config

	logger := NewLogger(config)
	app.logger = &logger

	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	if app.metrics == nil {
		reg := prometheus.NewRegistry()
		app.metrics = metrics.New(reg, reg)
	}
	return app, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// BuiltBy returns the build system identifier.
func (a *App) BuiltBy() string {
	return a.builtBy
}

// Config returns the application configuration.
func (a *App) Config() *Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}

// OutputFormat returns the configured output format.
func (a *App) OutputFormat() string {
	return a.config.Format
}

// Metrics returns the process metrics.
func (a *App) Metrics() *metrics.Metrics {
	return a.metrics
}

// Settings returns the run settings read from configuration.
func (a *App) Settings() application.Settings {
	return application.Settings{
		Sources:         a.config.Sources,
		EnvironmentDir:  a.config.EnvironmentDir,
		MetricsAddr:     a.config.MetricsAddr,
		ShutdownTimeout: a.config.ShutdownTimeout(),
	}
}

// Client returns the assetsync client, creating it lazily if needed.
// This is thread-safe and ensures only one instance is created.
func (a *App) Client() (assetsync.Client, error) {
	a.mu.RLock()
	if a.client != nil {
		c := a.client
		a.mu.RUnlock()
		return c, nil
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()

	// Double-check after acquiring write lock
	if a.client != nil {
		return a.client, nil
	}

	reg, err := a.openRegistry()
	if err != nil {
		return nil, err
	}

	c, err := assetsync.New(
		assetsync.WithRegistry(reg),
		assetsync.WithConfig(a.config.Reconciler()),
		assetsync.WithRecorder(a.metrics),
		assetsync.WithReconcilerOptions(reconciler.WithObserver(a.metrics.ObserveCycle)),
		assetsync.WithSyncPeriodFunc(a.config.SyncPeriod),
		assetsync.WithAutoSync(false),
	)
	if err != nil {
		return nil, errors.WrapResource("create", "client", "", err)
	}

	a.client = c
	return c, nil
}

// openRegistry creates the configured registry backend. Callers hold mu.
func (a *App) openRegistry() (registry.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}

	switch strings.ToLower(a.config.Registry) {
	case "", "memory":
		a.registry = registry.NewMemory()
	case "sqlite":
		store, err := sqlite.Open(a.config.RegistryPath)
		if err != nil {
			return nil, errors.WrapResource("open", "registry", a.config.RegistryPath, err)
		}
		a.registry = store
		a.closers = append(a.closers, store)
	default:
		return nil, &errors.ValidationError{
			Field:   "registry",
			Value:   a.config.Registry,
			Message: "must be memory or sqlite",
		}
	}

	a.logger.Debug().
		Str("registry", a.config.Registry).
		Msg("Registry opened")
	return a.registry, nil
}

// NewSource builds the source for uri: a file:// path, an AAS registry
// prefixed with registry+, or an AAS repository.
func (a *App) NewSource(uri string) (sources.Source, error) {
	if path, ok := file.PathOf(uri); ok {
		return file.New(path)
	}

	var src interface {
		sources.Source
		io.Closer
	}
	switch {
	case aasregistry.IsRegistryURI(uri):
		opts := []aasregistry.Option{
			aasregistry.WithTimeout(a.config.RequestTimeout),
			aasregistry.WithPageSize(a.config.PageSize),
		}
		for k, v := range a.config.Headers {
			opts = append(opts, aasregistry.WithHeader(k, v))
		}
		src = aasregistry.New(uri, opts...)
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		opts := []aasrest.Option{
			aasrest.WithTimeout(a.config.RequestTimeout),
			aasrest.WithPageSize(a.config.PageSize),
		}
		for k, v := range a.config.Headers {
			opts = append(opts, aasrest.WithHeader(k, v))
		}
		src = aasrest.New(uri, opts...)
	default:
		return nil, &errors.ValidationError{
			Field:   "uri",
			Value:   uri,
			Message: "must be an http(s) endpoint, a registry+http(s) registry or a file:// path",
		}
	}

	a.mu.Lock()
	a.closers = append(a.closers, src)
	a.mu.Unlock()
	return src, nil
}

// WatchConfig reloads the sync period whenever the config file changes.
func (a *App) WatchConfig() {
	if a.config.ConfigFile == "" || a.config.v == nil {
		return
	}
	a.config.v.OnConfigChange(func(e fsnotify.Event) {
		period, err := a.config.reloadSyncPeriod()
		if err != nil {
			a.logger.Warn().Err(err).Str("file", e.Name).Msg("Ignoring invalid config change")
			return
		}
		a.logger.Info().
			Str("file", e.Name).
			Dur("sync_period", period).
			Msg("Config reloaded")
	})
	a.config.v.WatchConfig()
}

// Shutdown performs graceful shutdown of the application.
// It stops automatic syncs and closes the registry and the sources.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	c, closers := a.client, a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs []error
	if c != nil {
		if err := c.Close(ctx); err != nil {
			a.logger.Error().Err(err).Msg("Failed to stop auto-sync during shutdown")
			errs = append(errs, err)
		}
	}
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Option is a functional option for configuring the App.
type Option func(*App) error

// WithConfig sets a custom configuration.
func WithConfig(config *Config) Option {
	return func(a *App) error {
		a.config = config
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// WithRegistry sets the registry instead of the configured backend
// (useful for testing).
func WithRegistry(reg registry.Registry) Option {
	return func(a *App) error {
		a.registry = reg
		return nil
	}
}

// WithMetrics sets the metrics instead of a private Prometheus registry.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *App) error {
		a.metrics = m
		return nil
	}
}
