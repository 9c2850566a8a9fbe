// Package run provides the run command, the long-running sync daemon.
package run

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agentstation/assetsync"
	"github.com/agentstation/assetsync/cmd/application"
	"github.com/agentstation/assetsync/internal/sources/file"
	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
)

// NewCommand creates the run command using app context.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "run [uri]...",
		GroupID: "core",
		Short:   "Keep the registry in sync until interrupted",
		Long: `Run tracks the configured sources plus the given ones and reconciles
each of them periodically (sync_period) and on change.

When environment_files names a directory, every environment file in it
is a source: new files are registered, written files trigger a cycle and
deleted files are unregistered. Prometheus metrics are served on
metrics_addr when set.`,
		Example: `  assetsync run http://aas-env:8081
  ASSETSYNC_ENVIRONMENT_FILES=./aas ASSETSYNC_METRICS_ADDR=:9090 assetsync run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := app.Client()
			if err != nil {
				return err
			}
			d := &daemon{
				app:    app,
				client: client,
				logger: app.Logger(),
			}
			return d.run(cmd.Context(), args)
		},
	}
}

// daemon is one invocation of the run command.
type daemon struct {
	app    application.Application
	client assetsync.Client
	logger *zerolog.Logger
}

func (d *daemon) run(ctx context.Context, args []string) error {
	settings := d.app.Settings()

	// Initial sources are restored before the first cycle runs
	uris := append(append([]string{}, settings.Sources...), args...)
	var watcher *file.Watcher
	if settings.EnvironmentDir != "" {
		watcher = file.NewWatcher(settings.EnvironmentDir, 0)
		paths, err := watcher.Existing()
		if err != nil {
			d.logger.Warn().Err(err).Str("dir", settings.EnvironmentDir).Msg("Listing environment files failed")
		}
		for _, path := range paths {
			uris = append(uris, file.URIFor(path))
		}
	}
	for _, uri := range uris {
		if err := d.track(ctx, uri); err != nil {
			return err
		}
	}

	if err := d.client.AutoSyncOn(); err != nil {
		return err
	}
	d.app.WatchConfig()

	g, gctx := errgroup.WithContext(ctx)
	if settings.MetricsAddr != "" {
		g.Go(func() error {
			return d.serveMetrics(gctx, settings.MetricsAddr)
		})
	}
	if watcher != nil {
		events := make(chan file.Event, 16)
		if err := watcher.Start(gctx, events); err != nil {
			return err
		}
		g.Go(func() error {
			defer watcher.Stop() //nolint:errcheck
			d.watch(gctx, events)
			return nil
		})
	}

	d.logger.Info().
		Int("sources", len(d.client.SourceURIs())).
		Msg("Sync running")
	<-gctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.ShutdownTimeout)
	defer cancel()
	closeErr := d.client.Close(shutdownCtx)

	if err := g.Wait(); err != nil {
		return err
	}
	return closeErr
}

// track starts tracking uri and adopts what the registry already holds
// for it.
func (d *daemon) track(ctx context.Context, uri string) error {
	src, err := d.app.NewSource(uri)
	if err != nil {
		return err
	}
	if err := d.client.AddSource(src); err != nil {
		return err
	}

	n, err := d.client.Restore(ctx, src.URI())
	if err != nil {
		d.logger.Warn().Err(err).Str("source", src.URI()).Msg("Restore failed")
		return nil
	}
	if m := d.app.Metrics(); m != nil {
		m.SetRegistered(src.URI(), n)
	}
	return nil
}

// watch turns environment file events into source changes until ctx is done.
func (d *daemon) watch(ctx context.Context, events <-chan file.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			logger := d.logger.With().
				Str("source", ev.URI).
				Str("operation", string(ev.Operation)).
				Logger()

			switch ev.Operation {
			case file.OpRegistered:
				if err := d.track(ctx, ev.URI); err != nil {
					logger.Error().Err(err).Msg("Tracking environment file failed")
				}
			case file.OpChanged:
				if err := d.client.Trigger(ev.URI, string(ev.Operation)); err != nil {
					logger.Warn().Err(err).Msg("Trigger failed")
				}
			case file.OpRemoved:
				res, err := d.client.RemoveSource(ctx, ev.URI)
				if err != nil {
					logger.Error().Err(err).Msg("Unregistering environment file failed")
					continue
				}
				if m := d.app.Metrics(); m != nil {
					m.Forget(ev.URI)
				}
				logger.Info().Msg(res.Summary())
			}
		}
	}
}

// serveMetrics serves /metrics until ctx is done.
func (d *daemon) serveMetrics(ctx context.Context, addr string) error {
	m := d.app.Metrics()
	if m == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: constants.MetricsReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		d.logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.WrapResource("serve", "metrics", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.MetricsReadHeaderTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
