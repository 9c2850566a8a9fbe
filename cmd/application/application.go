// Package application provides the application interface for assetsync commands.
//
// The Application interface defines the contract between the application layer and
// command implementations, enabling dependency injection and testability.
//
// Usage in Commands:
//
//	func NewCommand(app application.Application) *cobra.Command {
//	    return &cobra.Command{
//	        RunE: func(cmd *cobra.Command, args []string) error {
//	            client, err := app.Client()
//	            if err != nil {
//	                return err
//	            }
//	            // ... use client
//	            return nil
//	        },
//	    }
//	}
package application

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/agentstation/assetsync"
	"github.com/agentstation/assetsync/internal/metrics"
	"github.com/agentstation/assetsync/pkg/sources"
)

// Application provides the application interface that commands need.
// The App struct from cmd/assetsync/app implements this interface.
//
// Thread Safety: All methods must be safe for concurrent access.
type Application interface {
	// Client returns the assetsync client, creating it lazily. Auto-sync
	// is off until a command turns it on.
	Client() (assetsync.Client, error)

	// NewSource builds the source for uri: file:// URIs read local
	// environment files, registry+http(s) URIs an AAS registry, and
	// http(s) URIs an AAS repository.
	NewSource(uri string) (sources.Source, error)

	// Metrics returns the process metrics.
	Metrics() *metrics.Metrics

	// Settings returns the run settings read from configuration.
	Settings() Settings

	// WatchConfig reloads live settings whenever the config file changes.
	WatchConfig()

	// Logger returns the configured logger instance.
	Logger() *zerolog.Logger

	// OutputFormat returns the configured output format (json, yaml, table, etc).
	OutputFormat() string

	// Version returns the application version string.
	Version() string

	// Commit returns the git commit hash.
	Commit() string

	// Date returns the build date.
	Date() string

	// BuiltBy returns the build system identifier.
	BuiltBy() string
}

// Settings are the configured inputs of the run command.
type Settings struct {
	// Sources are the repository endpoints tracked from the start.
	Sources []string

	// EnvironmentDir is watched for environment files; empty disables it.
	EnvironmentDir string

	// MetricsAddr is the listen address of /metrics; empty disables it.
	MetricsAddr string

	// ShutdownTimeout bounds waiting for running cycles on exit.
	ShutdownTimeout time.Duration
}
