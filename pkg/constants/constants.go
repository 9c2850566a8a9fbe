// Package constants provides shared constants used throughout the assetsync codebase.
// This includes timeouts, limits, file permissions, and the well-known default
// policy identifiers that should be consistent across the application.
package constants

import "time"

// Timeout constants define various timeout durations used in the application
const (
	// DefaultHTTPTimeout is the standard timeout for HTTP requests to remote AAS servers
	DefaultHTTPTimeout = 30 * time.Second

	// FetchTimeout bounds fetching one category of top-level nodes from a source
	FetchTimeout = 2 * time.Minute

	// AvailabilityTimeout bounds the reachability check before a cycle
	AvailabilityTimeout = 5 * time.Second

	// StoreCallTimeout bounds every create, update or delete call against the registry
	StoreCallTimeout = 30 * time.Second

	// CycleTimeout is the timeout for one complete reconciliation cycle
	CycleTimeout = 10 * time.Minute

	// DefaultSyncPeriod is the default interval between periodic reconciliation cycles
	DefaultSyncPeriod = 50 * time.Second

	// MinSyncPeriod is the smallest interval the scheduler accepts
	MinSyncPeriod = 1 * time.Second

	// WatchDebounce is the quiet period before a file change turns into a trigger
	WatchDebounce = 250 * time.Millisecond

	// ShutdownTimeout is how long the CLI waits for in-flight cycles on exit
	ShutdownTimeout = 30 * time.Second
)

// File permission constants define standard Unix file permissions
const (
	// DirPermissions is the default permission for created directories (rwxr-xr-x)
	DirPermissions = 0755

	// FilePermissions is the default permission for created files (rw-r--r--)
	FilePermissions = 0644
)

// Limit constants define various limits and capacities
const (
	// DefaultPageSize is the number of top-level nodes requested per page
	DefaultPageSize = 100

	// MaxPages caps cursor following so a misbehaving server cannot loop forever
	MaxPages = 10000

	// MaxConcurrentSources limits how many sources may run a cycle at the same time
	MaxConcurrentSources = 16
)

// Policy constants name the policies bound to resources that have no explicit binding.
const (
	// DefaultAccessPolicyID is the access policy applied when none is configured
	DefaultAccessPolicyID = "default-access-policy"

	// DefaultContractPolicyID is the contract policy applied when none is configured
	DefaultContractPolicyID = "default-contract-policy"
)

// ContentTypeJSON is the content type recorded on registered resources.
const ContentTypeJSON = "application/json"

// CLI defaults.
const (
	// DefaultRegistry selects the registry backend of the CLI
	DefaultRegistry = "memory"

	// DefaultRegistryPath is the sqlite database used when the sqlite registry is selected
	DefaultRegistryPath = "assetsync.db"

	// MetricsReadHeaderTimeout bounds reading request headers on the metrics endpoint
	MetricsReadHeaderTimeout = 5 * time.Second
)
