package reconciler

import (
	"time"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/differ"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/tree"
)

// Config holds the per-cycle settings of a reconciler. It is passed by value
// at construction; changing it requires a new reconciler.
type Config struct {
	// OnlySubmodels restricts registration to submodels and their elements.
	OnlySubmodels bool
	// ExposeSelfDescription enables Snapshot.
	ExposeSelfDescription bool
	// Duplicates decides which node wins when two chains collide.
	Duplicates tree.DuplicatePolicy
	// Bindings resolves the policies of each chain. Nil uses the defaults.
	Bindings tree.BindingResolver
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		OnlySubmodels:         true,
		ExposeSelfDescription: true,
		Duplicates:            tree.LastWins,
	}
}

// Observer is notified after every finished cycle, including cleanup cycles.
type Observer func(res *Result)

// options configures a reconciler.
type options struct {
	config       Config
	fetchTimeout time.Duration
	callTimeout  time.Duration
	strategy     differ.ApplyStrategy
	recorder     registry.Recorder
	differOpts   []differ.Option
	observers    []Observer
}

func defaultOptions() *options {
	return &options{
		config:       DefaultConfig(),
		fetchTimeout: constants.FetchTimeout,
		callTimeout:  constants.StoreCallTimeout,
		strategy:     differ.ApplyAll,
	}
}

// Option is a function that configures a Reconciler.
type Option func(*options) error

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// newOptions returns reconciler options with default values.
func newOptions(opts ...Option) (*options, error) {
	return defaultOptions().apply(opts...)
}

// WithConfig replaces the cycle configuration.
func WithConfig(cfg Config) Option {
	return func(o *options) error {
		o.config = cfg
		return nil
	}
}

// WithFetchTimeout bounds fetching one category from a source.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return &errors.ValidationError{
				Field:   "fetchTimeout",
				Value:   d,
				Message: "must be positive",
			}
		}
		o.fetchTimeout = d
		return nil
	}
}

// WithCallTimeout bounds every registry call.
func WithCallTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return &errors.ValidationError{
				Field:   "callTimeout",
				Value:   d,
				Message: "must be positive",
			}
		}
		o.callTimeout = d
		return nil
	}
}

// WithStrategy restricts which changes are applied to the registry.
func WithStrategy(s differ.ApplyStrategy) Option {
	return func(o *options) error {
		o.strategy = s
		return nil
	}
}

// WithRecorder observes every registry call.
func WithRecorder(rec registry.Recorder) Option {
	return func(o *options) error {
		o.recorder = rec
		return nil
	}
}

// WithDifferOptions configures payload comparison.
func WithDifferOptions(opts ...differ.Option) Option {
	return func(o *options) error {
		o.differOpts = append(o.differOpts, opts...)
		return nil
	}
}

// WithObserver adds cycle observers.
func WithObserver(obs ...Observer) Option {
	return func(o *options) error {
		for _, fn := range obs {
			if fn == nil {
				return &errors.ValidationError{
					Field:   "observer",
					Message: "cannot be nil",
				}
			}
		}
		o.observers = append(o.observers, obs...)
		return nil
	}
}
