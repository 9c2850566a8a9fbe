package assetsync

import (
	"time"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/scheduler"
)

// options holds the configuration of a Client.
type options struct {
	registry       registry.Registry
	config         reconciler.Config
	recorder       registry.Recorder
	reconcilerOpts []reconciler.Option

	autoSync     bool
	syncPeriod   scheduler.IntervalFunc
	periodic     bool
	cycleTimeout time.Duration
}

func defaults() *options {
	return &options{
		config:       reconciler.DefaultConfig(),
		autoSync:     true,
		syncPeriod:   scheduler.Fixed(constants.DefaultSyncPeriod),
		periodic:     true,
		cycleTimeout: constants.CycleTimeout,
	}
}

func (o *options) apply(opts ...Option) (*options, error) {
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Option is a function that configures a Client
type Option func(*options) error

// WithRegistry sets the registry resources are written to. Required.
func WithRegistry(reg registry.Registry) Option {
	return func(o *options) error {
		o.registry = reg
		return nil
	}
}

// WithConfig sets the reconciliation settings.
func WithConfig(cfg reconciler.Config) Option {
	return func(o *options) error {
		o.config = cfg
		return nil
	}
}

// WithRecorder observes every registry call, e.g. for metrics.
func WithRecorder(rec registry.Recorder) Option {
	return func(o *options) error {
		o.recorder = rec
		return nil
	}
}

// WithReconcilerOptions passes options through to the reconciler.
func WithReconcilerOptions(opts ...reconciler.Option) Option {
	return func(o *options) error {
		o.reconcilerOpts = append(o.reconcilerOpts, opts...)
		return nil
	}
}

// WithAutoSync configures whether sources are synced automatically
func WithAutoSync(enabled bool) Option {
	return func(o *options) error {
		o.autoSync = enabled
		return nil
	}
}

// WithSyncPeriod configures a fixed interval between periodic cycles
func WithSyncPeriod(d time.Duration) Option {
	return func(o *options) error {
		if d < constants.MinSyncPeriod {
			return &errors.ValidationError{
				Field:   "syncPeriod",
				Value:   d,
				Message: "must be at least " + constants.MinSyncPeriod.String(),
			}
		}
		o.syncPeriod = scheduler.Fixed(d)
		return nil
	}
}

// WithSyncPeriodFunc configures an interval that is read again before every
// wait, so a reloaded configuration applies to the next cycle.
func WithSyncPeriodFunc(fn scheduler.IntervalFunc) Option {
	return func(o *options) error {
		if fn == nil {
			return &errors.ValidationError{
				Field:   "syncPeriod",
				Message: "cannot be nil",
			}
		}
		o.syncPeriod = fn
		return nil
	}
}

// WithPeriodicSync toggles periodic cycles. Without them sources sync once
// when added and again on every trigger.
func WithPeriodicSync(enabled bool) Option {
	return func(o *options) error {
		o.periodic = enabled
		return nil
	}
}

// WithCycleTimeout bounds one automatic cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.cycleTimeout = d
		return nil
	}
}
