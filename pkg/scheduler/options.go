package scheduler

import (
	"time"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
)

type options struct {
	interval      IntervalFunc
	periodic      bool
	cycleTimeout  time.Duration
	maxConcurrent int
}

func defaultOptions() *options {
	return &options{
		interval:      Fixed(constants.DefaultSyncPeriod),
		periodic:      true,
		cycleTimeout:  constants.CycleTimeout,
		maxConcurrent: constants.MaxConcurrentSources,
	}
}

// Option configures a Scheduler.
type Option func(*options) error

func newOptions(opts ...Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// WithInterval sets the function consulted before every wait.
func WithInterval(fn IntervalFunc) Option {
	return func(o *options) error {
		if fn == nil {
			return &errors.ValidationError{
				Field:   "interval",
				Message: "cannot be nil",
			}
		}
		o.interval = fn
		return nil
	}
}

// WithPeriodic toggles periodic cycles. Without them only the initial cycle
// and triggers run.
func WithPeriodic(enabled bool) Option {
	return func(o *options) error {
		o.periodic = enabled
		return nil
	}
}

// WithCycleTimeout bounds a single cycle.
func WithCycleTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return &errors.ValidationError{
				Field:   "cycleTimeout",
				Value:   d,
				Message: "must be positive",
			}
		}
		o.cycleTimeout = d
		return nil
	}
}

// WithMaxConcurrent limits how many sources run a cycle at the same time.
func WithMaxConcurrent(n int) Option {
	return func(o *options) error {
		if n < 1 {
			return &errors.ValidationError{
				Field:   "maxConcurrent",
				Value:   n,
				Message: "must be at least 1",
			}
		}
		o.maxConcurrent = n
		return nil
	}
}
