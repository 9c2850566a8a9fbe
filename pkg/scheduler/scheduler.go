// Package scheduler re-runs reconciliation cycles, periodically and on
// demand.
//
// Every source gets its own loop goroutine, so cycles of one source are
// serialized while different sources proceed concurrently. The interval is
// read again before every wait, which lets a reloaded configuration take
// effect without a restart.
package scheduler

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"golang.org/x/sync/semaphore"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/reconciler"
)

// Runner runs cycles. reconciler.Reconciler satisfies it.
type Runner interface {
	Reconcile(ctx context.Context, uri string) (*reconciler.Result, error)
	Unregister(ctx context.Context, uri string) (*reconciler.Result, error)
}

// IntervalFunc returns the current sync period.
type IntervalFunc func() time.Duration

// Fixed returns an IntervalFunc that always returns d.
func Fixed(d time.Duration) IntervalFunc {
	return func() time.Duration { return d }
}

// Trigger reasons reported in logs.
const (
	ReasonInitial  = "initial"
	ReasonPeriodic = "periodic"
)

// Scheduler drives cycles for a set of sources.
type Scheduler struct {
	runner       Runner
	interval     IntervalFunc
	periodic     bool
	cycleTimeout time.Duration
	sem          *semaphore.Weighted

	mu      sync.Mutex
	loops   map[string]*loop
	ctx     context.Context
	wg      conc.WaitGroup
	started bool
	stopped bool
}

// loop is the per-source goroutine state.
type loop struct {
	uri     string
	trigger chan string
	stop    chan struct{}
	done    chan struct{}
}

func newLoop(uri string) *loop {
	return &loop{
		uri: uri,
		// One buffered slot: triggers arriving while a cycle runs collapse
		// into a single follow-up cycle.
		trigger: make(chan string, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// New creates a scheduler for runner.
func New(runner Runner, opts ...Option) (*Scheduler, error) {
	if runner == nil {
		return nil, &errors.ValidationError{
			Field:   "runner",
			Message: "cannot be nil",
		}
	}
	o, err := newOptions(opts...)
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		runner:       runner,
		interval:     o.interval,
		periodic:     o.periodic,
		cycleTimeout: o.cycleTimeout,
		sem:          semaphore.NewWeighted(int64(o.maxConcurrent)),
		loops:        make(map[string]*loop),
	}, nil
}

// Add schedules a source. Once the scheduler is started the source runs an
// initial cycle right away. Adding a known source is a no-op.
func (s *Scheduler) Add(uri string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.WrapResource("add", "source", uri, errors.ErrCanceled)
	}
	if _, ok := s.loops[uri]; ok {
		return nil
	}
	l := newLoop(uri)
	s.loops[uri] = l
	if s.started {
		s.spawn(l)
	}
	return nil
}

// Trigger requests an immediate cycle for a source.
func (s *Scheduler) Trigger(uri, reason string) error {
	s.mu.Lock()
	l, ok := s.loops[uri]
	s.mu.Unlock()
	if !ok {
		return errors.NewNotFoundError("source", uri)
	}
	select {
	case l.trigger <- reason:
	default:
		logging.Debug().Str("source", uri).Str("reason", reason).Msg("Trigger coalesced with pending cycle")
	}
	return nil
}

// Remove stops scheduling a source, waits for its running cycle and then
// runs the cleanup cycle.
func (s *Scheduler) Remove(ctx context.Context, uri string) (*reconciler.Result, error) {
	s.mu.Lock()
	l, ok := s.loops[uri]
	if ok {
		delete(s.loops, uri)
	}
	started := s.started
	s.mu.Unlock()
	if !ok {
		return nil, errors.NewNotFoundError("source", uri)
	}

	close(l.stop)
	if started {
		select {
		case <-l.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.runner.Unregister(ctx, uri)
}

// Sources returns the scheduled source URIs.
func (s *Scheduler) Sources() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	uris := make([]string, 0, len(s.loops))
	for uri := range s.loops {
		uris = append(uris, uri)
	}
	slices.Sort(uris)
	return uris
}

// Start launches the loops. Cancelling ctx aborts running cycles.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errors.WrapResource("start", "scheduler", "", errors.ErrCanceled)
	}
	if s.started {
		return nil
	}
	s.ctx = ctx
	s.started = true
	for _, l := range s.loops {
		s.spawn(l)
	}
	logging.Info().Int("sources", len(s.loops)).Bool("periodic", s.periodic).Msg("Scheduler started")
	return nil
}

// Stop prevents further cycles and waits for running ones to finish, or
// for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	for _, l := range s.loops {
		close(l.stop)
	}
	s.loops = make(map[string]*loop)
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		logging.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return errors.NewTimeoutError("stop scheduler", "", ctx.Err().Error())
	}
}

// spawn starts the loop of l. Callers hold s.mu.
func (s *Scheduler) spawn(l *loop) {
	ctx := s.ctx
	s.wg.Go(func() {
		defer close(l.done)
		s.run(ctx, l)
	})
}

func (s *Scheduler) run(ctx context.Context, l *loop) {
	s.cycle(ctx, l, ReasonInitial)
	for {
		var tick <-chan time.Time
		var timer *time.Timer
		if s.periodic {
			timer = time.NewTimer(s.period())
			tick = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-l.stop:
			stopTimer(timer)
			return
		case reason := <-l.trigger:
			stopTimer(timer)
			s.cycle(ctx, l, reason)
		case <-tick:
			s.cycle(ctx, l, ReasonPeriodic)
		}
	}
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}

// period returns the current interval, clamped to the minimum.
func (s *Scheduler) period() time.Duration {
	d := s.interval()
	if d < constants.MinSyncPeriod {
		return constants.MinSyncPeriod
	}
	return d
}

func (s *Scheduler) cycle(ctx context.Context, l *loop, reason string) {
	select {
	case <-l.stop:
		return
	default:
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer s.sem.Release(1)

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	logging.Debug().Str("source", l.uri).Str("reason", reason).Msg("Starting cycle")
	if _, err := s.runner.Reconcile(cycleCtx, l.uri); err != nil && errors.IsNotFound(err) {
		logging.Warn().Str("source", l.uri).Msg("Scheduled source is unknown to the reconciler")
	}
}
