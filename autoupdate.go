package assetsync

import (
	"context"

	"github.com/agentstation/assetsync/pkg/constants"
	"github.com/agentstation/assetsync/pkg/errors"
	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/scheduler"
)

// Compile-time interface check to ensure proper implementation.
var _ AutoSyncer = (*client)(nil)

// AutoSyncer provides controls for automatic synchronization.
type AutoSyncer interface {
	// AutoSyncOn starts scheduling every tracked source
	AutoSyncOn() error

	// AutoSyncOff stops scheduling; running cycles finish
	AutoSyncOff() error
}

// AutoSyncOn starts scheduling every tracked source.
func (c *client) AutoSyncOn() error {
	// Stop any existing scheduler to prevent resource leaks
	if err := c.AutoSyncOff(); err != nil {
		return err
	}

	sched, err := scheduler.New(c.reconciler,
		scheduler.WithInterval(c.options.syncPeriod),
		scheduler.WithPeriodic(c.options.periodic),
		scheduler.WithCycleTimeout(c.options.cycleTimeout),
	)
	if err != nil {
		return err
	}

	// Create a cancellable context for the scheduled cycles
	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		cancel()
		return errors.WrapResource("start", "scheduler", "", err)
	}

	// Sources are read under c.mu so none added concurrently is missed.
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scheduler = sched
	c.cancel = cancel
	for _, uri := range c.reconciler.Sources() {
		if err := sched.Add(uri); err != nil {
			return err
		}
	}
	return nil
}

// AutoSyncOff stops scheduling and waits for running cycles.
func (c *client) AutoSyncOff() error {
	ctx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
	defer cancel()
	return c.stopAutoSync(ctx)
}

func (c *client) stopAutoSync(ctx context.Context) error {
	c.mu.Lock()
	sched, cancel := c.scheduler, c.cancel
	c.scheduler, c.cancel = nil, nil
	c.mu.Unlock()

	if sched == nil {
		return nil
	}
	err := sched.Stop(ctx)
	if err != nil {
		// Running cycles did not finish in time; abort them.
		logging.Warn().Err(err).Msg("Aborting running cycles")
	}
	cancel()
	return err
}
