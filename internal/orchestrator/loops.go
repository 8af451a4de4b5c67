package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunBillingLoop drives the periodic billing tick until ctx is canceled.
// After a failed sweep (a usage report rolled its cursor back) the next tick
// is delayed with capped exponential backoff instead of retrying
// immediately; a clean sweep resets the cadence.
func (o *Orchestrator) RunBillingLoop(ctx context.Context, interval time.Duration) {
	o.log.Info("billing loop started", zap.Duration("interval", interval))
	delay := interval
	for {
		select {
		case <-ctx.Done():
			o.log.Info("billing loop stopping")
			return
		case <-time.After(delay):
		}
		if err := o.TrackRunningWorkspacesUsage(ctx); err != nil {
			o.log.Warn("billing sweep failed, backing off", zap.Error(err), zap.Duration("next_in", delay))
			delay = min(delay*2, 10*interval)
		} else {
			delay = interval
		}
	}
}

// RunReaperLoop sweeps for idle workspaces until ctx is canceled.
func (o *Orchestrator) RunReaperLoop(ctx context.Context, interval, idleThreshold time.Duration) {
	o.log.Info("reaper loop started",
		zap.Duration("interval", interval), zap.Duration("idle_threshold", idleThreshold))
	for {
		select {
		case <-ctx.Done():
			o.log.Info("reaper loop stopping")
			return
		case <-time.After(interval):
		}
		if _, err := o.CleanupIdleWorkspaces(ctx, idleThreshold); err != nil {
			o.log.Warn("idle cleanup sweep failed", zap.Error(err))
		}
	}
}
