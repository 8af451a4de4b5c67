package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/observability"
)

// finalizeBilling reports the interval since the billing cursor when a
// workspace stops. The cursor is always refreshed to now before returning,
// whether or not the report succeeded: a stop must never leave an interval
// that a later stop would bill again.
func (o *Orchestrator) finalizeBilling(ctx context.Context, ws *core.Workspace, log *zap.Logger) {
	now := o.now()
	prevAt := ws.Billing.At
	ws.Billing = core.BillingCursor{At: now}

	if prevAt.IsZero() {
		// Never guess the interval; skip and start a fresh baseline.
		log.Warn("billing cursor missing, skipping interval")
		return
	}
	elapsed := now.Sub(prevAt)
	if elapsed < o.cfg.BillingMinInterval {
		return
	}

	err := o.usage.RecordComputeUsage(ctx, UsageReport{
		WorkspaceID: ws.ID,
		UserID:      ws.UserID,
		SessionID:   ws.SessionID,
		Tier:        ws.Tier,
		Duration:    elapsed,
		RateCents:   core.HourlyRateCents(ws.Tier),
		PeriodStart: prevAt,
		PeriodEnd:   now,
		Metadata:    map[string]string{"reason": "stop"},
	})
	if err != nil {
		// Best-effort at stop time: the cursor stays refreshed so the
		// interval is dropped, not double-billed.
		log.Warn("usage report at stop failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		observability.BillingReportFailures.Inc()
		return
	}
	observability.BilledSecondsTotal.WithLabelValues(string(ws.Tier)).Add(elapsed.Seconds())
	log.Info("usage reported at stop", zap.Duration("elapsed", elapsed))
}

// TrackRunningWorkspacesUsage is the periodic billing tick. It holds a single
// process-wide lock for the whole sweep so concurrent ticks cannot read the
// same cursor twice. For each running workspace the cursor is advanced to now
// before the usage report is sent; a failed report rolls the cursor back so
// the interval is retried on the next tick instead of lost or double-counted.
func (o *Orchestrator) TrackRunningWorkspacesUsage(ctx context.Context) error {
	o.billMu.Lock()
	defer o.billMu.Unlock()

	sweepStart := time.Now()
	defer func() {
		observability.BillingSweepDuration.Observe(time.Since(sweepStart).Seconds())
	}()

	running, err := o.reg.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("billing sweep: list running: %w", err)
	}

	var errs []error
	for _, ws := range running {
		if err := o.billWorkspace(ctx, ws); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (o *Orchestrator) billWorkspace(ctx context.Context, ws *core.Workspace) error {
	log := observability.WorkspaceLogger(o.log, ws.ID, "billing")
	now := o.now()

	// Missing or non-positive cursor: corrective, not punitive. Reset the
	// baseline and bill from here on.
	if ws.Billing.At.IsZero() || !now.After(ws.Billing.At) {
		log.Warn("billing cursor missing or ahead of clock, resetting")
		ws.Billing = core.BillingCursor{At: now}
		return o.reg.Save(ctx, ws)
	}

	elapsed := now.Sub(ws.Billing.At)
	if elapsed < o.cfg.BillingMinInterval {
		return nil
	}

	// Two-phase: advance the cursor before reporting so a crash mid-report
	// under-bills rather than double-bills.
	prev := ws.Billing.Advance(now)
	if err := o.reg.Save(ctx, ws); err != nil {
		return fmt.Errorf("workspace %s: advance billing cursor: %w", ws.ID, err)
	}

	err := o.usage.RecordComputeUsage(ctx, UsageReport{
		WorkspaceID: ws.ID,
		UserID:      ws.UserID,
		SessionID:   ws.SessionID,
		Tier:        ws.Tier,
		Duration:    elapsed,
		RateCents:   core.HourlyRateCents(ws.Tier),
		PeriodStart: prev.At,
		PeriodEnd:   now,
		Metadata:    map[string]string{"reason": "periodic"},
	})
	if err != nil {
		observability.BillingReportFailures.Inc()
		ws.Billing.Rollback(prev)
		if saveErr := o.reg.Save(ctx, ws); saveErr != nil {
			log.Error("billing cursor rollback failed", zap.Error(saveErr))
		}
		return fmt.Errorf("workspace %s: usage report: %w", ws.ID, err)
	}

	ws.Billing.Confirm()
	if err := o.reg.Save(ctx, ws); err != nil {
		log.Error("billing cursor confirm failed", zap.Error(err))
	}
	observability.BilledSecondsTotal.WithLabelValues(string(ws.Tier)).Add(elapsed.Seconds())
	log.Info("usage reported", zap.Duration("elapsed", elapsed))
	return nil
}
