// Package usage is a Postgres-backed usage tracker: an append-only ledger of
// billed compute intervals. Rows are keyed by (workspace, period_end) so a
// report retried after a billing-cursor rollback lands on the same row
// instead of double-counting.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hearthbox/hearth/internal/orchestrator"
)

const schema = `
CREATE SCHEMA IF NOT EXISTS hearth;
CREATE TABLE IF NOT EXISTS hearth.usage_events (
	workspace_id TEXT NOT NULL,
	period_end   TIMESTAMPTZ NOT NULL,
	period_start TIMESTAMPTZ NOT NULL,
	user_id      TEXT NOT NULL,
	session_id   TEXT NOT NULL,
	tier         TEXT NOT NULL,
	seconds      BIGINT NOT NULL,
	rate_cents   INT NOT NULL,
	cost_cents   INT NOT NULL,
	metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workspace_id, period_end)
);
CREATE INDEX IF NOT EXISTS usage_events_user_idx ON hearth.usage_events (user_id, period_end);
`

type Ledger struct {
	pool *pgxpool.Pool
}

func NewLedger(pool *pgxpool.Pool) *Ledger {
	return &Ledger{pool: pool}
}

func (l *Ledger) Migrate(ctx context.Context) error {
	if _, err := l.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate usage ledger: %w", err)
	}
	return nil
}

// RecordComputeUsage appends one billed interval. Re-reporting the same
// interval is a no-op.
func (l *Ledger) RecordComputeUsage(ctx context.Context, r orchestrator.UsageReport) error {
	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshal usage metadata: %w", err)
	}
	seconds := int64(r.Duration.Seconds())
	cost := CostCents(r.RateCents, seconds)
	_, err = l.pool.Exec(ctx, `
		INSERT INTO hearth.usage_events
			(workspace_id, period_end, period_start, user_id, session_id, tier,
			 seconds, rate_cents, cost_cents, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (workspace_id, period_end) DO NOTHING`,
		r.WorkspaceID, r.PeriodEnd, r.PeriodStart, r.UserID, r.SessionID,
		string(r.Tier), seconds, r.RateCents, cost, meta)
	if err != nil {
		return fmt.Errorf("record usage for workspace %s: %w", r.WorkspaceID, err)
	}
	return nil
}

// UserTotalCents sums a user's accumulated cost.
func (l *Ledger) UserTotalCents(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := l.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(cost_cents), 0) FROM hearth.usage_events WHERE user_id = $1`,
		userID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum usage for user %s: %w", userID, err)
	}
	return total, nil
}

// CostCents converts an hourly rate and a duration in seconds to cents,
// rounding up so intervals above the billing minimum never round to zero.
func CostCents(hourlyRateCents int, seconds int64) int {
	return int(math.Ceil(float64(hourlyRateCents) * float64(seconds) / 3600))
}
