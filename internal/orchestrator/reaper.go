package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/observability"
)

// CleanupIdleWorkspaces deletes every workspace whose last recorded activity
// is older than threshold, returning the ids it deleted. One workspace
// failing to delete never stops the sweep.
func (o *Orchestrator) CleanupIdleWorkspaces(ctx context.Context, threshold time.Duration) ([]string, error) {
	records, err := o.reg.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("idle cleanup: list records: %w", err)
	}

	now := o.now()
	var deleted []string
	for _, ws := range records {
		idle := now.Sub(ws.LastActivity)
		if idle <= threshold {
			continue
		}
		if err := o.DeleteWorkspace(ctx, ws.ID, true); err != nil {
			o.log.Warn("idle cleanup: delete failed, continuing sweep",
				zap.String("workspace_id", ws.ID), zap.Duration("idle", idle), zap.Error(err))
			continue
		}
		observability.ReaperDeletions.Inc()
		o.log.Info("idle workspace deleted",
			zap.String("workspace_id", ws.ID), zap.Duration("idle", idle))
		deleted = append(deleted, ws.ID)
	}
	return deleted, nil
}
