package orchestrator

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/observability"
	"github.com/hearthbox/hearth/internal/runtime"
)

// DiscoverWorkspaces reconciles registry records with actually-running
// containers. Run once at orchestrator startup: a crash-restart of this
// process must neither lose billing continuity for live containers nor leave
// the registry claiming RUNNING workspaces that no longer exist.
func (o *Orchestrator) DiscoverWorkspaces(ctx context.Context) error {
	records, err := o.reg.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("discovery: list records: %w", err)
	}
	known := make(map[string]*core.Workspace, len(records))
	for _, ws := range records {
		known[ws.ID] = ws
	}

	containers, err := o.rt.ListByLabel(ctx, runtime.LabelWorkspace)
	if err != nil {
		return fmt.Errorf("discovery: list containers: %w", err)
	}

	matched := map[string]bool{}
	for _, c := range containers {
		ws, ok := o.recoverFromContainer(ctx, c, known[c.Labels[runtime.LabelWorkspace]])
		if !ok {
			continue
		}
		if err := o.reg.Save(ctx, ws); err != nil {
			o.log.Error("discovery: persist rediscovered workspace failed",
				zap.String("workspace_id", ws.ID), zap.Error(err))
			continue
		}
		if err := o.status.NotifyWorkspaceStatus(ctx, ws); err != nil {
			o.log.Warn("discovery: status notify failed", zap.String("workspace_id", ws.ID), zap.Error(err))
		}
		matched[ws.ID] = true
		observability.DiscoveryRecovered.Inc()
		o.log.Info("discovery: workspace recovered from container",
			zap.String("workspace_id", ws.ID), zap.String("container_id", c.ID))
	}

	// Registry records claiming RUNNING with no live container behind them
	// are corrected: the registry must never claim a running workspace that
	// no longer exists.
	for _, ws := range records {
		if ws.Status != core.StatusRunning || matched[ws.ID] {
			continue
		}
		ws.Status = core.StatusStopped
		ws.SetMeta(metaStaleDiscovery, "true")
		if err := o.reg.Save(ctx, ws); err != nil {
			o.log.Error("discovery: persist stale correction failed",
				zap.String("workspace_id", ws.ID), zap.Error(err))
			continue
		}
		observability.DiscoveryStale.Inc()
		o.log.Warn("discovery: RUNNING record had no live container, marked STOPPED",
			zap.String("workspace_id", ws.ID))
	}
	return nil
}

// recoverFromContainer rebuilds a workspace record from container labels,
// merging into the existing record when the registry still has one. Returns
// false when required labels are missing and the record cannot be safely
// reconstructed.
func (o *Orchestrator) recoverFromContainer(ctx context.Context, c runtime.ContainerInfo, existing *core.Workspace) (*core.Workspace, bool) {
	id := c.Labels[runtime.LabelWorkspace]
	user := c.Labels[runtime.LabelUser]
	session := c.Labels[runtime.LabelSession]
	tier := c.Labels[runtime.LabelTier]
	if id == "" || user == "" || session == "" || tier == "" {
		o.log.Warn("discovery: container missing required labels, skipping",
			zap.String("container_id", c.ID), zap.Any("labels", c.Labels))
		return nil, false
	}

	now := o.now()
	ws := existing
	if ws == nil {
		ws = &core.Workspace{
			ID:        id,
			CreatedAt: now,
			Metadata:  map[string]string{},
		}
	}
	ws.UserID = user
	ws.SessionID = session
	ws.Tier = core.Tier(tier)
	ws.Status = core.StatusRunning
	if !c.Running {
		ws.Status = core.StatusStopped
	}
	ws.ContainerID = c.ID
	ws.Host = c.IP
	if ws.Port == 0 {
		ws.Port = o.cfg.GatewayPort
	}
	// Fresh billing baseline: time before this process started is either
	// already billed or unknowable, and unknowable is never billed.
	ws.Billing = core.BillingCursor{At: now}
	ws.LastActivity = now
	ws.SetMeta(metaRediscovered, "true")
	return ws, true
}

// resolveWorkspace is the on-demand discovery variant: when the registry
// misses, look for the deterministically named container before concluding
// the workspace does not exist. Recovers from registry data loss without
// losing the container.
func (o *Orchestrator) resolveWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := o.reg.Get(ctx, id)
	if err == nil {
		return ws, nil
	}
	if !core.IsNotFound(err) {
		return nil, err
	}

	c, findErr := o.rt.FindByName(ctx, runtime.ContainerName(id))
	if findErr != nil {
		return nil, err
	}
	recovered, ok := o.recoverFromContainer(ctx, c, nil)
	if !ok {
		return nil, err
	}
	if saveErr := o.reg.Save(ctx, recovered); saveErr != nil {
		return nil, fmt.Errorf("workspace %s: persist recovered record: %w", id, saveErr)
	}
	if notifyErr := o.status.NotifyWorkspaceStatus(ctx, recovered); notifyErr != nil {
		o.log.Warn("status notify failed", zap.String("workspace_id", id), zap.Error(notifyErr))
	}
	o.log.Info("workspace recovered from container on lookup", zap.String("workspace_id", id))
	return recovered, nil
}
