package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/observability"
)

// StopWorkspace finalizes billing, syncs files out, stops the container and
// marks the record STOPPED. A missing container flips the record to ERROR
// rather than silently succeeding.
func (o *Orchestrator) StopWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	log := observability.WorkspaceLogger(o.log, id, "stop")
	ws, err := o.resolveWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}

	o.finalizeBilling(ctx, ws, log)

	// Sync and dotfiles save are independent best-effort paths.
	if err := o.files.SyncWorkspace(ctx, ws); err != nil {
		log.Warn("final sync failed", zap.Error(err))
		ws.SetMeta(metaSyncError, err.Error())
	}
	if err := o.files.SaveUserDotfiles(ctx, ws); err != nil {
		log.Warn("dotfiles save failed", zap.Error(err))
		ws.SetMeta(metaDotfilesError, err.Error())
	}
	if err := o.files.StopBackgroundSync(ctx, id); err != nil {
		log.Warn("background sync stop failed", zap.Error(err))
	}

	if err := o.rt.Stop(ctx, ws.ContainerID, o.cfg.StopTimeout); err != nil {
		if core.IsNotFound(err) {
			ws.Status = core.StatusError
			if saveErr := o.reg.Save(ctx, ws); saveErr != nil {
				log.Error("failed to persist ERROR status", zap.Error(saveErr))
			}
			observability.LifecycleOpsTotal.WithLabelValues("stop", "error").Inc()
			return ws, core.Errorf(core.ErrNotFound, "workspace %s: container %s is gone", id, ws.ContainerID)
		}
		observability.LifecycleOpsTotal.WithLabelValues("stop", "error").Inc()
		return nil, fmt.Errorf("workspace %s: stop container: %w", id, err)
	}

	ws.Status = core.StatusStopped
	ws.LastActivity = o.now()
	if err := o.reg.Save(ctx, ws); err != nil {
		return nil, fmt.Errorf("workspace %s: persist stop: %w", id, err)
	}
	observability.LifecycleOpsTotal.WithLabelValues("stop", "ok").Inc()
	log.Info("workspace stopped")
	return ws, nil
}

// RestartWorkspace starts the existing container again. No-op when the
// workspace is already running; a missing container is a signaled failure.
func (o *Orchestrator) RestartWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	log := observability.WorkspaceLogger(o.log, id, "restart")
	ws, err := o.resolveWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := o.rt.Inspect(ctx, ws.ContainerID)
	if err != nil {
		if core.IsNotFound(err) {
			ws.Status = core.StatusError
			if saveErr := o.reg.Save(ctx, ws); saveErr != nil {
				log.Error("failed to persist ERROR status", zap.Error(saveErr))
			}
			observability.LifecycleOpsTotal.WithLabelValues("restart", "error").Inc()
			return ws, core.Errorf(core.ErrNotFound, "workspace %s: container %s is gone", id, ws.ContainerID)
		}
		return nil, fmt.Errorf("workspace %s: inspect container: %w", id, err)
	}

	if info.Running && ws.Status == core.StatusRunning {
		log.Info("workspace already running")
		return ws, nil
	}

	if !info.Running {
		if err := o.rt.Start(ctx, ws.ContainerID); err != nil {
			observability.LifecycleOpsTotal.WithLabelValues("restart", "error").Inc()
			return nil, fmt.Errorf("workspace %s: start container: %w", id, err)
		}
		if fresh, err := o.rt.Inspect(ctx, ws.ContainerID); err == nil {
			ws.Host = fresh.IP
		}
	}

	now := o.now()
	ws.Status = core.StatusRunning
	// Billing resumes from the restart; stopped time is never billable.
	ws.Billing = core.BillingCursor{At: now}
	ws.LastActivity = now

	if err := o.files.StartBackgroundSync(ctx, ws, splitMeta(ws.Meta(metaDotfilesPaths))); err != nil {
		log.Warn("background sync failed to resume", zap.Error(err))
		ws.SetMeta(metaSyncError, err.Error())
	}
	if err := o.startGateway(ctx, ws); err != nil {
		log.Warn("helper gateway failed to restart", zap.Error(err))
		ws.SetMeta(metaGatewayError, err.Error())
	}

	if err := o.reg.Save(ctx, ws); err != nil {
		return nil, fmt.Errorf("workspace %s: persist restart: %w", id, err)
	}
	observability.LifecycleOpsTotal.WithLabelValues("restart", "ok").Inc()
	log.Info("workspace restarted")
	return ws, nil
}

// DeleteWorkspace removes the container and the registry record. The final
// sync (or deletion of durable copies when preserveFiles is false) runs under
// a bounded timeout so shutdown never hangs on storage.
func (o *Orchestrator) DeleteWorkspace(ctx context.Context, id string, preserveFiles bool) error {
	log := observability.WorkspaceLogger(o.log, id, "delete")
	ws, err := o.resolveWorkspace(ctx, id)
	if err != nil {
		return err
	}

	if ws.Status == core.StatusRunning {
		o.finalizeBilling(ctx, ws, log)
	}

	syncCtx, cancel := context.WithTimeout(ctx, o.cfg.DeleteSyncTimeout)
	defer cancel()
	if err := o.files.StopBackgroundSync(syncCtx, id); err != nil {
		log.Warn("background sync stop failed", zap.Error(err))
	}
	if preserveFiles {
		if err := o.files.SyncWorkspace(syncCtx, ws); err != nil {
			log.Warn("final sync failed, files may be stale in storage", zap.Error(err))
		}
		if err := o.files.SaveUserDotfiles(syncCtx, ws); err != nil {
			log.Warn("dotfiles save failed", zap.Error(err))
		}
	} else {
		if err := o.files.DeleteWorkspaceFiles(syncCtx, id); err != nil {
			log.Warn("durable file deletion failed", zap.Error(err))
		}
	}

	if ws.ContainerID != "" {
		if err := o.rt.Remove(ctx, ws.ContainerID, true); err != nil && !core.IsNotFound(err) {
			observability.LifecycleOpsTotal.WithLabelValues("delete", "error").Inc()
			return fmt.Errorf("workspace %s: remove container: %w", id, err)
		}
	}

	if err := o.reg.Delete(ctx, id); err != nil && !core.IsNotFound(err) {
		return fmt.Errorf("workspace %s: delete record: %w", id, err)
	}
	observability.LifecycleOpsTotal.WithLabelValues("delete", "ok").Inc()
	log.Info("workspace deleted", zap.Bool("preserve_files", preserveFiles))
	return nil
}

// ScaleResult reports the outcome of a scale operation. Success is false for
// the same-tier no-op case, with Message explaining why.
type ScaleResult struct {
	Success   bool
	Message   string
	Workspace *core.Workspace
}

// ScaleWorkspace moves a workspace to a new tier by destroying and
// recreating its container under the same id, carrying forward git identity
// and dotfiles policy. On recreation failure the workspace is restored on
// the original tier; the original error is still surfaced.
func (o *Orchestrator) ScaleWorkspace(ctx context.Context, id string, newTier core.Tier) (*ScaleResult, error) {
	log := observability.WorkspaceLogger(o.log, id, "scale")
	ws, err := o.resolveWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}

	if ws.Tier == newTier {
		return &ScaleResult{
			Success:   false,
			Message:   fmt.Sprintf("workspace already on tier %s", newTier),
			Workspace: ws,
		}, nil
	}

	oldTier := ws.Tier
	carried := CreateRequest{
		WorkspaceID:   id,
		UserID:        ws.UserID,
		SessionID:     ws.SessionID,
		Tier:          newTier,
		Repos:         append([]string(nil), ws.Repos...),
		GitUserName:   ws.Meta(metaGitUserName),
		GitUserEmail:  ws.Meta(metaGitUserEmail),
		DotfilesPaths: splitMeta(ws.Meta(metaDotfilesPaths)),
	}

	if err := o.files.SaveUserDotfiles(ctx, ws); err != nil {
		log.Warn("dotfiles save before scale failed", zap.Error(err))
	}
	if _, err := o.StopWorkspace(ctx, id); err != nil && !core.IsNotFound(err) {
		return nil, fmt.Errorf("workspace %s: stop before scale: %w", id, err)
	}
	if err := o.reg.Delete(ctx, id); err != nil && !core.IsNotFound(err) {
		return nil, fmt.Errorf("workspace %s: clear record before scale: %w", id, err)
	}

	newWs, createErr := o.CreateWorkspace(ctx, carried)
	if createErr != nil {
		observability.LifecycleOpsTotal.WithLabelValues("scale", "error").Inc()
		log.Error("recreation failed, rolling back to original tier",
			zap.String("from", string(oldTier)), zap.String("to", string(newTier)), zap.Error(createErr))
		carried.Tier = oldTier
		if _, rbErr := o.CreateWorkspace(ctx, carried); rbErr != nil {
			log.Error("rollback to original tier failed, workspace is down", zap.Error(rbErr))
		}
		return nil, fmt.Errorf("workspace %s: scale to %s: %w", id, newTier, createErr)
	}

	observability.LifecycleOpsTotal.WithLabelValues("scale", "ok").Inc()
	log.Info("workspace scaled", zap.String("from", string(oldTier)), zap.String("to", string(newTier)))
	return &ScaleResult{
		Success:   true,
		Message:   fmt.Sprintf("scaled from %s to %s", oldTier, newTier),
		Workspace: newWs,
	}, nil
}

func splitMeta(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
