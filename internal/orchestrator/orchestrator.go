// Package orchestrator is the workspace orchestration engine: provisioning,
// lifecycle, usage metering, startup reconciliation, command execution and
// proxying for containerized developer workspaces. The registry is the only
// source of truth shared between orchestrator instances; every operation
// re-reads it before acting.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/registry"
	"github.com/hearthbox/hearth/internal/runtime"
)

// FileSync moves workspace contents between containers and durable object
// storage. All operations are best-effort from the engine's point of view:
// failures are recorded in workspace metadata, never swallowed silently.
type FileSync interface {
	RestoreWorkspace(ctx context.Context, ws *core.Workspace) error
	SyncWorkspace(ctx context.Context, ws *core.Workspace) error
	StartBackgroundSync(ctx context.Context, ws *core.Workspace, dotfilesPaths []string) error
	StopBackgroundSync(ctx context.Context, workspaceID string) error
	RestoreUserDotfiles(ctx context.Context, ws *core.Workspace) error
	SaveUserDotfiles(ctx context.Context, ws *core.Workspace) error
	DeleteWorkspaceFiles(ctx context.Context, workspaceID string) error
}

// UsageReport is one billed compute interval. PeriodEnd doubles as the
// idempotency key together with the workspace id: a retried report for the
// same interval carries the same PeriodEnd.
type UsageReport struct {
	WorkspaceID string
	UserID      string
	SessionID   string
	Tier        core.Tier
	Duration    time.Duration
	RateCents   int
	PeriodStart time.Time
	PeriodEnd   time.Time
	Metadata    map[string]string
}

// UsageTracker receives billed compute intervals. It is expected to be
// idempotent per (workspace, period) so a rolled-back-and-retried report is
// never double-counted.
type UsageTracker interface {
	RecordComputeUsage(ctx context.Context, report UsageReport) error
}

// StatusSync notifies an external system of workspace status changes.
// Fire-and-forget; failures are logged.
type StatusSync interface {
	NotifyWorkspaceStatus(ctx context.Context, ws *core.Workspace) error
}

// Collaborators are the engine's external dependencies. Nil fields default
// to no-ops.
type Collaborators struct {
	Files  FileSync
	Usage  UsageTracker
	Status StatusSync
}

type Orchestrator struct {
	reg    registry.Registry
	rt     runtime.Runtime
	files  FileSync
	usage  UsageTracker
	status StatusSync
	cfg    Config
	log    *zap.Logger

	// billMu serializes periodic billing sweeps within this process so
	// overlapping ticker firings cannot read the same cursor twice.
	billMu sync.Mutex

	now func() time.Time
}

func New(reg registry.Registry, rt runtime.Runtime, collab Collaborators, cfg Config, log *zap.Logger) *Orchestrator {
	if collab.Files == nil {
		collab.Files = NopFileSync{}
	}
	if collab.Usage == nil {
		collab.Usage = NopUsageTracker{}
	}
	if collab.Status == nil {
		collab.Status = NopStatusSync{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		reg:    reg,
		rt:     rt,
		files:  collab.Files,
		usage:  collab.Usage,
		status: collab.Status,
		cfg:    cfg.withDefaults(),
		log:    log,
		now:    time.Now,
	}
}

// GetWorkspace returns the current registry record, recovering from a lost
// record via the container runtime when possible.
func (o *Orchestrator) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	return o.resolveWorkspace(ctx, id)
}

// Heartbeat records caller activity for idle accounting.
func (o *Orchestrator) Heartbeat(ctx context.Context, id string) error {
	return o.reg.Heartbeat(ctx, id, o.now())
}

// ListWorkspaces returns all workspaces for a user.
func (o *Orchestrator) ListWorkspaces(ctx context.Context, userID string) ([]*core.Workspace, error) {
	return o.reg.ListByUser(ctx, userID)
}

// NopFileSync discards all sync operations.
type NopFileSync struct{}

func (NopFileSync) RestoreWorkspace(context.Context, *core.Workspace) error { return nil }
func (NopFileSync) SyncWorkspace(context.Context, *core.Workspace) error    { return nil }
func (NopFileSync) StartBackgroundSync(context.Context, *core.Workspace, []string) error {
	return nil
}
func (NopFileSync) StopBackgroundSync(context.Context, string) error           { return nil }
func (NopFileSync) RestoreUserDotfiles(context.Context, *core.Workspace) error { return nil }
func (NopFileSync) SaveUserDotfiles(context.Context, *core.Workspace) error    { return nil }
func (NopFileSync) DeleteWorkspaceFiles(context.Context, string) error         { return nil }

// NopUsageTracker discards usage reports.
type NopUsageTracker struct{}

func (NopUsageTracker) RecordComputeUsage(context.Context, UsageReport) error { return nil }

// NopStatusSync discards status notifications.
type NopStatusSync struct{}

func (NopStatusSync) NotifyWorkspaceStatus(context.Context, *core.Workspace) error { return nil }
