// Package registry is the orchestrator's view of the shared workspace store.
// The store, not process memory, is the source of truth across orchestrator
// instances: every operation in the engine re-fetches from here before acting.
package registry

import (
	"context"
	"time"

	"github.com/hearthbox/hearth/internal/core"
)

// Registry is the durable, shared store of workspace records. Get returns a
// HEARTH_NOT_FOUND AppError on miss.
type Registry interface {
	Get(ctx context.Context, id string) (*core.Workspace, error)
	Save(ctx context.Context, ws *core.Workspace) error
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*core.Workspace, error)
	ListRunning(ctx context.Context) ([]*core.Workspace, error)
	ListByUser(ctx context.Context, userID string) ([]*core.Workspace, error)
	ListBySession(ctx context.Context, sessionID string) ([]*core.Workspace, error)
	Heartbeat(ctx context.Context, id string, at time.Time) error
}

func notFound(id string) error {
	return core.Errorf(core.ErrNotFound, "workspace %s not found", id)
}
