package registry

import (
	"context"
	"sync"
	"time"

	"github.com/hearthbox/hearth/internal/core"
)

// Memory is an in-process Registry for tests and single-node deployments.
// It deep-copies on every read and write so callers never alias stored state.
type Memory struct {
	mu sync.RWMutex
	ws map[string]*core.Workspace
}

func NewMemory() *Memory {
	return &Memory{ws: map[string]*core.Workspace{}}
}

func (m *Memory) Get(ctx context.Context, id string) (*core.Workspace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.ws[id]
	if !ok {
		return nil, notFound(id)
	}
	return ws.Clone(), nil
}

func (m *Memory) Save(ctx context.Context, ws *core.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ws[ws.ID] = ws.Clone()
	return nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ws[id]; !ok {
		return notFound(id)
	}
	delete(m.ws, id)
	return nil
}

func (m *Memory) ListAll(ctx context.Context) ([]*core.Workspace, error) {
	return m.list(func(*core.Workspace) bool { return true }), nil
}

func (m *Memory) ListRunning(ctx context.Context) ([]*core.Workspace, error) {
	return m.list(func(ws *core.Workspace) bool { return ws.Status == core.StatusRunning }), nil
}

func (m *Memory) ListByUser(ctx context.Context, userID string) ([]*core.Workspace, error) {
	return m.list(func(ws *core.Workspace) bool { return ws.UserID == userID }), nil
}

func (m *Memory) ListBySession(ctx context.Context, sessionID string) ([]*core.Workspace, error) {
	return m.list(func(ws *core.Workspace) bool { return ws.SessionID == sessionID }), nil
}

func (m *Memory) Heartbeat(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.ws[id]
	if !ok {
		return notFound(id)
	}
	ws.LastActivity = at
	return nil
}

func (m *Memory) list(keep func(*core.Workspace) bool) []*core.Workspace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*core.Workspace
	for _, ws := range m.ws {
		if keep(ws) {
			out = append(out, ws.Clone())
		}
	}
	return out
}
