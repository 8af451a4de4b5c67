package registry

import (
	"context"
	"testing"
	"time"

	"github.com/hearthbox/hearth/internal/core"
)

func TestMemory_SaveGetDelete(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	ws := &core.Workspace{
		ID:        "ws-1",
		UserID:    "u1",
		SessionID: "s1",
		Status:    core.StatusRunning,
		Tier:      core.TierStarter,
		CreatedAt: time.Now(),
	}
	if err := reg.Save(ctx, ws); err != nil {
		t.Fatalf("save: %s", err)
	}

	got, err := reg.Get(ctx, "ws-1")
	if err != nil {
		t.Fatalf("get: %s", err)
	}
	if got.UserID != "u1" {
		t.Errorf("user = %q, want u1", got.UserID)
	}

	// Mutating the returned record must not leak into the store.
	got.Status = core.StatusError
	again, _ := reg.Get(ctx, "ws-1")
	if again.Status != core.StatusRunning {
		t.Errorf("store aliased returned record: status = %s", again.Status)
	}

	if err := reg.Delete(ctx, "ws-1"); err != nil {
		t.Fatalf("delete: %s", err)
	}
	if _, err := reg.Get(ctx, "ws-1"); !core.IsNotFound(err) {
		t.Errorf("get after delete: %v, want not-found", err)
	}
	if err := reg.Delete(ctx, "ws-1"); !core.IsNotFound(err) {
		t.Errorf("second delete: %v, want not-found", err)
	}
}

func TestMemory_Lists(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()

	save := func(id, user, session string, status core.WorkspaceStatus) {
		t.Helper()
		if err := reg.Save(ctx, &core.Workspace{ID: id, UserID: user, SessionID: session, Status: status}); err != nil {
			t.Fatalf("save %s: %s", id, err)
		}
	}
	save("ws-1", "alice", "sess-a", core.StatusRunning)
	save("ws-2", "alice", "sess-b", core.StatusStopped)
	save("ws-3", "bob", "sess-a", core.StatusRunning)

	all, _ := reg.ListAll(ctx)
	if len(all) != 3 {
		t.Errorf("ListAll = %d records, want 3", len(all))
	}
	running, _ := reg.ListRunning(ctx)
	if len(running) != 2 {
		t.Errorf("ListRunning = %d records, want 2", len(running))
	}
	byUser, _ := reg.ListByUser(ctx, "alice")
	if len(byUser) != 2 {
		t.Errorf("ListByUser(alice) = %d records, want 2", len(byUser))
	}
	bySession, _ := reg.ListBySession(ctx, "sess-a")
	if len(bySession) != 2 {
		t.Errorf("ListBySession(sess-a) = %d records, want 2", len(bySession))
	}
}

func TestMemory_Heartbeat(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	_ = reg.Save(ctx, &core.Workspace{ID: "ws-1"})

	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	if err := reg.Heartbeat(ctx, "ws-1", at); err != nil {
		t.Fatalf("heartbeat: %s", err)
	}
	ws, _ := reg.Get(ctx, "ws-1")
	if !ws.LastActivity.Equal(at) {
		t.Errorf("last_activity = %v, want %v", ws.LastActivity, at)
	}

	if err := reg.Heartbeat(ctx, "missing", at); !core.IsNotFound(err) {
		t.Errorf("heartbeat missing workspace: %v, want not-found", err)
	}
}
