package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/runtime"
)

func TestStopWorkspaceMissingContainer(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	// Container vanished out of band.
	e.rt.Drop(ws.ContainerID)

	got, err := e.orch.StopWorkspace(context.Background(), ws.ID)
	if !core.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
	if got == nil || got.Status != core.StatusError {
		t.Errorf("workspace not flipped to ERROR: %+v", got)
	}
	stored, _ := e.reg.Get(context.Background(), ws.ID)
	if stored.Status != core.StatusError {
		t.Errorf("stored status = %s, want ERROR", stored.Status)
	}
}

func TestStopWorkspaceTwiceBillsOnce(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierPro})

	e.clock.Advance(time.Hour)
	if _, err := e.orch.StopWorkspace(context.Background(), ws.ID); err != nil {
		t.Fatalf("first stop: %s", err)
	}
	if _, err := e.orch.StopWorkspace(context.Background(), ws.ID); err != nil {
		t.Fatalf("second stop: %s", err)
	}

	reports := e.usage.Reports()
	if len(reports) != 1 {
		t.Fatalf("usage reports = %d, want 1 (stop must never double-bill)", len(reports))
	}
	if reports[0].Duration != time.Hour {
		t.Errorf("billed duration = %s, want 1h", reports[0].Duration)
	}
}

func TestStopBillingFailureDropsInterval(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	e.clock.Advance(time.Hour)
	e.usage.SetErr(errors.New("billing backend down"))
	if _, err := e.orch.StopWorkspace(context.Background(), ws.ID); err != nil {
		t.Fatalf("stop must succeed despite billing failure: %s", err)
	}
	e.usage.SetErr(nil)

	// The cursor was refreshed past the failed interval, so a later stop of
	// the same workspace reports nothing extra.
	if _, err := e.orch.StopWorkspace(context.Background(), ws.ID); err != nil {
		t.Fatalf("second stop: %s", err)
	}
	if got := len(e.usage.Reports()); got != 0 {
		t.Errorf("usage reports = %d, want 0 (failed interval dropped, not retried at stop)", got)
	}
}

func TestRestartWorkspace(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})
	if _, err := e.orch.StopWorkspace(ctx, ws.ID); err != nil {
		t.Fatalf("stop: %s", err)
	}

	e.clock.Advance(30 * time.Minute)
	got, err := e.orch.RestartWorkspace(ctx, ws.ID)
	if err != nil {
		t.Fatalf("RestartWorkspace: %s", err)
	}
	if got.Status != core.StatusRunning {
		t.Errorf("status = %s, want RUNNING", got.Status)
	}
	if !got.Billing.At.Equal(e.clock.Now()) {
		t.Error("billing cursor must reset on restart: stopped time is not billable")
	}

	// Helper gateway relaunched.
	count := 0
	for _, call := range e.rt.Execs {
		if len(call.Cmd) == 3 && call.Cmd[2] == "hearth-agent serve" {
			count++
		}
	}
	if count != 2 {
		t.Errorf("gateway launches = %d, want 2 (create + restart)", count)
	}
}

func TestRestartRunningWorkspaceIsNoop(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})
	before := ws.Billing.At

	got, err := e.orch.RestartWorkspace(context.Background(), ws.ID)
	if err != nil {
		t.Fatalf("RestartWorkspace: %s", err)
	}
	if !got.Billing.At.Equal(before) {
		t.Error("no-op restart must not touch the billing cursor")
	}
}

func TestRestartWorkspaceMissingContainer(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})
	e.rt.Drop(ws.ContainerID)

	got, err := e.orch.RestartWorkspace(context.Background(), ws.ID)
	if !core.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
	if got == nil || got.Status != core.StatusError {
		t.Errorf("workspace not flipped to ERROR: %+v", got)
	}
}

func TestDeleteWorkspaceDiscardsFiles(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	if err := e.orch.DeleteWorkspace(context.Background(), ws.ID, false); err != nil {
		t.Fatalf("DeleteWorkspace: %s", err)
	}
	if !e.files.Called("deletefiles") {
		t.Error("durable files not deleted when preserveFiles is false")
	}
	if e.files.Called("sync") {
		t.Error("final sync must be skipped when discarding files")
	}
}

func TestDeleteWorkspaceSurvivesMissingContainer(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})
	e.rt.Drop(ws.ContainerID)

	if err := e.orch.DeleteWorkspace(context.Background(), ws.ID, true); err != nil {
		t.Fatalf("delete with missing container must succeed: %s", err)
	}
	if _, err := e.reg.Get(context.Background(), ws.ID); !core.IsNotFound(err) {
		t.Error("record still present after delete")
	}
}

func TestScaleWorkspaceSameTier(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierPro})

	res, err := e.orch.ScaleWorkspace(context.Background(), ws.ID, core.TierPro)
	if err != nil {
		t.Fatalf("ScaleWorkspace: %s", err)
	}
	if res.Success {
		t.Error("same-tier scale must report Success=false")
	}
	if res.Message != "workspace already on tier PRO" {
		t.Errorf("message = %q", res.Message)
	}
	if e.rt.Count() != 1 {
		t.Errorf("containers = %d, no-op scale must not touch the container", e.rt.Count())
	}
}

func TestScaleWorkspace(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()
	ws := e.mustCreate(t, CreateRequest{
		UserID: "alice", SessionID: "s1", Tier: core.TierStarter,
		Repos:       []string{"https://github.com/acme/app.git"},
		GitUserName: "Alice",
	})
	oldContainer := ws.ContainerID

	res, err := e.orch.ScaleWorkspace(ctx, ws.ID, core.TierPower)
	if err != nil {
		t.Fatalf("ScaleWorkspace: %s", err)
	}
	if !res.Success {
		t.Fatalf("scale failed: %s", res.Message)
	}
	if res.Workspace.ID != ws.ID {
		t.Errorf("workspace id changed across scale: %s", res.Workspace.ID)
	}
	if res.Workspace.Tier != core.TierPower {
		t.Errorf("tier = %s, want POWER", res.Workspace.Tier)
	}
	if res.Workspace.ContainerID == oldContainer {
		t.Error("scale must recreate the container")
	}
	if res.Workspace.Meta("git_user_name") != "Alice" {
		t.Error("git identity not carried across scale")
	}

	info, err := e.rt.Inspect(ctx, res.Workspace.ContainerID)
	if err != nil {
		t.Fatalf("new container missing: %s", err)
	}
	if info.Labels[runtime.LabelTier] != string(core.TierPower) {
		t.Errorf("container tier label = %s, want POWER", info.Labels[runtime.LabelTier])
	}
	if !e.files.Called("savedotfiles") {
		t.Error("dotfiles not saved before scale")
	}
}

func TestScaleWorkspaceRollsBackOnFailure(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	// Recreation on the target tier fails; rollback on the old tier succeeds.
	e.rt.CreateErr = func(spec runtime.ContainerSpec) error {
		if spec.Labels[runtime.LabelTier] == string(core.TierEnterprise) {
			return errors.New("no enterprise hosts available")
		}
		return nil
	}

	_, err := e.orch.ScaleWorkspace(ctx, ws.ID, core.TierEnterprise)
	if err == nil {
		t.Fatal("scale must surface the original failure")
	}
	if !strings.Contains(err.Error(), "no enterprise hosts available") {
		t.Errorf("original error not surfaced: %v", err)
	}

	got, getErr := e.orch.GetWorkspace(ctx, ws.ID)
	if getErr != nil {
		t.Fatalf("workspace lost after rollback: %s", getErr)
	}
	if got.Tier != core.TierStarter {
		t.Errorf("tier after rollback = %s, want STARTER", got.Tier)
	}
	if got.Status != core.StatusRunning {
		t.Errorf("status after rollback = %s, want RUNNING", got.Status)
	}
}
