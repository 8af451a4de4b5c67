package orchestrator

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/runtime"
)

func TestStripANSI(t *testing.T) {
	cases := map[string]string{
		"\x1b[31mHello\x1b[0m\n":          "Hello\n",
		"plain text":                      "plain text",
		"\x1b]0;title\x07prompt$ ":        "prompt$ ",
		"progress\rdone\n":                "progressdone\n",
		"\x1b[2J\x1b[Hcleared":            "cleared",
		"\x1b[38;5;196mdeep color\x1b[0m": "deep color",
	}
	for in, want := range cases {
		if got := StripANSI(in); got != want {
			t.Errorf("StripANSI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExecCommand(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	e.rt.ExecFunc = func(ctx context.Context, containerID string, cmd []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
		if len(cmd) == 3 && cmd[2] == "echo hi" {
			return runtime.ExecResult{ExitCode: 0, Stdout: "hi\n"}, nil
		}
		return runtime.ExecResult{}, nil
	}

	res, err := e.orch.ExecCommand(context.Background(), ws.ID, "echo hi", "", 0)
	if err != nil {
		t.Fatalf("ExecCommand: %s", err)
	}
	if res.Stdout != "hi\n" || res.ExitCode != 0 {
		t.Errorf("result = %+v", res)
	}
}

func TestExecCommandDefaultsWorkDir(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	if _, err := e.orch.ExecCommand(context.Background(), ws.ID, "pwd", "", 0); err != nil {
		t.Fatalf("ExecCommand: %s", err)
	}
	last := e.rt.Execs[len(e.rt.Execs)-1]
	if last.Opts.WorkDir != "/workspace" {
		t.Errorf("workdir = %s, want /workspace default", last.Opts.WorkDir)
	}

	if _, err := e.orch.ExecCommand(context.Background(), ws.ID, "pwd", "/tmp", 0); err != nil {
		t.Fatalf("ExecCommand: %s", err)
	}
	last = e.rt.Execs[len(e.rt.Execs)-1]
	if last.Opts.WorkDir != "/tmp" {
		t.Errorf("workdir = %s, want /tmp", last.Opts.WorkDir)
	}
}

func TestExecCommandTimeout(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	e.rt.ExecFunc = func(ctx context.Context, containerID string, cmd []string, opts runtime.ExecOptions) (runtime.ExecResult, error) {
		<-ctx.Done()
		return runtime.ExecResult{}, ctx.Err()
	}

	res, err := e.orch.ExecCommand(context.Background(), ws.ID, "sleep 999", "", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("timeout must not be an error: %s", err)
	}
	if res.ExitCode != -1 {
		t.Errorf("exit code = %d, want -1", res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "command timed out after") {
		t.Errorf("stderr = %q, want timeout message", res.Stderr)
	}
}

func TestExecCommandAutoRestartsStopped(t *testing.T) {
	e := newTestEngine(t, Config{})
	ctx := context.Background()
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})
	if _, err := e.orch.StopWorkspace(ctx, ws.ID); err != nil {
		t.Fatalf("stop: %s", err)
	}

	e.clock.Advance(time.Hour)
	if _, err := e.orch.ExecCommand(ctx, ws.ID, "echo hi", "", 0); err != nil {
		t.Fatalf("ExecCommand on stopped workspace: %s", err)
	}

	got, _ := e.reg.Get(ctx, ws.ID)
	if got.Status != core.StatusRunning {
		t.Errorf("status = %s, want RUNNING after auto-restart", got.Status)
	}
	if !got.Billing.At.Equal(e.clock.Now()) {
		t.Error("billing cursor must reset on auto-restart")
	}
}

func TestExecCommandMissingContainer(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})
	e.rt.Drop(ws.ContainerID)

	_, err := e.orch.ExecCommand(context.Background(), ws.ID, "echo hi", "", 0)
	if !core.IsNotFound(err) {
		t.Fatalf("error = %v, want not-found", err)
	}
	got, _ := e.reg.Get(context.Background(), ws.ID)
	if got.Status != core.StatusError {
		t.Errorf("status = %s, want ERROR", got.Status)
	}
}

func collectChunks(t *testing.T, ch <-chan string) []string {
	t.Helper()
	var out []string
	timeout := time.After(5 * time.Second)
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, chunk)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestExecCommandStream(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	e.rt.StreamFunc = func(ctx context.Context, containerID string, cmd []string, opts runtime.ExecOptions) (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader("\x1b[31mHello\x1b[0m\nworld")), nil
	}

	ch, err := e.orch.ExecCommandStream(context.Background(), ws.ID, "run", "", time.Minute)
	if err != nil {
		t.Fatalf("ExecCommandStream: %s", err)
	}
	chunks := collectChunks(t, ch)
	joined := strings.Join(chunks, "")
	if joined != "Hello\nworld" {
		t.Errorf("stream output = %q, want %q", joined, "Hello\nworld")
	}
	for _, c := range chunks {
		if strings.Contains(c, "\x1b") {
			t.Errorf("chunk %q contains unstripped escape sequence", c)
		}
	}
}

func TestExecCommandStreamBuffersLines(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	// The reader dribbles bytes so a naive implementation would emit
	// mid-line fragments.
	e.rt.StreamFunc = func(ctx context.Context, containerID string, cmd []string, opts runtime.ExecOptions) (io.ReadCloser, error) {
		return io.NopCloser(&oneByteReader{r: strings.NewReader("one\ntwo\nthree")}), nil
	}

	ch, err := e.orch.ExecCommandStream(context.Background(), ws.ID, "run", "", time.Minute)
	if err != nil {
		t.Fatalf("ExecCommandStream: %s", err)
	}
	for _, chunk := range collectChunks(t, ch) {
		if idx := strings.IndexByte(chunk, '\n'); idx >= 0 && idx != len(chunk)-1 {
			// Newlines may only terminate a chunk; a chunk never starts a
			// line it does not finish, except the final flush.
			if chunk != "three" && !strings.HasSuffix(chunk, "\n") {
				t.Errorf("chunk %q splits a line", chunk)
			}
		}
	}
}

// oneByteReader returns one byte per Read call.
type oneByteReader struct {
	r io.Reader
}

func (o *oneByteReader) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

func TestExecCommandStreamTimeout(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	e.rt.StreamFunc = func(ctx context.Context, containerID string, cmd []string, opts runtime.ExecOptions) (io.ReadCloser, error) {
		return io.NopCloser(&dripReader{interval: 20 * time.Millisecond}), nil
	}

	ch, err := e.orch.ExecCommandStream(context.Background(), ws.ID, "tail -f log", "", 80*time.Millisecond)
	if err != nil {
		t.Fatalf("ExecCommandStream: %s", err)
	}
	chunks := collectChunks(t, ch)
	if len(chunks) == 0 {
		t.Fatal("expected at least the timeout chunk")
	}
	last := chunks[len(chunks)-1]
	if !strings.Contains(last, "command timed out after") {
		t.Errorf("final chunk = %q, want timeout notice", last)
	}
}

// dripReader yields a line every interval, forever.
type dripReader struct {
	interval time.Duration
}

func (d *dripReader) Read(p []byte) (int, error) {
	time.Sleep(d.interval)
	return copy(p, "tick\n"), nil
}

func TestExecCommandStreamUpdatesActivity(t *testing.T) {
	e := newTestEngine(t, Config{})
	ws := e.mustCreate(t, CreateRequest{UserID: "alice", SessionID: "s1", Tier: core.TierStarter})

	e.clock.Advance(10 * time.Minute)
	ch, err := e.orch.ExecCommandStream(context.Background(), ws.ID, "true", "", time.Minute)
	if err != nil {
		t.Fatalf("ExecCommandStream: %s", err)
	}
	collectChunks(t, ch)

	got, _ := e.reg.Get(context.Background(), ws.ID)
	if !got.LastActivity.Equal(e.clock.Now()) {
		t.Errorf("LastActivity = %s, want refreshed to %s", got.LastActivity, e.clock.Now())
	}
}
