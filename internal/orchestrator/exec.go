package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/observability"
	"github.com/hearthbox/hearth/internal/runtime"
)

// ansiPattern matches CSI sequences, OSC sequences, lone two-byte escapes
// and carriage returns: everything an interactive CLI emits that a
// line-oriented consumer should never see.
var ansiPattern = regexp.MustCompile("\x1b\\[[0-9;?]*[a-zA-Z]|\x1b\\][^\x07\x1b]*(?:\x07|\x1b\\\\)|\x1b[@-Z\\\\^_]|\r")

// StripANSI removes ANSI escape/control sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// ExecCommand runs a one-shot command inside the workspace container,
// restarting the container first if it is not running. Exceeding the timeout
// returns exit code -1 with a descriptive stderr instead of an error: a
// caller waiting on a command always gets a structured result.
func (o *Orchestrator) ExecCommand(ctx context.Context, id, command, cwd string, timeout time.Duration) (runtime.ExecResult, error) {
	ws, err := o.ensureRunning(ctx, id)
	if err != nil {
		return runtime.ExecResult{}, err
	}
	if timeout <= 0 {
		timeout = o.cfg.ExecTimeout
	}
	if cwd == "" {
		cwd = o.cfg.WorkDir
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res runtime.ExecResult
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := o.rt.Exec(execCtx, ws.ContainerID,
			[]string{"/bin/sh", "-c", command},
			runtime.ExecOptions{WorkDir: cwd})
		done <- outcome{res, err}
	}()

	select {
	case <-execCtx.Done():
		observability.ExecCommandsTotal.WithLabelValues("oneshot", "timeout").Inc()
		return runtime.ExecResult{
			ExitCode: -1,
			Stderr:   fmt.Sprintf("command timed out after %s", timeout),
		}, nil
	case out := <-done:
		observability.ExecDuration.Observe(time.Since(start).Seconds())
		if out.err != nil {
			observability.ExecCommandsTotal.WithLabelValues("oneshot", "error").Inc()
			return runtime.ExecResult{}, fmt.Errorf("workspace %s: exec: %w", id, out.err)
		}
		observability.ExecCommandsTotal.WithLabelValues("oneshot", "ok").Inc()
		if err := o.reg.Heartbeat(ctx, id, o.now()); err != nil {
			o.log.Debug("heartbeat after exec failed", zap.String("workspace_id", id), zap.Error(err))
		}
		return out.res, nil
	}
}

// ExecCommandStream runs a command and yields its output as a finite
// sequence of chunks. Chunks are ANSI-stripped and buffered to newline
// boundaries, so consumers that split on lines never see a line cut mid
// escape sequence. The timeout is tracked across the whole output loop;
// exceeding it yields a final explanatory chunk and stops.
func (o *Orchestrator) ExecCommandStream(ctx context.Context, id, command, cwd string, timeout time.Duration) (<-chan string, error) {
	ws, err := o.ensureRunning(ctx, id)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = o.cfg.ExecTimeout
	}
	if cwd == "" {
		cwd = o.cfg.WorkDir
	}

	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := o.rt.ExecStream(streamCtx, ws.ContainerID,
		[]string{"/bin/sh", "-c", command},
		runtime.ExecOptions{WorkDir: cwd})
	if err != nil {
		cancel()
		observability.ExecCommandsTotal.WithLabelValues("stream", "error").Inc()
		return nil, fmt.Errorf("workspace %s: exec stream: %w", id, err)
	}

	out := make(chan string, 16)
	go func() {
		defer cancel()
		defer close(out)
		defer stream.Close()

		deadline := time.Now().Add(timeout)
		// Unblock a read stuck past the deadline by tearing the stream down.
		watchdog := time.AfterFunc(timeout+time.Second, func() {
			cancel()
			stream.Close()
		})
		defer watchdog.Stop()

		emit := func(chunk string) bool {
			if chunk == "" {
				return true
			}
			select {
			case out <- chunk:
				return true
			case <-ctx.Done():
				return false
			}
		}

		var pending []byte
		buf := make([]byte, 4096)
		for {
			if time.Now().After(deadline) {
				emit(StripANSI(string(pending)))
				emit(fmt.Sprintf("\n[command timed out after %s]\n", timeout))
				observability.ExecCommandsTotal.WithLabelValues("stream", "timeout").Inc()
				return
			}
			n, readErr := stream.Read(buf)
			if n > 0 {
				pending = append(pending, buf[:n]...)
				// Hold back the partial tail so a chunk never splits a
				// line or an escape sequence.
				if idx := bytes.LastIndexByte(pending, '\n'); idx >= 0 {
					if !emit(StripANSI(string(pending[:idx+1]))) {
						return
					}
					pending = pending[idx+1:]
				}
			}
			if readErr != nil {
				emit(StripANSI(string(pending)))
				observability.ExecCommandsTotal.WithLabelValues("stream", "ok").Inc()
				if err := o.reg.Heartbeat(context.WithoutCancel(ctx), id, o.now()); err != nil {
					o.log.Debug("heartbeat after exec failed", zap.String("workspace_id", id), zap.Error(err))
				}
				return
			}
		}
	}()
	return out, nil
}

// ensureRunning resolves the workspace and auto-restarts its container when
// stopped. A missing container surfaces as a not-found error with the record
// corrected to ERROR.
func (o *Orchestrator) ensureRunning(ctx context.Context, id string) (*core.Workspace, error) {
	ws, err := o.resolveWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	info, err := o.rt.Inspect(ctx, ws.ContainerID)
	if err != nil {
		if core.IsNotFound(err) {
			ws.Status = core.StatusError
			if saveErr := o.reg.Save(ctx, ws); saveErr != nil {
				o.log.Error("failed to persist ERROR status", zap.String("workspace_id", id), zap.Error(saveErr))
			}
			return nil, core.Errorf(core.ErrNotFound, "workspace %s: container %s is gone", id, ws.ContainerID)
		}
		return nil, fmt.Errorf("workspace %s: inspect container: %w", id, err)
	}
	if !info.Running {
		o.log.Info("auto-restarting stopped workspace for exec", zap.String("workspace_id", id))
		if err := o.rt.Start(ctx, ws.ContainerID); err != nil {
			return nil, fmt.Errorf("workspace %s: auto-restart: %w", id, err)
		}
		ws.Status = core.StatusRunning
		ws.Billing = core.BillingCursor{At: o.now()}
		if err := o.reg.Save(ctx, ws); err != nil {
			return nil, fmt.Errorf("workspace %s: persist auto-restart: %w", id, err)
		}
	}
	return ws, nil
}
