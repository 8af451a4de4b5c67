package runtime

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"golang.org/x/sync/semaphore"

	"github.com/hearthbox/hearth/internal/core"
	"github.com/hearthbox/hearth/internal/observability"
)

// Docker implements Runtime on the Docker Engine API. maxConcurrent bounds
// in-flight engine calls so a burst of workspace operations cannot exhaust
// the daemon's connection pool or stall unrelated requests.
type Docker struct {
	cli *client.Client
	sem *semaphore.Weighted
}

func NewDocker(maxConcurrent int64) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}
	return &Docker{cli: cli, sem: semaphore.NewWeighted(maxConcurrent)}, nil
}

func (d *Docker) Close() error {
	return d.cli.Close()
}

// acquire gates a blocking engine call. Released by the caller.
func (d *Docker) acquire(ctx context.Context) (release func(), err error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, core.Errorf(core.ErrTimeout, "runtime busy: %v", err)
	}
	observability.RuntimeCallsInFlight.Inc()
	return func() {
		observability.RuntimeCallsInFlight.Dec()
		d.sem.Release(1)
	}, nil
}

func (d *Docker) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return "", err
	}
	defer release()

	exposed := nat.PortSet{}
	if spec.GatewayPort > 0 {
		exposed[nat.Port(fmt.Sprintf("%d/tcp", spec.GatewayPort))] = struct{}{}
	}
	cfg := &container.Config{
		Image:  spec.Image,
		Labels: spec.Labels,
		Env:    spec.Env,
		// A long-lived shell keeps the container alive with no foreground
		// workload; all real work arrives via exec.
		Cmd:          []string{"/bin/sh"},
		Tty:          true,
		OpenStdin:    true,
		WorkingDir:   spec.WorkDir,
		ExposedPorts: exposed,
	}
	host := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: spec.Limits.NanoCPUs,
			Memory:   spec.Limits.MemoryBytes,
		},
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, host, nil, nil, spec.Name)
	if err != nil {
		return "", wrapDockerErr("create container "+spec.Name, err)
	}
	if err := d.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", wrapDockerErr("start container "+spec.Name, err)
	}
	return resp.ID, nil
}

func (d *Docker) Start(ctx context.Context, containerID string) error {
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return wrapDockerErr("start container", d.cli.ContainerStart(ctx, containerID, container.StartOptions{}))
}

func (d *Docker) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	secs := int(timeout.Seconds())
	return wrapDockerErr("stop container", d.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &secs}))
}

func (d *Docker) Remove(ctx context.Context, containerID string, force bool) error {
	release, err := d.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()
	return wrapDockerErr("remove container", d.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: force}))
}

func (d *Docker) Inspect(ctx context.Context, containerID string) (ContainerInfo, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return ContainerInfo{}, err
	}
	defer release()

	info, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return ContainerInfo{}, wrapDockerErr("inspect container", err)
	}
	out := ContainerInfo{
		ID:   info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.State != nil {
		out.Running = info.State.Running
	}
	if info.Config != nil {
		out.Labels = info.Config.Labels
	}
	if info.NetworkSettings != nil {
		out.IP = info.NetworkSettings.IPAddress
	}
	return out, nil
}

func (d *Docker) FindByName(ctx context.Context, name string) (ContainerInfo, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return ContainerInfo{}, err
	}

	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("name", "^/"+name+"$")),
	})
	release()
	if err != nil {
		return ContainerInfo{}, wrapDockerErr("list containers", err)
	}
	for _, c := range list {
		for _, n := range c.Names {
			if strings.TrimPrefix(n, "/") == name {
				return d.Inspect(ctx, c.ID)
			}
		}
	}
	return ContainerInfo{}, core.Errorf(core.ErrNotFound, "container %s not found", name)
}

func (d *Docker) ListByLabel(ctx context.Context, label string) ([]ContainerInfo, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}

	list, err := d.cli.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", label)),
	})
	release()
	if err != nil {
		return nil, wrapDockerErr("list containers", err)
	}
	out := make([]ContainerInfo, 0, len(list))
	for _, c := range list {
		info, err := d.Inspect(ctx, c.ID)
		if err != nil {
			// Raced a removal between list and inspect.
			if core.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

func (d *Docker) Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (ExecResult, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return ExecResult{}, err
	}
	defer release()

	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   opts.WorkDir,
		Env:          opts.Env,
		AttachStdout: !opts.Detach,
		AttachStderr: !opts.Detach,
		Detach:       opts.Detach,
	})
	if err != nil {
		return ExecResult{}, wrapDockerErr("exec create", err)
	}

	if opts.Detach {
		if err := d.cli.ContainerExecStart(ctx, created.ID, container.ExecStartOptions{Detach: true}); err != nil {
			return ExecResult{}, wrapDockerErr("exec start", err)
		}
		return ExecResult{}, nil
	}

	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, wrapDockerErr("exec attach", err)
	}
	defer attach.Close()

	var stdout, stderr bytes.Buffer
	// Engine multiplexes stdout/stderr over one stream when no TTY is
	// allocated; demux so callers see them separately.
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil && ctx.Err() == nil {
		return ExecResult{}, fmt.Errorf("exec read: %w", err)
	}
	if ctx.Err() != nil {
		return ExecResult{}, ctx.Err()
	}

	inspect, err := d.cli.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, wrapDockerErr("exec inspect", err)
	}
	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

func (d *Docker) ExecStream(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (io.ReadCloser, error) {
	release, err := d.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	created, err := d.cli.ContainerExecCreate(ctx, containerID, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   opts.WorkDir,
		Env:          opts.Env,
		AttachStdout: true,
		AttachStderr: true,
		// No TTY: output stays plain text instead of an interactive UI.
		Tty: false,
	})
	if err != nil {
		return nil, wrapDockerErr("exec create", err)
	}
	attach, err := d.cli.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, wrapDockerErr("exec attach", err)
	}

	// Demux in the background so the caller reads one interleaved plain
	// stream.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, attach.Reader)
		attach.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

func wrapDockerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errdefs.IsNotFound(err) {
		return core.Errorf(core.ErrNotFound, "%s: %v", op, err)
	}
	return core.Errorf(core.ErrRuntime, "%s: %v", op, err)
}
