package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hearthbox/hearth/internal/core"
)

// ExecCall records one Exec or ExecStream invocation against the Fake.
type ExecCall struct {
	ContainerID string
	Cmd         []string
	Opts        ExecOptions
}

// Fake is an in-memory Runtime for orchestrator tests. Failure points and
// exec behaviour are scriptable through the hook fields; all hooks are
// optional.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*ContainerInfo
	nextID     int

	// CreateErr, when set, is consulted before creating a container.
	CreateErr func(spec ContainerSpec) error
	// ExecFunc overrides the default exec behaviour (exit 0, no output).
	ExecFunc func(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (ExecResult, error)
	// StreamFunc overrides the default stream behaviour (empty stream).
	StreamFunc func(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (io.ReadCloser, error)

	// Execs holds every recorded exec call, in order.
	Execs []ExecCall
}

func NewFake() *Fake {
	return &Fake{containers: map[string]*ContainerInfo{}}
}

func (f *Fake) Create(ctx context.Context, spec ContainerSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		if err := f.CreateErr(spec); err != nil {
			return "", err
		}
	}
	for _, c := range f.containers {
		if c.Name == spec.Name {
			return "", core.Errorf(core.ErrConflict, "container name %s in use", spec.Name)
		}
	}
	f.nextID++
	id := fmt.Sprintf("ctr-%04d", f.nextID)
	f.containers[id] = &ContainerInfo{
		ID:      id,
		Name:    spec.Name,
		Running: true,
		IP:      fmt.Sprintf("172.17.0.%d", f.nextID+1),
		Labels:  spec.Labels,
	}
	return id, nil
}

func (f *Fake) Start(ctx context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return f.notFound(containerID)
	}
	c.Running = true
	return nil
}

func (f *Fake) Stop(ctx context.Context, containerID string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return f.notFound(containerID)
	}
	c.Running = false
	return nil
}

func (f *Fake) Remove(ctx context.Context, containerID string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return f.notFound(containerID)
	}
	delete(f.containers, containerID)
	return nil
}

func (f *Fake) Inspect(ctx context.Context, containerID string) (ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[containerID]
	if !ok {
		return ContainerInfo{}, f.notFound(containerID)
	}
	return f.copy(c), nil
}

func (f *Fake) FindByName(ctx context.Context, name string) (ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.Name == name {
			return f.copy(c), nil
		}
	}
	return ContainerInfo{}, core.Errorf(core.ErrNotFound, "container %s not found", name)
}

func (f *Fake) ListByLabel(ctx context.Context, label string) ([]ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []ContainerInfo
	for _, c := range f.containers {
		if !c.Running {
			continue
		}
		if _, ok := c.Labels[label]; ok {
			out = append(out, f.copy(c))
		}
	}
	return out, nil
}

func (f *Fake) Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (ExecResult, error) {
	f.mu.Lock()
	if _, ok := f.containers[containerID]; !ok {
		f.mu.Unlock()
		return ExecResult{}, f.notFound(containerID)
	}
	f.Execs = append(f.Execs, ExecCall{ContainerID: containerID, Cmd: cmd, Opts: opts})
	fn := f.ExecFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, containerID, cmd, opts)
	}
	return ExecResult{ExitCode: 0}, nil
}

func (f *Fake) ExecStream(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	if _, ok := f.containers[containerID]; !ok {
		f.mu.Unlock()
		return nil, f.notFound(containerID)
	}
	f.Execs = append(f.Execs, ExecCall{ContainerID: containerID, Cmd: cmd, Opts: opts})
	fn := f.StreamFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, containerID, cmd, opts)
	}
	return io.NopCloser(strings.NewReader("")), nil
}

// SetRunning flips a container's running state without going through
// Start/Stop, simulating out-of-band runtime drift.
func (f *Fake) SetRunning(containerID string, running bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[containerID]; ok {
		c.Running = running
	}
}

// Drop removes a container without going through Remove, simulating a crash
// or manual intervention.
func (f *Fake) Drop(containerID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, containerID)
}

// Count returns the number of containers the fake knows about.
func (f *Fake) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

// ExecCommands flattens recorded exec calls to single shell strings for
// assertion convenience.
func (f *Fake) ExecCommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.Execs))
	for i, call := range f.Execs {
		out[i] = strings.Join(call.Cmd, " ")
	}
	return out
}

func (f *Fake) copy(c *ContainerInfo) ContainerInfo {
	cp := *c
	cp.Labels = make(map[string]string, len(c.Labels))
	for k, v := range c.Labels {
		cp.Labels[k] = v
	}
	return cp
}

func (f *Fake) notFound(id string) error {
	return core.Errorf(core.ErrNotFound, "container %s not found", id)
}
