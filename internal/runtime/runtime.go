// Package runtime wraps the container runtime's management API. The real
// client blocks, so the Docker implementation gates every call behind a
// bounded semaphore; orchestration code always passes a context with an
// explicit timeout.
package runtime

import (
	"context"
	"io"
	"time"

	"github.com/hearthbox/hearth/internal/core"
)

// Labels stamped on every workspace container so a restarted orchestrator can
// rediscover the fleet from the runtime alone.
const (
	LabelWorkspace = "hearth.workspace"
	LabelUser      = "hearth.user"
	LabelSession   = "hearth.session"
	LabelTier      = "hearth.tier"
)

// ContainerName returns the deterministic container name for a workspace.
// Determinism is what lets provisioning clean up a previously failed attempt
// and lets lookups recover a container after registry data loss.
func ContainerName(workspaceID string) string {
	return "hearth-" + workspaceID
}

// ContainerSpec describes a workspace container to create.
type ContainerSpec struct {
	Name    string
	Image   string
	Labels  map[string]string
	Limits  core.ResourceLimits
	Env     []string
	WorkDir string
	// Port the in-container helper gateway listens on; exposed, not published.
	GatewayPort int
}

// ContainerInfo is the runtime's view of a container.
type ContainerInfo struct {
	ID      string
	Name    string
	Running bool
	IP      string
	Labels  map[string]string
}

// ExecResult is the outcome of a one-shot command.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// ExecOptions control command execution inside a container.
type ExecOptions struct {
	WorkDir string
	Env     []string
	// Detach starts the command and returns without waiting. Used for
	// long-lived in-container helpers.
	Detach bool
}

// Runtime is the management surface of the container runtime. Implementations
// return a HEARTH_NOT_FOUND AppError when the container does not exist, so
// callers can branch on core.IsNotFound without inspecting runtime-specific
// error types.
type Runtime interface {
	Create(ctx context.Context, spec ContainerSpec) (string, error)
	Start(ctx context.Context, containerID string) error
	Stop(ctx context.Context, containerID string, timeout time.Duration) error
	Remove(ctx context.Context, containerID string, force bool) error
	Inspect(ctx context.Context, containerID string) (ContainerInfo, error)
	FindByName(ctx context.Context, name string) (ContainerInfo, error)
	ListByLabel(ctx context.Context, label string) ([]ContainerInfo, error)
	Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (ExecResult, error)
	ExecStream(ctx context.Context, containerID string, cmd []string, opts ExecOptions) (io.ReadCloser, error)
}
