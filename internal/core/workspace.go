package core

import "time"

type WorkspaceStatus string

const (
	StatusPending WorkspaceStatus = "PENDING"
	StatusRunning WorkspaceStatus = "RUNNING"
	StatusStopped WorkspaceStatus = "STOPPED"
	StatusError   WorkspaceStatus = "ERROR"
)

// BillingCursor marks the point up to which compute usage has been reported
// for a workspace. Pending is true between advancing the cursor and the
// usage report being acknowledged; a failed report rolls the cursor back to
// its previous value so the interval is retried instead of lost.
type BillingCursor struct {
	At      time.Time `json:"at"`
	Pending bool      `json:"pending"`
}

// Advance moves the cursor to now and marks it pending, returning the
// previous cursor for rollback.
func (c *BillingCursor) Advance(now time.Time) BillingCursor {
	prev := *c
	c.At = now
	c.Pending = true
	return prev
}

// Confirm marks the pending interval as successfully reported.
func (c *BillingCursor) Confirm() {
	c.Pending = false
}

// Rollback restores the cursor to a previously saved value.
func (c *BillingCursor) Rollback(prev BillingCursor) {
	*c = prev
}

// Workspace is the unit of orchestration. The registry copy is authoritative
// across orchestrator instances; process memory never caches it.
type Workspace struct {
	ID           string            `json:"id"`
	UserID       string            `json:"user_id"`
	SessionID    string            `json:"session_id"`
	Status       WorkspaceStatus   `json:"status"`
	Tier         Tier              `json:"tier"`
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	ContainerID  string            `json:"container_id"`
	Repos        []string          `json:"repos"`
	Billing      BillingCursor     `json:"billing"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Metadata     map[string]string `json:"metadata"`
}

// SetMeta writes a metadata key, allocating the map on first use.
func (w *Workspace) SetMeta(key, value string) {
	if w.Metadata == nil {
		w.Metadata = map[string]string{}
	}
	w.Metadata[key] = value
}

func (w *Workspace) Meta(key string) string {
	return w.Metadata[key]
}

// Clone returns a deep copy so callers can mutate without aliasing the
// registry's in-memory state.
func (w *Workspace) Clone() *Workspace {
	cp := *w
	cp.Repos = append([]string(nil), w.Repos...)
	cp.Metadata = make(map[string]string, len(w.Metadata))
	for k, v := range w.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}
