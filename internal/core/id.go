package core

import (
	"strings"

	"github.com/google/uuid"
)

// NewID generates a UUID v7 (time-ordered).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// Fallback to v4 if v7 fails (should not happen).
		return uuid.New().String()
	}
	return id.String()
}

// NewWorkspaceID generates a workspace identifier. Workspace ids end up in
// container names, so keep them short and free of characters the runtime
// rejects.
func NewWorkspaceID() string {
	return "ws-" + strings.ReplaceAll(NewID(), "-", "")[:20]
}
