package broadcast

import "github.com/google/uuid"

// NewOrigin returns a time-sortable UUIDv7 identifying one container.
//
// Panics if UUID generation fails (should never happen in practice).
func NewOrigin() string {
	return uuid.Must(uuid.NewV7()).String()
}
