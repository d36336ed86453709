package util

import "github.com/google/uuid"

// NewID returns a random identifier used for entity IDs, opaque session
// tokens and request correlation.
func NewID() string {
	return uuid.NewString()
}
