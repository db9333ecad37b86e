package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random 32-char hex identifier (a v4 UUID without dashes).
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Valid reports whether id has the shape produced by New.
func Valid(id string) bool {
	if len(id) != 32 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
