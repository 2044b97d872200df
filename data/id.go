package data

import (
	"strings"

	"github.com/google/uuid"
)

// IDLen is the canonical length of device and group identifiers.
// On-disk identifiers are not guaranteed NUL-terminated or sized,
// so every identifier is normalized before it is used as an index key.
const IDLen = 32

// NewID generates a new canonical identifier.
func NewID() string {
	return strings.ReplaceAll(uuid.Must(uuid.NewV7()).String(), "-", "")
}

// NormalizeID clamps an identifier to its canonical length.
// Shorter identifiers are returned unchanged; the cache treats them
// as already canonical.
func NormalizeID(id string) string {
	if len(id) > IDLen {
		return id[:IDLen]
	}
	return id
}

// FormatID renders an identifier in the dashed display form used
// by warnings, so two colliding groups can be told apart by eye.
func FormatID(id string) string {
	if len(id) != IDLen {
		return id
	}
	return id[0:8] + "-" + id[8:12] + "-" + id[12:16] + "-" + id[16:20] + "-" + id[20:32]
}
