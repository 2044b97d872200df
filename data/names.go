package data

import "strings"

const (
	// GlobalName is the reserved pseudo-name for the exclusive
	// whole-cache lock. It sorts before every group name.
	GlobalName = "#global"

	// OrphanPrefix starts every synthetic orphan group name.
	// Orphan names sort after every real group name.
	OrphanPrefix = "#orphans"
)

// OrphanName returns the synthetic orphan group name for a format.
// Devices not (yet) attributed to a real group are members of it.
func OrphanName(format string) string {
	return OrphanPrefix + "_" + format
}

// IsOrphanName reports whether name identifies an orphan group.
func IsOrphanName(name string) bool {
	return strings.HasPrefix(name, OrphanPrefix)
}

// IsGlobalName reports whether name is the reserved global lock name.
func IsGlobalName(name string) bool {
	return name == GlobalName
}

// IsInternalName reports whether name is reserved for internal use
// and should be hidden from ordinary enumeration.
func IsInternalName(name string) bool {
	return IsGlobalName(name) || IsOrphanName(name)
}
