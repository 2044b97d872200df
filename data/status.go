package data

// EntryStatus is the cache status bit-set of a device entry.
// These can be combined using bitwise OR.
type EntryStatus uint32

const (
	// EntryInvalid marks an entry whose metadata must be re-validated
	// before the next use.
	EntryInvalid EntryStatus = 1 << iota
	// EntryLocked marks an entry whose group lock is held by this process.
	EntryLocked
)

// IsInvalid checks if the entry requires re-validation.
func (s EntryStatus) IsInvalid() bool {
	return s&EntryInvalid != 0
}

// IsLocked checks if the entry belongs to a lock-held group.
func (s EntryStatus) IsLocked() bool {
	return s&EntryLocked != 0
}

// GroupStatus is the status bit-set of a volume group.
type GroupStatus uint32

const (
	// GroupExported marks a group exported from its previous host.
	GroupExported GroupStatus = 1 << iota
)

// IsExported checks if the group is exported.
func (s GroupStatus) IsExported() bool {
	return s&GroupExported != 0
}
