package errors

import "github.com/mwantia/volcache/data"

// DuplicateDevice reports a device presenting an identifier already
// claimed by a different device. The existing device stays in use.
func DuplicateDevice(pvid, existing, rejected string) error {
	return newError(data.ErrDuplicateDevice, "device '%s' presents identifier '%s' already claimed by '%s'",
		rejected, pvid, existing)
}

// NestedLock reports an attempt to acquire a group name this process
// already holds.
func NestedLock(name string) error {
	return newInternalError("nested locking attempted on group '%s'", name)
}

// NotLocked reports an unlock of a group name that is not held.
func NotLocked(name string) error {
	return newInternalError("attempt to unlock unlocked group '%s'", name)
}

// LockOrder reports an acquisition that would violate the global
// lock ordering relative to a name already held.
func LockOrder(name, held string) error {
	return newInternalError("group lock '%s' must be requested before '%s', not after",
		name, held)
}

// MissingCommit reports a metadata drop while a precommit is still
// pending without a matching commit or revert.
func MissingCommit(name string) error {
	return newInternalError("metadata commit (or revert) missing before dropping group '%s'", name)
}

// ReleaseImbalance reports a release of a parsed group with no
// live holders.
func ReleaseImbalance(id string) error {
	return newInternalError("release of group '%s' without matching checkout", id)
}

// OrphanLost reports a missing orphan placeholder during a group
// dissolve, which should be impossible while the cache is seeded.
func OrphanLost(name string) error {
	return newInternalError("orphan group '%s' lost from cache", name)
}

// GroupsRemain reports a teardown that found the group list non-empty
// after all entries were destroyed.
func GroupsRemain(count int) error {
	return newInternalError("group list should be empty, %d entries remain", count)
}

// NotUnlocked reports a group name still held at teardown.
func NotUnlocked(name string) error {
	return newInternalError("group '%s' was not unlocked", name)
}

// ScanInProgress reports a scan triggered from within a scan.
func ScanInProgress() error {
	return newError(nil, "device scan already in progress")
}

// CorruptMetadata reports an unparsable cached metadata blob; the
// cache slot is dropped and the caller re-reads from storage.
func CorruptMetadata(name string, err error) error {
	return newError(err, "cached metadata for group '%s' is corrupt", name)
}
