package volcache

import (
	"github.com/mwantia/volcache/data"
	cacheerrors "github.com/mwantia/volcache/data/errors"
)

// lockKey maps every orphan group name onto one shared ledger slot:
// orphan groups of all formats are protected by a single lock.
func lockKey(name string) string {
	if data.IsOrphanName(name) {
		return data.OrphanPrefix
	}
	return name
}

// orderCorrect reports whether acquiring second after first respects
// the global lock ordering: the global name first, orphan names last,
// everything else lexicographic. The total order keeps cooperating
// processes from circular waits on multi-group locks.
func orderCorrect(first, second string) bool {
	if data.IsGlobalName(first) {
		return true
	}

	if data.IsGlobalName(second) {
		return false
	}

	if data.IsOrphanName(first) {
		return false
	}

	if data.IsOrphanName(second) {
		return true
	}

	return first < second
}

// VerifyLockOrder checks that acquiring name now would respect the
// global ordering relative to every lock already held. A violation is
// returned as a deadlock-avoidance error.
func (c *Cache) VerifyLockOrder(name string) error {
	var err error

	c.locks.Scan(func(held string, _ bool) bool {
		if !orderCorrect(held, name) {
			err = cacheerrors.LockOrder(name, held)
			return false
		}
		return true
	})

	return err
}

// OnLock records that the advisory lock for a group name was acquired
// by this process. Re-acquiring a held name and ordering violations are
// internal-consistency errors: reported, the ledger unchanged, the
// process continues.
func (c *Cache) OnLock(name string) error {
	key := lockKey(name)

	if _, held := c.locks.Get(key); held {
		err := cacheerrors.NestedLock(name)
		c.log.Error("%v", err)
		return err
	}

	if err := c.VerifyLockOrder(key); err != nil {
		c.log.Error("%v", err)
		return err
	}

	c.locks.Set(key, true)

	if !data.IsGlobalName(name) {
		c.updateLockState(name, true)
		c.groupsLocked++
	}

	return nil
}

// OnUnlock records that the advisory lock for a group name was
// released. The lock-state transition invalidates member entries so
// stale in-memory data is never read back across a lock boundary.
func (c *Cache) OnUnlock(name string) error {
	key := lockKey(name)

	if _, held := c.locks.Get(key); !held {
		err := cacheerrors.NotLocked(name)
		c.log.Error("%v", err)
		return err
	}

	if !data.IsGlobalName(name) {
		c.updateLockState(name, false)
	}

	c.locks.Delete(key)

	if !data.IsGlobalName(name) {
		c.groupsLocked--
	}

	return nil
}

// IsLocked reports whether the lock for a group name is held by this
// process.
func (c *Cache) IsLocked(name string) bool {
	_, held := c.locks.Get(lockKey(name))
	return held
}

// GroupsLocked reports whether any non-global group lock is held.
func (c *Cache) GroupsLocked() bool {
	return c.groupsLocked > 0
}

// PVIDIsLocked reports whether the owning group of a device is
// currently lock-held.
func (c *Cache) PVIDIsLocked(pvid string) bool {
	info := c.InfoFromPVID(pvid, false)
	if info == nil || info.group == nil {
		return false
	}

	return c.IsLocked(info.group.name)
}

// updateLockState propagates a lock-state transition of a group name
// into its member entries.
func (c *Cache) updateLockState(name string, locked bool) {
	vginfo := c.GroupFromName(name, "")
	if vginfo == nil {
		return
	}

	c.updateGroupLockState(vginfo, locked)
}

// updateGroupLockState flips every member's LOCKED bit. A member whose
// held state actually changed is invalidated, and one real change
// drops the group's cached metadata. While the exclusive global lock
// is held (full rescan in progress) invalidation is suppressed.
func (c *Cache) updateGroupLockState(vginfo *GroupEntry, locked bool) {
	metadataValid := true

	for _, info := range vginfo.devices {
		if c.updateEntryLockState(info, locked) {
			metadataValid = false
		}
	}

	if !metadataValid {
		c.freeCachedMetadata(vginfo)
	}
}

// updateEntryLockState applies the transition to one entry, reporting
// whether the group's cached metadata became stale.
func (c *Cache) updateEntryLockState(info *DeviceEntry, locked bool) (invalidated bool) {
	wasLocked := info.status.IsLocked()

	if !c.IsLocked(data.GlobalName) && wasLocked != locked {
		info.status |= data.EntryInvalid
		invalidated = true
	}

	if locked {
		info.status |= data.EntryLocked
	} else {
		info.status &^= data.EntryLocked
	}

	return invalidated
}

// entryIsValid reports whether a cached entry may be reused: it is not
// marked invalid, and either its group is unlocked (no writer can be
// mutating it) or the entry is marked locked (this process holds the
// lock and the cached state reflects its own view).
func (c *Cache) entryIsValid(info *DeviceEntry) bool {
	if info.status.IsInvalid() {
		return false
	}

	if info.group != nil && !c.IsLocked(info.group.name) {
		return true
	}

	if !info.status.IsLocked() {
		return false
	}

	return true
}

// groupIsValid reports whether every member entry may be reused.
func (c *Cache) groupIsValid(vginfo *GroupEntry) bool {
	for _, info := range vginfo.devices {
		if !c.entryIsValid(info) {
			return false
		}
	}

	return true
}

// groupIsInvalid reports whether no member entry may be reused, which
// marks a stale group occupying a name during a scan.
func (c *Cache) groupIsInvalid(vginfo *GroupEntry) bool {
	for _, info := range vginfo.devices {
		if c.entryIsValid(info) {
			return false
		}
	}

	return true
}
