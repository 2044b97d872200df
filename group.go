package volcache

import (
	"github.com/mwantia/volcache/data"
	cacheerrors "github.com/mwantia/volcache/data/errors"
	"github.com/mwantia/volcache/format"
)

// GroupEntry is the cache record of one volume group, or of the
// synthetic orphan group of a format. A group name is not guaranteed
// unique; entries sharing a name are linked through a collision chain
// whose primary is the one indexed by name.
type GroupEntry struct {
	name string // "" == no name yet
	id   string

	status       data.GroupStatus
	creationHost string
	lockType     string
	fmt          format.Format

	// Ordered membership. Mutated only through attach/detach so the
	// back-reference on the device entry stays consistent.
	devices []*DeviceEntry

	// Another group with the same name.
	next *GroupEntry

	mdaChecksum uint32
	mdaSize     uint64

	// Metadata lifecycle state, see metadata.go.
	meta         []byte
	cached       *data.VolumeGroup
	precommitted bool
	holders      int
	displaced    int
	useCount     int
	invalidated  bool
}

// Name returns the group name.
func (vginfo *GroupEntry) Name() string {
	return vginfo.name
}

// ID returns the group id.
func (vginfo *GroupEntry) ID() string {
	return vginfo.id
}

// Format returns the metadata format owning the group.
func (vginfo *GroupEntry) Format() format.Format {
	return vginfo.fmt
}

// Status returns the group status bit-set.
func (vginfo *GroupEntry) Status() data.GroupStatus {
	return vginfo.status
}

// CreationHost returns the host the group was created on, when known.
func (vginfo *GroupEntry) CreationHost() string {
	return vginfo.creationHost
}

// LockType returns the group's lock manager type, when known.
func (vginfo *GroupEntry) LockType() string {
	return vginfo.lockType
}

// IsOrphan reports whether this is a synthetic orphan placeholder.
func (vginfo *GroupEntry) IsOrphan() bool {
	return data.IsOrphanName(vginfo.name)
}

// Devices returns the group's member entries in membership order.
func (vginfo *GroupEntry) Devices() []*DeviceEntry {
	return append([]*DeviceEntry(nil), vginfo.devices...)
}

// Precommitted reports whether the cached metadata is a proposed,
// not-yet-committed version.
func (vginfo *GroupEntry) Precommitted() bool {
	return vginfo.precommitted
}

// Holders returns the number of live consumers of the cached parse.
func (vginfo *GroupEntry) Holders() int {
	return vginfo.holders
}

// attach establishes the mutual back-reference between a group and a
// member device entry.
func (vginfo *GroupEntry) attach(info *DeviceEntry) {
	info.group = vginfo
	vginfo.devices = append(vginfo.devices, info)
}

// detach removes the mutual back-reference.
func (vginfo *GroupEntry) detach(info *DeviceEntry) {
	for i, member := range vginfo.devices {
		if member == info {
			vginfo.devices = append(vginfo.devices[:i], vginfo.devices[i+1:]...)
			break
		}
	}

	info.group = nil
}

// groupPrimary looks up the primary of a name's collision chain
// without the miss logging of GroupFromName.
func (c *Cache) groupPrimary(name string) *GroupEntry {
	vginfo, _ := c.vgnames.Get(name)
	return vginfo
}

// updateGroupNameAndID (re)attributes a device entry to the group the
// summary names, or to its format's orphan group when summary is nil.
func (c *Cache) updateGroupNameAndID(info *DeviceEntry, summary *data.GroupSummary) error {
	var name, id, host, lockType string
	var status data.GroupStatus
	var mdaChecksum uint32
	var mdaSize uint64

	if summary != nil {
		name = summary.Name
		id = data.NormalizeID(summary.ID)
		status = summary.Status
		host = summary.CreationHost
		lockType = summary.LockType
		mdaChecksum = summary.MDAChecksum
		mdaSize = summary.MDASize
	}

	if name == "" {
		if info.group != nil {
			// Already attributed and the label names nothing new.
			return nil
		}

		name = info.fmt.OrphanName()
		id = data.NormalizeID(name)
	}

	if data.IsOrphanName(name) && info.group != nil && !info.group.IsOrphan() {
		// A device without a usable metadata area that is already in a
		// real group must not be made an orphan inside the
		// write-suspend window.
		if info.mdasEmptyOrIgnored() && c.suspended {
			return nil
		}

		// Making a member an orphan (forced re-initialize) leaves the
		// cached parse referencing a device no longer in the group.
		info.group.invalidated = true
	}

	// Moving a device from orphan to a real group always validates it.
	if !data.IsOrphanName(name) {
		info.status &^= data.EntryInvalid
	}

	if err := c.updateGroupName(info, info.fmt, name, id, status, host); err != nil {
		return err
	}

	if err := c.updateGroupID(info.group, id); err != nil {
		return err
	}

	c.updateGroupStatus(info, status, host, lockType)
	c.updateMDAInfo(info, mdaChecksum, mdaSize)

	return nil
}

// updateGroupName moves a device entry into the group entry for name,
// creating the group when it is not yet known. With info nil it only
// ensures the group exists (orphan seeding).
func (c *Cache) updateGroupName(info *DeviceEntry, f format.Format, name, id string, status data.GroupStatus, host string) error {
	if name == "" || (info != nil && info.group != nil && info.group.name == name) {
		return nil
	}

	if info != nil {
		c.dropGroup(info, info.group)
	}

	vginfo := c.GroupFromName(name, id)
	if vginfo == nil {
		var primary *GroupEntry

		// While scanning, a stale primary whose every member is
		// invalid is dissolved before the new group takes the name,
		// avoiding phantom duplicate-name warnings.
		for {
			primary = c.groupPrimary(name)
			if primary == nil || data.IsOrphanName(name) ||
				!c.scanning || !c.groupIsInvalid(primary) {
				break
			}

			orphan := c.groupPrimary(primary.fmt.OrphanName())
			if orphan == nil {
				return cacheerrors.OrphanLost(primary.fmt.OrphanName())
			}

			for _, member := range primary.Devices() {
				primary.detach(member)
				orphan.attach(member)
				c.log.Debug("Device '%s' now in group '%s'", member.dev.Path, orphan.name)
			}

			c.dropGroup(nil, primary)
		}

		vginfo = &GroupEntry{name: name, fmt: f}
		if err := c.insertGroup(vginfo, id, status, host, primary); err != nil {
			return err
		}

		c.insertGroupList(vginfo)
	}

	if info != nil {
		vginfo.attach(info)
	} else if err := c.updateGroupID(vginfo, id); err != nil { // orphans
		return err
	}

	c.updateGroupLockState(vginfo, c.IsLocked(name))
	vginfo.fmt = f

	if info != nil {
		c.log.Debug("Device '%s' now in group '%s' (%s)", info.dev.Path, name, vginfo.id)
	} else {
		c.log.Debug("Initialised group '%s'", name)
	}

	return nil
}

// insertGroup adds a new group entry under a name, resolving precedence
// against an existing primary. The loser is kept on the collision chain
// so id-based lookup of either stays possible.
func (c *Cache) insertGroup(vginfo *GroupEntry, id string, status data.GroupStatus, host string, primary *GroupEntry) error {
	useNew := false

	if primary != nil {
		uuidNew := data.FormatID(id)
		uuidPrimary := data.FormatID(primary.id)

		switch {
		case !primary.status.IsExported() && status.IsExported():
			c.log.Warn("Duplicate group name %s: existing %s takes precedence over exported %s",
				vginfo.name, uuidPrimary, uuidNew)
		case primary.status.IsExported() && !status.IsExported():
			c.log.Warn("Duplicate group name %s: %s takes precedence over exported %s",
				vginfo.name, uuidNew, uuidPrimary)
			useNew = true
		case primary.creationHost != "" && primary.creationHost == c.hostname:
			c.log.Warn("Duplicate group name %s: existing %s (created here) takes precedence over %s",
				vginfo.name, uuidPrimary, uuidNew)
		case primary.creationHost == "" && host != "":
			c.log.Warn("Duplicate group name %s: %s (with creation host) takes precedence over %s",
				vginfo.name, uuidNew, uuidPrimary)
			useNew = true
		case host != "" && host == c.hostname:
			c.log.Warn("Duplicate group name %s: %s (created here) takes precedence over %s",
				vginfo.name, uuidNew, uuidPrimary)
			useNew = true
		default:
			c.log.Warn("Duplicate group name %s: existing %s takes precedence over %s",
				vginfo.name, uuidPrimary, uuidNew)
		}

		if !useNew {
			last := primary
			for last.next != nil {
				last = last.next
			}
			last.next = vginfo

			return nil
		}

		c.vgnames.Delete(primary.name)
	}

	c.vgnames.Set(vginfo.name, vginfo)
	if primary != nil {
		vginfo.next = primary
	}

	return nil
}

// updateGroupID rebinds the id index entry of a group. A non-orphan
// group's id, once set, only changes when the on-disk metadata itself
// was re-stamped.
func (c *Cache) updateGroupID(vginfo *GroupEntry, id string) error {
	if id == "" || vginfo == nil || vginfo.id == id {
		return nil
	}

	if vginfo.id != "" {
		c.vgids.Delete(vginfo.id)
	}

	vginfo.id = id
	c.vgids.Set(id, vginfo)

	if !vginfo.IsOrphan() {
		c.log.Debug("Setting group '%s' id to '%s'", vginfo.name, vginfo.id)
	}

	return nil
}

// updateGroupStatus carries status, creation host and lock type from a
// freshly-read summary into the owning group entry.
func (c *Cache) updateGroupStatus(info *DeviceEntry, status data.GroupStatus, host, lockType string) {
	if info == nil || info.group == nil {
		return
	}

	vginfo := info.group

	if vginfo.status.IsExported() != status.IsExported() {
		exported := "no longer"
		if status.IsExported() {
			exported = "now"
		}
		c.log.Debug("Device '%s': group '%s' %s exported", info.dev.Path, vginfo.name, exported)
	}

	vginfo.status = status

	if host != "" && vginfo.creationHost != host {
		vginfo.creationHost = host
		c.log.Debug("Device '%s': group '%s': set creation host to '%s'",
			info.dev.Path, vginfo.name, host)
	}

	if lockType != "" && vginfo.lockType != lockType {
		vginfo.lockType = lockType
	}
}

// updateMDAInfo records which metadata copy the group summary was read
// from, so a later read of the same copy can be skipped.
func (c *Cache) updateMDAInfo(info *DeviceEntry, checksum uint32, size uint64) {
	if info == nil || info.group == nil || size == 0 {
		return
	}

	vginfo := info.group
	if vginfo.mdaChecksum == checksum || vginfo.mdaSize == size {
		return
	}

	vginfo.mdaChecksum = checksum
	vginfo.mdaSize = size

	c.log.Debug("Device '%s': group '%s': stored metadata checksum %d with size %d",
		info.dev.Path, vginfo.name, checksum, size)
}

// LookupMDA matches a summary read from a metadata area against groups
// already known by checksum and size, filling the group fields of the
// summary on a hit.
func (c *Cache) LookupMDA(summary *data.GroupSummary) bool {
	if summary.MDASize == 0 {
		return false
	}

	for _, vginfo := range c.groups {
		if summary.MDAChecksum == vginfo.mdaChecksum &&
			summary.MDASize == vginfo.mdaSize && !vginfo.IsOrphan() {
			summary.Name = vginfo.name
			summary.ID = vginfo.id
			summary.Status = vginfo.status
			summary.CreationHost = vginfo.creationHost

			return true
		}
	}

	return false
}

// addOrphanGroup seeds the immortal orphan placeholder of a format.
func (c *Cache) addOrphanGroup(f format.Format) error {
	name := f.OrphanName()
	return c.updateGroupName(nil, f, name, data.NormalizeID(name), 0, "")
}

// dropGroup detaches a device entry from its group and frees the group
// when it became an empty non-orphan, which makes it garbage.
func (c *Cache) dropGroup(info *DeviceEntry, vginfo *GroupEntry) {
	if info != nil {
		if vginfo != nil {
			vginfo.detach(info)
		} else {
			info.group = nil
		}
	}

	if vginfo == nil || vginfo.IsOrphan() || len(vginfo.devices) > 0 {
		return
	}

	c.freeGroup(vginfo)
}

// freeGroup removes one group entry from every index and the global
// list, promoting the next chain entry when the primary goes away.
func (c *Cache) freeGroup(vginfo *GroupEntry) {
	c.freeCachedMetadata(vginfo)

	primary := c.groupPrimary(vginfo.name)
	if primary == vginfo {
		c.vgnames.Delete(vginfo.name)
		if vginfo.next != nil {
			c.vgnames.Set(vginfo.name, vginfo.next)
		}
	} else {
		for v := primary; v != nil; v = v.next {
			if v.next == vginfo {
				v.next = vginfo.next
				break
			}
		}
	}

	if vginfo.id != "" {
		if current, exists := c.vgids.Get(vginfo.id); exists && current == vginfo {
			c.vgids.Delete(vginfo.id)
		}
	}

	c.removeGroupList(vginfo)
	vginfo.next = nil
}

// freeGroupChain releases a whole collision chain during teardown.
// Index bookkeeping is skipped; the caller recreates the indexes.
func (c *Cache) freeGroupChain(vginfo *GroupEntry) {
	for v := vginfo; v != nil; {
		next := v.next
		c.freeCachedMetadata(v)
		c.removeGroupList(v)
		v.next = nil
		v = next
	}
}

// insertGroupList places a group on the global list: orphans at the
// tail so ordinary iteration visits real groups first.
func (c *Cache) insertGroupList(vginfo *GroupEntry) {
	if vginfo.IsOrphan() {
		c.groups = append(c.groups, vginfo)
		return
	}

	c.groups = append([]*GroupEntry{vginfo}, c.groups...)
}

func (c *Cache) removeGroupList(vginfo *GroupEntry) {
	for i, v := range c.groups {
		if v == vginfo {
			c.groups = append(c.groups[:i], c.groups[i+1:]...)
			return
		}
	}
}
