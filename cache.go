package volcache

import (
	"context"

	"github.com/mwantia/volcache/archive"
	"github.com/mwantia/volcache/data"
	cacheerrors "github.com/mwantia/volcache/data/errors"
	"github.com/mwantia/volcache/format"
	"github.com/mwantia/volcache/format/text"
	"github.com/mwantia/volcache/log"
	"github.com/mwantia/volcache/metad"
	"github.com/tidwall/btree"
)

// Cache is the process-lifetime metadata cache of the volume toolchain.
// It indexes every known device and volume group by three independent
// keys so repeated lookups avoid re-scanning and re-parsing on-disk
// metadata.
//
// The cache carries no internal lock: the surrounding command dispatcher
// guarantees that at most one logical operation sequence mutates it at a
// time. Cross-process consistency relies entirely on the advisory group
// locks whose transitions are reported through OnLock and OnUnlock.
type Cache struct {
	log *log.Logger

	// Identity key indexes. All three hold non-owning references into
	// the entry stores; ids are normalized before use as keys.
	pvids   *btree.Map[string, *DeviceEntry]
	vgids   *btree.Map[string, *GroupEntry]
	vgnames *btree.Map[string, *GroupEntry]

	// Lock ledger: group names currently held by this process.
	locks *btree.Map[string, bool]

	// Global group list, ordered so orphans always come last.
	groups []*GroupEntry

	formats       map[string]format.Format
	defaultFormat format.Format

	reader   LabelReader
	devices  DeviceEnumerator
	service  metad.Service
	archive  archive.Store
	hostname string

	scanning        bool
	hasScanned      bool
	groupsLocked    int
	globalLockHeld  bool
	suspended       bool
	foundDuplicates bool
}

// New creates an empty cache and seeds the orphan placeholder group of
// every registered format. When no format is registered the text format
// is registered implicitly.
func New(opts ...CacheOption) (*Cache, error) {
	c := &Cache{
		log:      log.Default(),
		pvids:    btree.NewMap[string, *DeviceEntry](0),
		vgids:    btree.NewMap[string, *GroupEntry](0),
		vgnames:  btree.NewMap[string, *GroupEntry](0),
		locks:    btree.NewMap[string, bool](0),
		formats:  make(map[string]format.Format),
		hostname: defaultHostname(),
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}

	if c.defaultFormat == nil {
		f := text.NewTextFormat()
		c.formats[f.Name()] = f
		c.defaultFormat = f
	}

	if err := c.seedOrphans(); err != nil {
		return nil, err
	}

	return c, nil
}

// Format resolves a registered metadata format by name.
func (c *Cache) Format(name string) (format.Format, error) {
	f, exists := c.formats[name]
	if !exists {
		return nil, ErrUnknownFormat
	}

	return f, nil
}

// seedOrphans creates the immortal orphan placeholder group for every
// registered format.
func (c *Cache) seedOrphans() error {
	for _, f := range c.formats {
		if err := c.addOrphanGroup(f); err != nil {
			return err
		}
	}

	return nil
}

// InfoFromPVID looks up a device entry by device-identifier.
// A miss returns nil; callers fall back to a re-scan. With validOnly
// set, entries that may be stale behind a lock boundary are hidden.
func (c *Cache) InfoFromPVID(pvid string, validOnly bool) *DeviceEntry {
	info, exists := c.pvids.Get(data.NormalizeID(pvid))
	if !exists {
		return nil
	}

	if validOnly && !c.entryIsValid(info) {
		return nil
	}

	return info
}

// GroupFromID looks up a group entry by group id. A miss returns nil.
func (c *Cache) GroupFromID(id string) *GroupEntry {
	if id == "" {
		return nil
	}

	vginfo, exists := c.vgids.Get(data.NormalizeID(id))
	if !exists {
		c.log.Debug("Metadata cache has no info for group id '%s'", data.NormalizeID(id))
		return nil
	}

	return vginfo
}

// GroupFromName looks up a group entry by name, walking the collision
// chain when an id is supplied to disambiguate. A miss returns nil.
func (c *Cache) GroupFromName(name, id string) *GroupEntry {
	if name == "" {
		return c.GroupFromID(id)
	}

	vginfo, exists := c.vgnames.Get(name)
	if !exists {
		c.log.Debug("Metadata cache has no info for group name '%s'", name)
		return nil
	}

	if id != "" {
		id = data.NormalizeID(id)
		for v := vginfo; v != nil; v = v.next {
			if v.id == id {
				return v
			}
		}

		c.log.Debug("Metadata cache has not found group name '%s' with id '%s'", name, id)
		return nil
	}

	return vginfo
}

// GroupNameFromPVID returns the name of a device's owning group, empty
// when the device is unknown or unattributed.
func (c *Cache) GroupNameFromPVID(pvid string) string {
	info := c.InfoFromPVID(pvid, false)
	if info == nil || info.group == nil {
		return ""
	}

	return info.group.name
}

// GroupNames enumerates group names, ordinary groups first. Internal
// (orphan) names are excluded unless requested. Triggers a missing-tier
// scan first so the enumeration reflects the current device set.
func (c *Cache) GroupNames(ctx context.Context, includeInternal bool) []string {
	_ = c.Scan(ctx, ScanMissing)

	names := make([]string, 0, len(c.groups))
	for _, vginfo := range c.groups {
		if !includeInternal && vginfo.IsOrphan() {
			continue
		}

		names = append(names, vginfo.name)
	}

	return names
}

// GroupIDs enumerates group ids, ordinary groups first.
func (c *Cache) GroupIDs(ctx context.Context, includeInternal bool) []string {
	_ = c.Scan(ctx, ScanMissing)

	ids := make([]string, 0, len(c.groups))
	for _, vginfo := range c.groups {
		if !includeInternal && vginfo.IsOrphan() {
			continue
		}

		ids = append(ids, vginfo.id)
	}

	return ids
}

// PVIDsInGroup enumerates the device-identifiers of a group's members.
// Returns an empty slice when the group is unknown.
func (c *Cache) PVIDsInGroup(name, id string) []string {
	vginfo := c.GroupFromName(name, id)
	if vginfo == nil {
		return nil
	}

	pvids := make([]string, 0, len(vginfo.devices))
	for _, info := range vginfo.devices {
		pvids = append(pvids, info.dev.PVID)
	}

	return pvids
}

// MaxNameLengths probes the longest device path and group name known to
// the cache, for display column sizing.
func (c *Cache) MaxNameLengths() (pvMax, groupMax int) {
	for _, vginfo := range c.groups {
		if len(vginfo.name) > groupMax {
			groupMax = len(vginfo.name)
		}

		for _, info := range vginfo.devices {
			if len(info.dev.Path) > pvMax {
				pvMax = len(info.dev.Path)
			}
		}
	}

	return pvMax, groupMax
}

// FoundDuplicates reports the sticky process-wide flag recording that a
// duplicate device was seen during any scan of this run.
func (c *Cache) FoundDuplicates() bool {
	return c.foundDuplicates
}

// ClearFoundDuplicates resets the sticky duplicates flag.
func (c *Cache) ClearFoundDuplicates() {
	c.foundDuplicates = false
}

// SuspendWrites opens the write-suspend window during which
// precommitted metadata may be served as live.
func (c *Cache) SuspendWrites() {
	c.suspended = true
}

// ResumeWrites closes the write-suspend window.
func (c *Cache) ResumeWrites() {
	c.suspended = false
}

// WritesSuspended reports whether the write-suspend window is open.
func (c *Cache) WritesSuspended() bool {
	return c.suspended
}

// Wipe tears the whole cache down between independent command
// invocations. With retainOrphans the orphan placeholders are reseeded
// immediately. With reset any record of a held global lock is discarded
// instead of being carried over.
func (c *Cache) Wipe(retainOrphans, reset bool) {
	c.log.Debug("Wiping internal group cache")

	c.hasScanned = false

	c.pvids.Scan(func(_ string, info *DeviceEntry) bool {
		if info.group != nil {
			info.group.detach(info)
		}
		info.dev.PVID = ""
		info.label = nil
		return true
	})

	var names []string
	c.vgnames.Scan(func(name string, _ *GroupEntry) bool {
		names = append(names, name)
		return true
	})
	for _, name := range names {
		if vginfo, exists := c.vgnames.Get(name); exists {
			c.freeGroupChain(vginfo)
		}
	}

	var errs cacheerrors.Errors

	if reset {
		c.globalLockHeld = false
	} else {
		c.locks.Scan(func(name string, _ bool) bool {
			if data.IsGlobalName(name) {
				c.globalLockHeld = true
			} else {
				errs.Add(cacheerrors.NotUnlocked(name))
			}
			return true
		})
	}

	c.pvids = btree.NewMap[string, *DeviceEntry](0)
	c.vgids = btree.NewMap[string, *GroupEntry](0)
	c.vgnames = btree.NewMap[string, *GroupEntry](0)
	c.locks = btree.NewMap[string, bool](0)
	c.groupsLocked = 0

	if len(c.groups) != 0 {
		errs.Add(cacheerrors.GroupsRemain(len(c.groups)))
	}
	c.groups = nil

	if err := errs.Errors(); err != nil {
		c.log.Error("Inconsistent cache state at teardown: %v", err)
	}

	if retainOrphans {
		if err := c.seedOrphans(); err != nil {
			c.log.Error("Failed to reseed orphan groups: %v", err)
		}
	}

	// Reinitialising the cache clears the internal record of held
	// locks. The global lock can be held across a wipe, so its ledger
	// entry must be restored afterwards.
	if c.globalLockHeld {
		if err := c.OnLock(data.GlobalName); err != nil {
			c.log.Error("Failed to restore global lock state: %v", err)
		}
		c.globalLockHeld = false
	}
}

// Service exposes the wired external metadata service, nil when none
// is configured.
func (c *Cache) Service() metad.Service {
	return c.service
}
