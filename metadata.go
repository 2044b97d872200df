package volcache

import (
	"bytes"
	"context"
	"time"

	"github.com/mwantia/volcache/archive"
	"github.com/mwantia/volcache/data"
	cacheerrors "github.com/mwantia/volcache/data/errors"
)

// freeCachedMetadata wipes a group's serialized metadata blob and
// detaches the parsed structure. Holders that checked the parse out
// keep using their private reference; the cache reparses on the next
// hit.
func (c *Cache) freeCachedMetadata(vginfo *GroupEntry) {
	if vginfo == nil || (vginfo.meta == nil && vginfo.cached == nil) {
		return
	}

	// Outstanding holders keep their now-private parse; remember how
	// many, so their eventual releases match up.
	vginfo.displaced += vginfo.holders

	vginfo.meta = nil
	vginfo.cached = nil
	vginfo.holders = 0

	c.log.Debug("Metadata cache: group '%s' wiped", vginfo.name)
}

// StoreGroup caches the serialized and parsed representation of a
// group's metadata, precommitted or live, and refreshes the
// attribution of every member device. When the new serialization is
// byte-identical to the cached one the old copy, and with it the
// cached parse, is kept.
//
// Committed (non-precommitted) stores are published to the external
// metadata service and recorded in the archive store when those are
// wired; both are best-effort.
func (c *Cache) StoreGroup(ctx context.Context, vg *data.VolumeGroup, precommitted bool) error {
	summary := vg.Summary()

	for _, pv := range vg.Devices {
		if info := c.InfoFromPVID(pv.PVID, false); info != nil {
			if err := c.updateGroupNameAndID(info, summary); err != nil {
				return err
			}
		}
	}

	vginfo := c.GroupFromID(vg.ID)
	if vginfo == nil {
		return nil
	}

	buf, err := vginfo.fmt.Serialize(vg)
	if err != nil {
		c.freeCachedMetadata(vginfo)
		return err
	}

	// Avoid reparsing of the same data.
	if !bytes.Equal(vginfo.meta, buf) {
		c.freeCachedMetadata(vginfo)
		vginfo.meta = buf
	}

	vginfo.precommitted = precommitted

	c.log.Debug("Metadata cache: group '%s' (%s) stored (%d bytes%s)",
		vginfo.name, data.FormatID(vginfo.id), len(buf), precommitLabel(precommitted))

	if !precommitted {
		if c.service != nil && c.service.Active() {
			if err := c.service.Update(ctx, vg); err != nil {
				c.log.Warn("Failed to publish group '%s' to metadata service: %v", vg.Name, err)
			}
		}

		c.archiveGroup(ctx, vginfo, vg)
	}

	return nil
}

// CommitGroup upgrades precommitted metadata to committed state in
// place, after the lock ledger confirmed a group-level commit. On
// remote nodes this is how a peer's commit becomes visible without a
// re-read.
func (c *Cache) CommitGroup(ctx context.Context, name string) {
	vginfo := c.GroupFromName(name, "")
	if vginfo == nil {
		return
	}

	if !vginfo.precommitted {
		return
	}

	c.log.Debug("Precommitted metadata cache: group '%s' upgraded to committed", vginfo.name)
	vginfo.precommitted = false

	if vginfo.meta != nil {
		vg := vginfo.cached
		if vg == nil {
			parsed, err := vginfo.fmt.Parse(vginfo.meta)
			if err != nil {
				return
			}
			vg = parsed
		}

		c.archiveGroup(ctx, vginfo, vg)
	}
}

// DropGroup invalidates a group's cached metadata on a revert or
// explicit drop. The orphan pseudo-name drops every format's orphan
// group and marks the cache as possibly missing devices. While the
// exclusive global lock is held, drops are suppressed: a full rescan
// is in progress and per-group invalidation would be redundant.
func (c *Cache) DropGroup(name string, dropPrecommitted bool) {
	if c.IsLocked(data.GlobalName) {
		return
	}

	if data.IsOrphanName(name) {
		for _, f := range c.formats {
			c.dropMetadata(f.OrphanName(), false)
		}

		// Devices could now be missing from the cache.
		c.hasScanned = false
		return
	}

	c.dropMetadata(name, dropPrecommitted)
}

func (c *Cache) dropMetadata(name string, dropPrecommitted bool) {
	vginfo := c.GroupFromName(name, "")
	if vginfo == nil {
		return
	}

	// If precommitted metadata is cached, the member entries were
	// already invalidated before it was stored; a drop of live data
	// while a precommit is pending means a commit or revert went
	// missing.
	if !dropPrecommitted && vginfo.precommitted && vginfo.meta == nil {
		c.log.Error("%v", cacheerrors.MissingCommit(name))
	}

	if dropPrecommitted || !vginfo.precommitted {
		for _, info := range vginfo.devices {
			info.status |= data.EntryInvalid
		}
	}

	c.freeCachedMetadata(vginfo)

	// Group revert.
	if dropPrecommitted {
		vginfo.precommitted = false
	}
}

// GetGroup returns the shared parsed representation of a group's
// cached metadata, when it is fresh, valid, and matches the caller's
// precommit expectation. A mismatch or any staleness is a soft miss
// (data.ErrNotExist): the caller re-reads from storage.
//
// When the external metadata service is active it is consulted for
// live metadata before failing. Every successful call must be matched
// by a ReleaseGroup call.
func (c *Cache) GetGroup(ctx context.Context, name, id string, precommitted bool) (*data.VolumeGroup, error) {
	if id == "" {
		if vginfo := c.GroupFromName(name, ""); vginfo != nil {
			id = vginfo.id
		}
	}

	vginfo := c.GroupFromID(id)

	// Precommitted metadata is never stored in the service; those
	// requests are served from the local cache or storage alone.
	serviceFallback := func() (*data.VolumeGroup, error) {
		if c.service != nil && c.service.Active() && !precommitted {
			return c.service.LookupGroup(ctx, name, id)
		}
		return nil, data.ErrNotExist
	}

	if vginfo == nil || vginfo.meta == nil {
		return serviceFallback()
	}

	if !c.groupIsValid(vginfo) {
		return serviceFallback()
	}

	// Don't return cached data if either precommitted metadata is
	// requested but live data is cached (caller reads it off disk), or
	// live metadata is requested while precommitted data is cached and
	// no write-suspend window is open. Inside the window precommitted
	// data has been preloaded and committed, so it serves as live; the
	// precommitted flag stays set.
	if (precommitted && !vginfo.precommitted) ||
		(!precommitted && vginfo.precommitted && !c.suspended) {
		return serviceFallback()
	}

	if vginfo.cached != nil && !vginfo.invalidated {
		return c.checkout(vginfo), nil
	}

	vg, err := vginfo.fmt.Parse(vginfo.meta)
	if err != nil {
		// Corrupt cached metadata is dropped, forcing a re-read from
		// storage instead of failing hard.
		c.log.Error("%v", cacheerrors.CorruptMetadata(vginfo.name, err))
		c.freeCachedMetadata(vginfo)
		return nil, data.ErrNotExist
	}

	vginfo.cached = vg
	vginfo.holders = 0
	vginfo.useCount = 0
	vginfo.invalidated = false

	return c.checkout(vginfo), nil
}

// checkout hands the cached parse to one more holder.
func (c *Cache) checkout(vginfo *GroupEntry) *data.VolumeGroup {
	vginfo.holders++
	vginfo.useCount++

	c.log.Debug("Using cached %smetadata for group '%s' with %d holder(s)",
		precommitPrefix(vginfo.precommitted), vginfo.name, vginfo.holders)

	return vginfo.cached
}

// ReleaseGroup returns a parsed group obtained from GetGroup. Once the
// last holder is gone the parse is detached and freed is reported; the
// serialized blob stays cached, so the next GetGroup reparses instead
// of re-reading storage. An extra release with no matching checkout is
// a detectable misuse.
func (c *Cache) ReleaseGroup(vg *data.VolumeGroup) (freed bool, err error) {
	if vg == nil {
		return false, nil
	}

	vginfo := c.GroupFromID(vg.ID)
	if vginfo == nil {
		return true, nil
	}

	if vginfo.cached != vg {
		// A parse detached by a wipe or replaced by a newer store left
		// its holders with a private reference; those releases are
		// accounted for separately from the current checkout count.
		if vginfo.displaced > 0 {
			vginfo.displaced--
			return true, nil
		}
		if vginfo.meta == nil {
			// Not cache-owned (service lookups); the caller's
			// reference was private.
			return true, nil
		}

		err := cacheerrors.ReleaseImbalance(vginfo.id)
		c.log.Error("%v", err)
		return false, err
	}

	if vginfo.holders == 0 {
		err := cacheerrors.ReleaseImbalance(vginfo.id)
		c.log.Error("%v", err)
		return false, err
	}

	vginfo.holders--
	if vginfo.holders > 0 {
		return false, nil
	}

	if vginfo.useCount > 1 {
		c.log.Debug("Group '%s' reused %d times", vginfo.name, vginfo.useCount)
	}

	vginfo.cached = nil

	return true, nil
}

// archiveGroup records one committed metadata version, best-effort.
func (c *Cache) archiveGroup(ctx context.Context, vginfo *GroupEntry, vg *data.VolumeGroup) {
	if c.archive == nil || vginfo.meta == nil {
		return
	}

	entry := &archive.Entry{
		GroupName:  vginfo.name,
		GroupID:    vginfo.id,
		SeqNo:      vg.SeqNo,
		Metadata:   append([]byte(nil), vginfo.meta...),
		CreateTime: time.Now(),
	}

	if err := c.archive.Put(ctx, entry); err != nil {
		c.log.Warn("Failed to archive metadata for group '%s': %v", vginfo.name, err)
	}
}

func precommitLabel(precommitted bool) string {
	if precommitted {
		return ", precommitted"
	}
	return ""
}

func precommitPrefix(precommitted bool) string {
	if precommitted {
		return "pre-committed "
	}
	return ""
}
