package volcache

import (
	"github.com/mwantia/volcache/data"
	cacheerrors "github.com/mwantia/volcache/data/errors"
	"github.com/mwantia/volcache/format"
)

// DeviceEntry is the cache record of one physical device. Entries are
// owned by the cache; at most one entry exists per device-identifier.
type DeviceEntry struct {
	dev    *data.Device
	fmt    format.Format
	label  *data.Label
	size   uint64
	status data.EntryStatus
	group  *GroupEntry // nil == unknown

	mdas []data.MetadataArea
	das  []data.DiskArea
	bas  []data.DiskArea
}

// Device returns the underlying storage device.
func (info *DeviceEntry) Device() *data.Device {
	return info.dev
}

// PVID returns the device-identifier the entry is indexed under.
func (info *DeviceEntry) PVID() string {
	return info.dev.PVID
}

// Format returns the metadata format owning the device.
func (info *DeviceEntry) Format() format.Format {
	return info.fmt
}

// Label returns the cached parsed label, nil until one was read.
func (info *DeviceEntry) Label() *data.Label {
	return info.label
}

// Status returns the entry's cache status bit-set.
func (info *DeviceEntry) Status() data.EntryStatus {
	return info.status
}

// DeviceSize returns the device size in bytes.
func (info *DeviceEntry) DeviceSize() uint64 {
	return info.size
}

// SetDeviceSize records the device size in bytes.
func (info *DeviceEntry) SetDeviceSize(size uint64) {
	info.size = size
}

// MakeValid clears the re-validation requirement after the entry's
// metadata was confirmed against storage.
func (info *DeviceEntry) MakeValid() {
	info.status &^= data.EntryInvalid
}

// GroupName returns the name of the owning group, empty when unknown.
func (info *DeviceEntry) GroupName() string {
	if info.group == nil {
		return ""
	}
	return info.group.name
}

// IsOrphan reports whether the device belongs to no real group.
func (info *DeviceEntry) IsOrphan() bool {
	if info.group == nil {
		return true
	}
	return info.group.IsOrphan()
}

// MetadataAreas returns the device's metadata-area descriptors.
func (info *DeviceEntry) MetadataAreas() []data.MetadataArea {
	return info.mdas
}

// DataAreas returns the device's data-area descriptors.
func (info *DeviceEntry) DataAreas() []data.DiskArea {
	return info.das
}

// BootloaderAreas returns the device's bootloader-area descriptors.
func (info *DeviceEntry) BootloaderAreas() []data.DiskArea {
	return info.bas
}

// AddMetadataArea records a metadata area on the device.
func (info *DeviceEntry) AddMetadataArea(start, size uint64, ignored bool) {
	info.mdas = append(info.mdas, data.MetadataArea{Start: start, Size: size, Ignored: ignored})
}

// AddDataArea records a data area on the device.
func (info *DeviceEntry) AddDataArea(start, size uint64) {
	info.das = append(info.das, data.DiskArea{Start: start, Size: size})
}

// AddBootloaderArea records a bootloader area on the device.
func (info *DeviceEntry) AddBootloaderArea(start, size uint64) {
	info.bas = append(info.bas, data.DiskArea{Start: start, Size: size})
}

// ClearMetadataAreas drops all recorded metadata areas.
func (info *DeviceEntry) ClearMetadataAreas() {
	info.mdas = nil
}

// ClearDataAreas drops all recorded data areas.
func (info *DeviceEntry) ClearDataAreas() {
	info.das = nil
}

// ClearBootloaderAreas drops all recorded bootloader areas.
func (info *DeviceEntry) ClearBootloaderAreas() {
	info.bas = nil
}

// SmallestMetadataArea returns the size of the smallest metadata area,
// zero when none are recorded.
func (info *DeviceEntry) SmallestMetadataArea() uint64 {
	var min uint64
	for _, mda := range info.mdas {
		if min == 0 || mda.Size < min {
			min = mda.Size
		}
	}
	return min
}

// mdasEmptyOrIgnored reports whether the device carries no usable
// metadata area, in which case group ownership cannot be decided from
// this entry alone.
func (info *DeviceEntry) mdasEmptyOrIgnored() bool {
	for _, mda := range info.mdas {
		if !mda.Ignored {
			return false
		}
	}
	return true
}

// UncertainOwnership reports whether the entry alone cannot tell if
// the device is an orphan.
func (info *DeviceEntry) UncertainOwnership() bool {
	return info.mdasEmptyOrIgnored()
}

// Add offers a device to the duplicate resolver and returns its cache
// entry. The four outcomes:
//
//   - Unknown identifier: a new entry is created, bound to dev and
//     marked invalid so its metadata is re-validated on next use.
//   - Identifier known on a different device: first-seen wins. The
//     existing entry is untouched, dev is rejected with
//     data.ErrDuplicateDevice and the sticky duplicates flag is set.
//   - Identifier known on the same device: refresh. Format and status
//     are rebound, accumulated area descriptors are kept.
//   - Same device cached under a different identifier: the identifier
//     was re-stamped; the index entry is rebound rather than duplicated.
//
// summary may be nil for devices not (yet) attributed to a group; the
// entry then joins the format's orphan group.
func (c *Cache) Add(f format.Format, pvid string, dev *data.Device, summary *data.GroupSummary) (*DeviceEntry, error) {
	pvid = data.NormalizeID(pvid)

	existing := c.InfoFromPVID(pvid, false)
	if existing == nil && dev.PVID != "" {
		existing = c.InfoFromPVID(dev.PVID, false)
	}

	var info *DeviceEntry
	if existing == nil {
		info = &DeviceEntry{dev: dev}
	} else {
		if existing.dev.Path != dev.Path {
			err := cacheerrors.DuplicateDevice(pvid, existing.dev.Path, dev.Path)
			c.log.Warn("Ignoring duplicate device '%s'. Already using device '%s' for identifier '%s'.",
				dev.Path, existing.dev.Path, pvid)
			c.foundDuplicates = true
			return nil, err
		}

		c.log.Debug("Found same device '%s' with same identifier '%s'", existing.dev.Path, pvid)

		// Re-initializing an existing volume re-stamps the on-disk
		// identifier; rebind rather than duplicate.
		if pvid != existing.dev.PVID {
			c.log.Debug("Replacing device '%s' identifier '%s' with identifier '%s'",
				existing.dev.Path, existing.dev.PVID, pvid)
		}

		existing.dev = dev
		info = existing
	}

	info.fmt = f
	info.status |= data.EntryInvalid

	c.updatePVID(info, pvid)

	if err := c.updateGroupNameAndID(info, summary); err != nil {
		// No partial entry may stay indexed without its value.
		if existing == nil {
			c.pvids.Delete(pvid)
			info.dev.PVID = ""
		}
		return nil, err
	}

	return info, nil
}

// AddLabel accepts a freshly-read device label into the cache,
// resolving the format it names and carrying over size and area
// descriptors.
func (c *Cache) AddLabel(dev *data.Device, label *data.Label) (*DeviceEntry, error) {
	f, err := c.Format(label.Format)
	if err != nil {
		return nil, err
	}

	info, err := c.Add(f, label.PVID, dev, label.Summary)
	if err != nil {
		return nil, err
	}

	info.label = label
	info.size = label.DeviceSize
	info.mdas = append([]data.MetadataArea(nil), label.MetadataAreas...)
	info.das = append([]data.DiskArea(nil), label.DataAreas...)
	info.bas = append([]data.DiskArea(nil), label.BootloaderAreas...)

	return info, nil
}

// Del removes a device entry from the cache, freeing its group when the
// entry was the last member.
func (c *Cache) Del(info *DeviceEntry) {
	if info.dev.PVID != "" {
		c.pvids.Delete(info.dev.PVID)
	}

	c.dropGroup(info, info.group)
	info.label = nil
	info.dev.PVID = ""
}

// updatePVID rebinds the identifier index entry of a device.
func (c *Cache) updatePVID(info *DeviceEntry, pvid string) {
	if current, exists := c.pvids.Get(pvid); exists && current == info && info.dev.PVID == pvid {
		return
	}

	if info.dev.PVID != "" {
		c.pvids.Delete(info.dev.PVID)
	}

	info.dev.PVID = pvid
	c.pvids.Set(pvid, info)
}
