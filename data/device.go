package data

// Device is the opaque identity of an underlying storage device.
// The cache never performs I/O on it; collaborators hand over labels
// read from it.
type Device struct {
	// Path is the device node currently exposing the storage.
	Path string

	// PVID is the device-identifier last read from the on-disk label.
	// Empty until the device has been accepted into the cache.
	PVID string
}

// Label is the parsed on-disk label of a device, produced by a
// LabelReader collaborator and handed to the cache.
type Label struct {
	// PVID is the device-identifier stamped on the label.
	PVID string

	// Format names the metadata format that owns the label.
	Format string

	// Sector is the label's position on the device.
	Sector uint64

	// DeviceSize is the device size in bytes.
	DeviceSize uint64

	// Summary carries the owning group information found next to
	// the label, nil when the device is an orphan.
	Summary *GroupSummary

	MetadataAreas   []MetadataArea
	DataAreas       []DiskArea
	BootloaderAreas []DiskArea
}

// DeviceSummary is the flattened per-device record exchanged with
// the external metadata service.
type DeviceSummary struct {
	PVID      string `json:"pvid"`
	Path      string `json:"path"`
	Size      uint64 `json:"size"`
	Format    string `json:"format"`
	GroupName string `json:"group_name,omitempty"`
	GroupID   string `json:"group_id,omitempty"`
}
