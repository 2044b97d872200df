package data

// DiskArea describes a byte range on a device reserved for data
// or bootloader use.
type DiskArea struct {
	Start uint64
	Size  uint64
}

// MetadataArea describes a byte range on a device holding a copy
// of the owning group's metadata.
type MetadataArea struct {
	Start uint64
	Size  uint64

	// Ignored areas are present on disk but excluded from
	// metadata reads and writes.
	Ignored bool
}
