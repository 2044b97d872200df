package data

// GroupSummary is the group-level information a label scan yields
// before any metadata is parsed. It is everything the cache needs
// to attribute a device to its group.
type GroupSummary struct {
	Name         string
	ID           string
	Status       GroupStatus
	CreationHost string
	LockType     string

	// MDAChecksum and MDASize identify the metadata copy the
	// summary was read from, allowing a later read of the same
	// copy to be skipped.
	MDAChecksum uint32
	MDASize     uint64
}

// VolumeGroup is the parsed representation of a group's metadata.
// Instances returned by the cache are shared between holders and
// must be treated as read-only until released.
type VolumeGroup struct {
	Name         string           `json:"name"`
	ID           string           `json:"id"`
	SeqNo        uint64           `json:"seqno"`
	Status       GroupStatus      `json:"status"`
	CreationHost string           `json:"creation_host,omitempty"`
	LockType     string           `json:"lock_type,omitempty"`
	ExtentSize   uint64           `json:"extent_size"`
	Devices      []PhysicalVolume `json:"devices"`
	Volumes      []LogicalVolume  `json:"volumes,omitempty"`
}

// PhysicalVolume is a group member as recorded in group metadata.
type PhysicalVolume struct {
	PVID    string `json:"pvid"`
	Path    string `json:"path,omitempty"`
	Size    uint64 `json:"size"`
	PEStart uint64 `json:"pe_start"`
}

// LogicalVolume is a volume carved out of a group.
type LogicalVolume struct {
	Name string `json:"name"`
	ID   string `json:"id"`
	Size uint64 `json:"size"`
}

// Summary derives the scan-level summary from parsed metadata.
func (vg *VolumeGroup) Summary() *GroupSummary {
	return &GroupSummary{
		Name:         vg.Name,
		ID:           NormalizeID(vg.ID),
		Status:       vg.Status,
		CreationHost: vg.CreationHost,
		LockType:     vg.LockType,
	}
}
