package format

import (
	"context"

	"github.com/mwantia/volcache/data"
)

// Format provides the metadata codec capability for one on-disk
// metadata format. The cache resolves a device's format once, when
// the device is accepted, and keeps the reference on the entry.
type Format interface {
	// Name returns the format identifier (e.g. "text").
	Name() string

	// OrphanName returns the synthetic group name owning devices of
	// this format that belong to no real group.
	OrphanName() string

	// Serialize renders parsed group metadata into the cacheable
	// blob form. Serialization must be deterministic: storing the
	// same group twice must produce byte-identical output.
	Serialize(vg *data.VolumeGroup) ([]byte, error)

	// Parse rebuilds the parsed representation from a serialized
	// blob previously produced by Serialize.
	Parse(buf []byte) (*data.VolumeGroup, error)
}

// Scanner is implemented by formats that keep metadata outside
// device labels and need a dedicated pass after a full device scan.
type Scanner interface {
	Scan(ctx context.Context) error
}
