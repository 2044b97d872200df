package volcache

import (
	"context"

	"github.com/mwantia/volcache/data"
)

// LabelReader reads and parses the on-disk label of a single device.
// Implementations perform the actual device I/O; the cache never reads
// devices itself.
type LabelReader interface {
	// ReadLabel returns the parsed label of the device.
	// Returns data.ErrNotVolume if the device carries no label.
	ReadLabel(ctx context.Context, dev *data.Device) (*data.Label, error)
}

// DeviceEnumerator produces the finite, restartable device sequence a
// full scan walks. Filtering (which devices are eligible at all) is the
// enumerator's concern.
type DeviceEnumerator interface {
	// Devices returns the current device set. When refresh is true the
	// implementation must rebuild its view (re-apply filters, re-read
	// the device directory) instead of serving a memoized one.
	Devices(ctx context.Context, refresh bool) ([]*data.Device, error)
}
