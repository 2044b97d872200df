// Package metad defines the contract of the external metadata service:
// a fleet-wide daemon that caches device and group records across
// processes and nodes, so that individual commands can skip full device
// scans. The cache consults it in preference to local re-scanning when
// it is active; it is also the authority for duplicate suppression
// across the fleet.
package metad

import (
	"context"

	"github.com/mwantia/volcache/data"
)

// Service is the client view of the external metadata service.
type Service interface {
	// Active reports whether the service can currently be consulted.
	// An inactive service is ignored and the cache falls back to
	// local scanning.
	Active() bool

	// LookupGroup resolves a group by name or id.
	// Returns data.ErrNotExist on a miss.
	LookupGroup(ctx context.Context, name, id string) (*data.VolumeGroup, error)

	// PVList returns every device record the service knows about,
	// used to seed a fresh cache without scanning.
	PVList(ctx context.Context) ([]data.DeviceSummary, error)

	// Update publishes parsed group metadata, replacing any previous
	// record for the same group id.
	Update(ctx context.Context, vg *data.VolumeGroup) error

	// SetFoundDuplicates sets or clears the fleet-wide sticky flag
	// recording that duplicate devices were seen during a scan.
	SetFoundDuplicates(ctx context.Context, found bool) error

	// FoundDuplicates reads the fleet-wide sticky duplicates flag.
	FoundDuplicates(ctx context.Context) (bool, error)

	// Close releases the service connection.
	Close(ctx context.Context) error
}
