package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mwantia/volcache/data"
	"github.com/tidwall/btree"
)

// MemoryService is an in-process implementation of the metadata
// service contract. It keeps serialized group records so callers never
// alias the stored state; mostly useful for tests and single-process
// tooling.
type MemoryService struct {
	mu sync.RWMutex

	names   *btree.Map[string, string]
	groups  map[string][]byte
	devices *btree.Map[string, data.DeviceSummary]

	duplicates bool
	closed     bool
}

func NewMemoryService() *MemoryService {
	return &MemoryService{
		names:   btree.NewMap[string, string](0),
		groups:  make(map[string][]byte),
		devices: btree.NewMap[string, data.DeviceSummary](0),
	}
}

// Active reports whether the service can be consulted.
func (ms *MemoryService) Active() bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return !ms.closed
}

// LookupGroup resolves a group record by name or id.
func (ms *MemoryService) LookupGroup(ctx context.Context, name, id string) (*data.VolumeGroup, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	if id == "" {
		resolved, exists := ms.names.Get(name)
		if !exists {
			return nil, data.ErrNotExist
		}
		id = resolved
	}

	buf, exists := ms.groups[data.NormalizeID(id)]
	if !exists {
		return nil, data.ErrNotExist
	}

	vg := &data.VolumeGroup{}
	if err := json.Unmarshal(buf, vg); err != nil {
		return nil, err
	}

	return vg, nil
}

// PVList returns every known device record, ordered by identifier.
func (ms *MemoryService) PVList(ctx context.Context) ([]data.DeviceSummary, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	summaries := make([]data.DeviceSummary, 0, ms.devices.Len())
	ms.devices.Scan(func(pvid string, ds data.DeviceSummary) bool {
		summaries = append(summaries, ds)
		return true
	})

	return summaries, nil
}

// Update replaces the record of a group and refreshes the device
// records of its members.
func (ms *MemoryService) Update(ctx context.Context, vg *data.VolumeGroup) error {
	buf, err := json.Marshal(vg)
	if err != nil {
		return err
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	id := data.NormalizeID(vg.ID)

	// A rename leaves the old name pointing at this id; unbind it.
	var stale []string
	ms.names.Scan(func(name, boundID string) bool {
		if boundID == id && name != vg.Name {
			stale = append(stale, name)
		}
		return true
	})
	for _, name := range stale {
		ms.names.Delete(name)
	}

	ms.groups[id] = buf
	ms.names.Set(vg.Name, id)

	for _, pv := range vg.Devices {
		ms.devices.Set(data.NormalizeID(pv.PVID), data.DeviceSummary{
			PVID:      pv.PVID,
			Path:      pv.Path,
			Size:      pv.Size,
			GroupName: vg.Name,
			GroupID:   vg.ID,
		})
	}

	return nil
}

// SetDevice records a standalone device, used for devices that belong
// to no group yet.
func (ms *MemoryService) SetDevice(ds data.DeviceSummary) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.devices.Set(data.NormalizeID(ds.PVID), ds)
}

// SetFoundDuplicates sets or clears the sticky duplicates flag.
func (ms *MemoryService) SetFoundDuplicates(ctx context.Context, found bool) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.duplicates = found
	return nil
}

// FoundDuplicates reads the sticky duplicates flag.
func (ms *MemoryService) FoundDuplicates(ctx context.Context) (bool, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	return ms.duplicates, nil
}

// Close empties the service and marks it inactive.
func (ms *MemoryService) Close(ctx context.Context) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	ms.names.Clear()
	ms.devices.Clear()
	for k := range ms.groups {
		delete(ms.groups, k)
	}
	ms.closed = true

	return nil
}
