package memory_test

import (
	"errors"
	"testing"

	"github.com/mwantia/volcache/data"
	"github.com/mwantia/volcache/metad/memory"
)

func TestUpdateAndLookup(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	vg := &data.VolumeGroup{
		Name:  "vg0",
		ID:    data.NewID(),
		SeqNo: 1,
		Devices: []data.PhysicalVolume{
			{PVID: data.NewID(), Path: "/dev/sda", Size: 1 << 30},
		},
	}

	if err := ms.Update(ctx, vg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	byName, err := ms.LookupGroup(ctx, "vg0", "")
	if err != nil {
		t.Fatalf("Lookup by name failed: %v", err)
	}
	byID, err := ms.LookupGroup(ctx, "", vg.ID)
	if err != nil {
		t.Fatalf("Lookup by id failed: %v", err)
	}
	if byName.ID != vg.ID || byID.Name != "vg0" {
		t.Fatal("Name and id lookups disagree")
	}

	// Records are copies; mutating a result must not leak back.
	byName.SeqNo = 99
	again, err := ms.LookupGroup(ctx, "vg0", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if again.SeqNo != 1 {
		t.Fatal("Stored record aliased a returned one")
	}

	if _, err := ms.LookupGroup(ctx, "missing", ""); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Miss returned %v, want not-exist", err)
	}
}

func TestUpdateRename(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	vg := &data.VolumeGroup{Name: "vg0", ID: data.NewID(), SeqNo: 1}
	if err := ms.Update(ctx, vg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	vg.Name = "vg0renamed"
	vg.SeqNo = 2
	if err := ms.Update(ctx, vg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if _, err := ms.LookupGroup(ctx, "vg0", ""); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Old name still resolves, err = %v", err)
	}

	renamed, err := ms.LookupGroup(ctx, "vg0renamed", "")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if renamed.SeqNo != 2 {
		t.Fatalf("Got seq %d, want 2", renamed.SeqNo)
	}
}

func TestPVList(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	vg := &data.VolumeGroup{
		Name: "vg0",
		ID:   data.NewID(),
		Devices: []data.PhysicalVolume{
			{PVID: data.NewID(), Path: "/dev/sda", Size: 1 << 30},
			{PVID: data.NewID(), Path: "/dev/sdb", Size: 1 << 30},
		},
	}
	if err := ms.Update(ctx, vg); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	ms.SetDevice(data.DeviceSummary{PVID: data.NewID(), Path: "/dev/sdz"})

	summaries, err := ms.PVList(ctx)
	if err != nil {
		t.Fatalf("PVList failed: %v", err)
	}
	if len(summaries) != 3 {
		t.Fatalf("PVList returned %d records, want 3", len(summaries))
	}

	attributed := 0
	for _, ds := range summaries {
		if ds.GroupName == "vg0" {
			attributed++
		}
	}
	if attributed != 2 {
		t.Fatalf("%d records attributed to vg0, want 2", attributed)
	}
}

func TestDuplicatesFlag(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	found, err := ms.FoundDuplicates(ctx)
	if err != nil || found {
		t.Fatalf("Fresh service: found=%v err=%v", found, err)
	}

	if err := ms.SetFoundDuplicates(ctx, true); err != nil {
		t.Fatalf("SetFoundDuplicates failed: %v", err)
	}

	found, err = ms.FoundDuplicates(ctx)
	if err != nil || !found {
		t.Fatalf("After set: found=%v err=%v", found, err)
	}
}

func TestCloseDeactivates(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	if !ms.Active() {
		t.Fatal("Fresh service inactive")
	}

	if err := ms.Close(ctx); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if ms.Active() {
		t.Fatal("Closed service still active")
	}
}
