package volcache_test

import (
	"errors"
	"testing"

	"github.com/mwantia/volcache"
	"github.com/mwantia/volcache/archive/sqlite"
	"github.com/mwantia/volcache/data"
)

// seedGroup adds one member device and stores the group's metadata as
// committed, the usual state after a scan plus a metadata read.
func seedGroup(tst *testing.T, c *volcache.Cache, vg *data.VolumeGroup) {
	tst.Helper()

	summary := vg.Summary()
	for _, pv := range vg.Devices {
		if _, err := c.AddLabel(&data.Device{Path: pv.Path}, textLabel(pv.PVID, summary)); err != nil {
			tst.Fatalf("AddLabel failed: %v", err)
		}
	}

	if err := c.StoreGroup(tst.Context(), vg, false); err != nil {
		tst.Fatalf("StoreGroup failed: %v", err)
	}
}

func testGroup(name string) *data.VolumeGroup {
	return &data.VolumeGroup{
		Name:  name,
		ID:    data.NewID(),
		SeqNo: 1,
		Devices: []data.PhysicalVolume{
			{PVID: data.NewID(), Path: "/dev/sda", Size: 1 << 30},
		},
	}
}

func TestGetGroup_SharedParse(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	first, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if first.Name != "vg0" || first.SeqNo != 1 {
		t.Fatalf("Parsed group = %s seq %d", first.Name, first.SeqNo)
	}

	second, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if second != first {
		t.Fatal("Second checkout of unchanged metadata reparsed")
	}

	if freed, err := c.ReleaseGroup(first); err != nil || freed {
		t.Fatalf("First release: freed=%v err=%v, want held", freed, err)
	}
	if freed, err := c.ReleaseGroup(second); err != nil || !freed {
		t.Fatalf("Last release: freed=%v err=%v, want freed", freed, err)
	}
}

func TestReleaseGroup_Imbalance(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	parsed, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if _, err := c.ReleaseGroup(parsed); err != nil {
		t.Fatalf("ReleaseGroup failed: %v", err)
	}

	// The parse was detached at zero holders; releasing it again has
	// no matching checkout.
	if _, err := c.ReleaseGroup(parsed); err == nil {
		t.Fatal("Extra release not detected")
	}
}

func TestReleaseGroup_DisplacedHolder(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	held, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}

	// A changed store while the parse is checked out replaces the
	// cached copy; the holder keeps a private reference.
	vg.SeqNo = 2
	if err := c.StoreGroup(ctx, vg, false); err != nil {
		t.Fatalf("StoreGroup failed: %v", err)
	}

	fresh, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if fresh == held || fresh.SeqNo != 2 {
		t.Fatalf("Checkout after re-store returned seq %d", fresh.SeqNo)
	}

	if freed, err := c.ReleaseGroup(held); err != nil || !freed {
		t.Fatalf("Release of displaced parse: freed=%v err=%v", freed, err)
	}
	if freed, err := c.ReleaseGroup(fresh); err != nil || !freed {
		t.Fatalf("Release of current parse: freed=%v err=%v", freed, err)
	}

	// The displaced release was accounted for; one more is a misuse.
	if _, err := c.ReleaseGroup(held); err == nil {
		t.Fatal("Extra release not detected")
	}
}

func TestStoreGroup_IdempotentRestore(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	first, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}

	// Re-storing byte-identical metadata keeps the cached parse.
	if err := c.StoreGroup(ctx, vg, false); err != nil {
		t.Fatalf("Re-store failed: %v", err)
	}

	second, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if second != first {
		t.Fatal("Identical re-store discarded the cached parse")
	}

	c.ReleaseGroup(first)
	c.ReleaseGroup(second)
}

func TestStoreGroup_ChangedMetadataReplaces(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	parsed, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	c.ReleaseGroup(parsed)

	vg.SeqNo = 2
	if err := c.StoreGroup(ctx, vg, false); err != nil {
		t.Fatalf("StoreGroup failed: %v", err)
	}

	updated, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	defer c.ReleaseGroup(updated)

	if updated.SeqNo != 2 {
		t.Fatalf("Got seq %d after re-store, want 2", updated.SeqNo)
	}
}

func TestPrecommitLifecycle(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	next := *vg
	next.SeqNo = 2
	if err := c.StoreGroup(ctx, &next, true); err != nil {
		t.Fatalf("Precommit store failed: %v", err)
	}

	// Live requests must not see the proposed version.
	if _, err := c.GetGroup(ctx, "vg0", "", false); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Live request served precommitted data, err = %v", err)
	}

	pre, err := c.GetGroup(ctx, "vg0", "", true)
	if err != nil {
		t.Fatalf("Precommit request failed: %v", err)
	}
	if pre.SeqNo != 2 {
		t.Fatalf("Precommit parse seq %d, want 2", pre.SeqNo)
	}
	c.ReleaseGroup(pre)

	// Inside the write-suspend window the preloaded precommitted
	// version serves live requests.
	c.SuspendWrites()
	live, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("Suspended live request failed: %v", err)
	}
	if live.SeqNo != 2 {
		t.Fatalf("Suspended live request seq %d, want 2", live.SeqNo)
	}
	c.ReleaseGroup(live)
	c.ResumeWrites()

	c.CommitGroup(ctx, "vg0")

	committed, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup after commit failed: %v", err)
	}
	defer c.ReleaseGroup(committed)

	if committed.SeqNo != 2 {
		t.Fatalf("Committed seq %d, want 2", committed.SeqNo)
	}

	// Once committed, a precommit request reads storage instead.
	if _, err := c.GetGroup(ctx, "vg0", "", true); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Precommit request served committed data, err = %v", err)
	}
}

func TestPrecommitRevert(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	next := *vg
	next.SeqNo = 2
	if err := c.StoreGroup(ctx, &next, true); err != nil {
		t.Fatalf("Precommit store failed: %v", err)
	}

	c.DropGroup("vg0", true)

	// The revert discarded the proposal and invalidated the cached
	// copy; both request kinds fall back to storage.
	if _, err := c.GetGroup(ctx, "vg0", "", true); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Reverted precommit still served, err = %v", err)
	}
	if _, err := c.GetGroup(ctx, "vg0", "", false); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Live data served after revert, err = %v", err)
	}
}

func TestDropGroup(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	c.DropGroup("vg0", false)

	if _, err := c.GetGroup(ctx, "vg0", "", false); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Dropped metadata still served, err = %v", err)
	}

	// Member entries were invalidated along with the metadata.
	if c.InfoFromPVID(vg.Devices[0].PVID, true) != nil {
		t.Error("Member entry still valid after drop")
	}
}

func TestArchiveOnCommit(t *testing.T) {
	store, err := sqlite.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("Failed to initialize store: %v", err)
	}
	t.Cleanup(func() {
		store.Close(t.Context())
	})

	c := newTestCache(t, volcache.WithArchive(store))
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	latest, err := store.Latest(ctx, "vg0")
	if err != nil {
		t.Fatalf("Committed store not archived: %v", err)
	}
	if latest.SeqNo != 1 {
		t.Fatalf("Archived seq %d, want 1", latest.SeqNo)
	}

	// A proposal is only archived once it commits.
	next := *vg
	next.SeqNo = 2
	if err := c.StoreGroup(ctx, &next, true); err != nil {
		t.Fatalf("Precommit store failed: %v", err)
	}

	latest, err = store.Latest(ctx, "vg0")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.SeqNo != 1 {
		t.Fatalf("Precommit archived early: seq %d", latest.SeqNo)
	}

	c.CommitGroup(ctx, "vg0")

	latest, err = store.Latest(ctx, "vg0")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if latest.SeqNo != 2 {
		t.Fatalf("Commit not archived: seq %d", latest.SeqNo)
	}
}

func TestDropGroup_SuppressedUnderGlobalLock(t *testing.T) {
	c := newTestCache(t)
	ctx := t.Context()

	vg := testGroup("vg0")
	seedGroup(t, c, vg)

	if err := c.OnLock(data.GlobalName); err != nil {
		t.Fatalf("OnLock failed: %v", err)
	}
	defer c.OnUnlock(data.GlobalName)

	c.DropGroup("vg0", false)

	parsed, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("Metadata dropped during exclusive rescan: %v", err)
	}
	c.ReleaseGroup(parsed)
}
