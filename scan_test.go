package volcache_test

import (
	"context"
	"errors"
	"testing"

	"github.com/mwantia/volcache"
	"github.com/mwantia/volcache/data"
	"github.com/mwantia/volcache/format/text"
	"github.com/mwantia/volcache/metad/memory"
)

// scannerFormat wraps the text codec with a post-scan hook.
type scannerFormat struct {
	*text.TextFormat
	scan func(ctx context.Context) error
}

func (sf *scannerFormat) Scan(ctx context.Context) error {
	return sf.scan(ctx)
}

func TestScan_PopulatesCache(t *testing.T) {
	pvidA, pvidB := data.NewID(), data.NewID()
	gid := data.NewID()

	reader := &fakeReader{labels: map[string]*data.Label{
		"/dev/sda": textLabel(pvidA, &data.GroupSummary{Name: "vg0", ID: gid}),
		"/dev/sdb": textLabel(pvidB, nil),
	}}
	enum := &fakeEnum{devs: []*data.Device{
		{Path: "/dev/sda"},
		{Path: "/dev/sdb"},
		{Path: "/dev/sdc"}, // no label
	}}

	c := newTestCache(t, volcache.WithLabelReader(reader), volcache.WithEnumerator(enum))

	if err := c.Scan(t.Context(), volcache.ScanMissing); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	if c.InfoFromPVID(pvidA, true) == nil {
		t.Error("Attributed device not valid after scan")
	}
	if c.InfoFromPVID(pvidB, true) == nil {
		t.Error("Orphan device not valid after scan")
	}

	names := c.GroupNames(t.Context(), false)
	if len(names) != 1 || names[0] != "vg0" {
		t.Fatalf("GroupNames = %v, want [vg0]", names)
	}
}

func TestScan_Tiers(t *testing.T) {
	pvid := data.NewID()
	reader := &fakeReader{labels: map[string]*data.Label{
		"/dev/sda": textLabel(pvid, nil),
	}}
	enum := &fakeEnum{devs: []*data.Device{{Path: "/dev/sda"}}}

	c := newTestCache(t, volcache.WithLabelReader(reader), volcache.WithEnumerator(enum))
	ctx := t.Context()

	if err := c.Scan(ctx, volcache.ScanMissing); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if enum.calls != 1 {
		t.Fatalf("First scan enumerated %d times", enum.calls)
	}

	// Once scanned, the missing tier re-reads invalid entries without
	// walking the device sequence again.
	if err := c.Scan(ctx, volcache.ScanMissing); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if enum.calls != 1 {
		t.Errorf("Missing-tier rescan enumerated devices (%d calls)", enum.calls)
	}

	if err := c.Scan(ctx, volcache.ScanFull); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if enum.calls != 2 || enum.refreshes != 0 {
		t.Errorf("Full scan: %d calls, %d refreshes", enum.calls, enum.refreshes)
	}

	if err := c.Scan(ctx, volcache.ScanFullRefresh); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if enum.refreshes != 1 {
		t.Errorf("Refresh scan did not rebuild the device view")
	}
}

func TestScan_NotRecursive(t *testing.T) {
	var inner error

	f := &scannerFormat{TextFormat: text.NewTextFormat()}
	enum := &fakeEnum{devs: []*data.Device{{Path: "/dev/sda"}}}
	reader := &fakeReader{}

	c := newTestCache(t,
		volcache.WithFormat(f),
		volcache.WithLabelReader(reader),
		volcache.WithEnumerator(enum))

	f.scan = func(ctx context.Context) error {
		inner = c.Scan(ctx, volcache.ScanFull)
		return nil
	}

	if err := c.Scan(t.Context(), volcache.ScanFull); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if inner == nil {
		t.Fatal("Scan started from within a running scan")
	}
}

func TestScan_DuplicatesDoNotAbort(t *testing.T) {
	pvid, other := data.NewID(), data.NewID()
	reader := &fakeReader{labels: map[string]*data.Label{
		"/dev/sda": textLabel(pvid, nil),
		"/dev/sdb": textLabel(pvid, nil), // clone of sda
		"/dev/sdc": textLabel(other, nil),
	}}
	enum := &fakeEnum{devs: []*data.Device{
		{Path: "/dev/sda"}, {Path: "/dev/sdb"}, {Path: "/dev/sdc"},
	}}

	c := newTestCache(t, volcache.WithLabelReader(reader), volcache.WithEnumerator(enum))

	if err := c.Scan(t.Context(), volcache.ScanMissing); err != nil {
		t.Fatalf("Scan aborted: %v", err)
	}

	if !c.FoundDuplicates() {
		t.Error("Duplicates flag not set by scan")
	}
	if c.InfoFromPVID(other, true) == nil {
		t.Error("Device after the duplicate was not scanned")
	}
	if got := c.InfoFromPVID(pvid, false); got == nil || got.Device().Path != "/dev/sda" {
		t.Error("First-seen device lost to the clone")
	}
}

func TestDeviceFromPVID_Tiers(t *testing.T) {
	known, hotplugged := data.NewID(), data.NewID()
	reader := &fakeReader{labels: map[string]*data.Label{
		"/dev/sda": textLabel(known, nil),
		"/dev/sdb": textLabel(hotplugged, nil),
	}}
	enum := &fakeEnum{
		devs:  []*data.Device{{Path: "/dev/sda"}},
		extra: []*data.Device{{Path: "/dev/sdb"}},
	}

	c := newTestCache(t, volcache.WithLabelReader(reader), volcache.WithEnumerator(enum))
	ctx := t.Context()

	dev, err := c.DeviceFromPVID(ctx, known)
	if err != nil {
		t.Fatalf("DeviceFromPVID failed: %v", err)
	}
	if dev.Path != "/dev/sda" {
		t.Fatalf("Resolved %q, want /dev/sda", dev.Path)
	}

	// The hotplugged device only shows up once the lookup escalates
	// to a refreshing scan.
	dev, err = c.DeviceFromPVID(ctx, hotplugged)
	if err != nil {
		t.Fatalf("DeviceFromPVID failed: %v", err)
	}
	if dev.Path != "/dev/sdb" || enum.refreshes != 1 {
		t.Fatalf("Resolved %q with %d refreshes", dev.Path, enum.refreshes)
	}

	if _, err := c.DeviceFromPVID(ctx, data.NewID()); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Unknown identifier resolved, err = %v", err)
	}
}

func TestDeviceFromPVID_NoRefreshWhileSuspended(t *testing.T) {
	reader := &fakeReader{}
	enum := &fakeEnum{extra: []*data.Device{{Path: "/dev/sdb"}}}

	c := newTestCache(t, volcache.WithLabelReader(reader), volcache.WithEnumerator(enum))

	c.SuspendWrites()
	defer c.ResumeWrites()

	if _, err := c.DeviceFromPVID(t.Context(), data.NewID()); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Suspended lookup err = %v, want not-exist", err)
	}
	if enum.refreshes != 0 {
		t.Error("Lookup refreshed the device view inside the suspend window")
	}
}

func TestSeedFromService(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	vg := testGroup("vg0")
	if err := ms.Update(ctx, vg); err != nil {
		t.Fatalf("Service update failed: %v", err)
	}

	orphan := data.NewID()
	ms.SetDevice(data.DeviceSummary{PVID: orphan, Path: "/dev/sdz", Size: 1 << 20})

	// No enumerator, no reader: everything must come from the service.
	c := newTestCache(t, volcache.WithService(ms))

	if err := c.Scan(ctx, volcache.ScanMissing); err != nil {
		t.Fatalf("Service-backed scan failed: %v", err)
	}

	if c.InfoFromPVID(vg.Devices[0].PVID, true) == nil {
		t.Error("Seeded member device not valid")
	}
	if c.GroupNameFromPVID(vg.Devices[0].PVID) != "vg0" {
		t.Error("Seeded device not attributed to its group")
	}

	info := c.InfoFromPVID(orphan, true)
	if info == nil || !info.IsOrphan() {
		t.Error("Seeded standalone device not an orphan")
	}
	if info != nil && info.DeviceSize() != 1<<20 {
		t.Errorf("Seeded size = %d", info.DeviceSize())
	}
}

func TestSeedFromService_AdoptsDuplicatesFlag(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	if err := ms.Update(ctx, testGroup("vg0")); err != nil {
		t.Fatalf("Service update failed: %v", err)
	}

	// A peer already flagged duplicate devices fleet-wide.
	if err := ms.SetFoundDuplicates(ctx, true); err != nil {
		t.Fatalf("SetFoundDuplicates failed: %v", err)
	}

	c := newTestCache(t, volcache.WithService(ms))

	if err := c.Scan(ctx, volcache.ScanMissing); err != nil {
		t.Fatalf("Service-backed scan failed: %v", err)
	}

	if !c.FoundDuplicates() {
		t.Error("Fleet duplicates flag not adopted from the service")
	}
}

func TestGetGroup_ServiceFallback(t *testing.T) {
	ms := memory.NewMemoryService()
	ctx := t.Context()

	vg := testGroup("vg0")
	if err := ms.Update(ctx, vg); err != nil {
		t.Fatalf("Service update failed: %v", err)
	}

	c := newTestCache(t, volcache.WithService(ms))

	// Nothing cached locally; live metadata comes from the service.
	got, err := c.GetGroup(ctx, "vg0", "", false)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.ID != vg.ID || got.SeqNo != vg.SeqNo {
		t.Fatalf("Service lookup returned %s seq %d", got.ID, got.SeqNo)
	}

	// The reference is private to the caller, not cache-owned.
	if freed, err := c.ReleaseGroup(got); err != nil || !freed {
		t.Fatalf("Release of service parse: freed=%v err=%v", freed, err)
	}

	// Precommitted metadata never comes from the service.
	if _, err := c.GetGroup(ctx, "vg0", "", true); !errors.Is(err, data.ErrNotExist) {
		t.Fatalf("Service served precommitted request, err = %v", err)
	}
}
