package volcache

import (
	"context"
	"errors"

	"github.com/mwantia/volcache/data"
	cacheerrors "github.com/mwantia/volcache/data/errors"
	"github.com/mwantia/volcache/format"
)

// ScanMode selects how much work a scan performs.
type ScanMode int

const (
	// ScanMissing performs the cheapest scan that still produces a
	// usable cache: a no-op once a full scan has happened, apart
	// from re-reading entries previously marked invalid.
	ScanMissing ScanMode = iota

	// ScanFull walks the full device sequence even when the cache
	// has already scanned, re-offering every label to the resolver.
	ScanFull

	// ScanFullRefresh additionally forces the enumerator to rebuild
	// its device view before walking it, picking up devices that
	// appeared after the previous enumeration.
	ScanFullRefresh
)

// Scan populates the cache from the device sequence. It is the only
// path that discovers devices; lookups that miss fall back to it in
// escalating modes.
//
// A scan is never recursive: group dissolution triggered from inside
// the scan must not start another. A second Scan while one is running
// is rejected, not queued.
//
// When the external metadata service is active the device walk is
// skipped entirely and the cache is seeded from the service instead.
func (c *Cache) Scan(ctx context.Context, mode ScanMode) error {
	if c.scanning {
		return cacheerrors.ScanInProgress()
	}

	if c.service != nil && c.service.Active() {
		if c.hasScanned {
			return nil
		}
		return c.SeedFromService(ctx)
	}

	if c.hasScanned && mode == ScanMissing {
		return c.rescanInvalid(ctx)
	}

	if c.devices == nil {
		return ErrNoEnumerator
	}
	if c.reader == nil {
		return ErrNoReader
	}

	c.scanning = true
	defer func() {
		c.scanning = false
	}()

	devs, err := c.devices.Devices(ctx, mode == ScanFullRefresh)
	if err != nil {
		return err
	}

	for _, dev := range devs {
		if err := c.scanDevice(ctx, dev); err != nil {
			return err
		}
	}

	// Formats that keep metadata outside device labels get a pass of
	// their own once the label walk is complete.
	for _, f := range c.formats {
		scanner, ok := f.(format.Scanner)
		if !ok {
			continue
		}

		if err := scanner.Scan(ctx); err != nil {
			c.log.Warn("Post-scan pass of format '%s' failed: %v", f.Name(), err)
		}
	}

	c.hasScanned = true
	c.publishDuplicates(ctx)

	return nil
}

// publishDuplicates pushes the local sticky duplicates flag to the
// external service so peers skip their own full scans.
func (c *Cache) publishDuplicates(ctx context.Context) {
	if c.service == nil || !c.service.Active() || !c.foundDuplicates {
		return
	}

	if err := c.service.SetFoundDuplicates(ctx, true); err != nil {
		c.log.Warn("Unable to publish duplicates flag: %v", err)
	}
}

// scanDevice reads one device label and offers it to the resolver.
// Unreadable and unlabelled devices are skipped, duplicates are
// rejected by the resolver; neither aborts the walk.
func (c *Cache) scanDevice(ctx context.Context, dev *data.Device) error {
	label, err := c.reader.ReadLabel(ctx, dev)
	if err != nil {
		if errors.Is(err, data.ErrNotVolume) {
			return nil
		}

		c.log.Warn("Failed to read label of device '%s': %v", dev.Path, err)
		return nil
	}

	info, err := c.AddLabel(dev, label)
	if err != nil {
		if errors.Is(err, data.ErrDuplicateDevice) {
			return nil
		}
		return err
	}

	// A successful read just validated the entry.
	info.MakeValid()

	return nil
}

// rescanInvalid re-reads only the entries marked invalid, the cheap
// repair pass used instead of a repeat full scan. Entries whose label
// has vanished since are dropped.
func (c *Cache) rescanInvalid(ctx context.Context) error {
	if c.reader == nil {
		return ErrNoReader
	}

	var stale []*DeviceEntry
	c.pvids.Scan(func(pvid string, info *DeviceEntry) bool {
		if info.status.IsInvalid() {
			stale = append(stale, info)
		}
		return true
	})

	if len(stale) == 0 {
		return nil
	}

	c.log.Debug("Re-reading %d invalidated device entries", len(stale))

	c.scanning = true
	defer func() {
		c.scanning = false
	}()

	for _, info := range stale {
		label, err := c.reader.ReadLabel(ctx, info.dev)
		if err != nil {
			if errors.Is(err, data.ErrNotVolume) {
				c.log.Debug("Device '%s' lost its label, dropping entry", info.dev.Path)
				c.Del(info)
				continue
			}

			c.log.Warn("Failed to re-read label of device '%s': %v", info.dev.Path, err)
			continue
		}

		refreshed, err := c.AddLabel(info.dev, label)
		if err != nil {
			if errors.Is(err, data.ErrDuplicateDevice) {
				continue
			}
			return err
		}

		refreshed.MakeValid()
	}

	return nil
}

// SeedFromService populates the cache from the external metadata
// service's device list instead of scanning. Seeded entries are
// trusted as valid; the service is the authority while it is active.
func (c *Cache) SeedFromService(ctx context.Context) error {
	summaries, err := c.service.PVList(ctx)
	if err != nil {
		return err
	}

	for _, ds := range summaries {
		f := c.defaultFormat
		if ds.Format != "" {
			if f, err = c.Format(ds.Format); err != nil {
				return err
			}
		}

		var summary *data.GroupSummary
		if ds.GroupName != "" {
			summary = &data.GroupSummary{
				Name: ds.GroupName,
				ID:   ds.GroupID,
			}
		}

		dev := &data.Device{Path: ds.Path}
		info, err := c.Add(f, ds.PVID, dev, summary)
		if err != nil {
			if errors.Is(err, data.ErrDuplicateDevice) {
				continue
			}
			return err
		}

		info.SetDeviceSize(ds.Size)
		info.MakeValid()
	}

	// A peer that detected duplicate devices has already set the fleet
	// flag; adopt it so local callers see the degraded state too.
	if found, err := c.service.FoundDuplicates(ctx); err != nil {
		c.log.Warn("Unable to read duplicates flag: %v", err)
	} else if found {
		c.foundDuplicates = true
	}

	c.hasScanned = true
	c.publishDuplicates(ctx)

	return nil
}

// DeviceFromPVID resolves a device-identifier to its device through a
// tiered search: the cache first, then a cheap scan, then a forced
// refresh of the device view. The refresh tier is skipped while writes
// are suspended, when triggering device enumeration is unsafe.
func (c *Cache) DeviceFromPVID(ctx context.Context, pvid string) (*data.Device, error) {
	pvid = data.NormalizeID(pvid)

	if info := c.InfoFromPVID(pvid, true); info != nil {
		return info.dev, nil
	}

	if err := c.Scan(ctx, ScanMissing); err != nil {
		return nil, err
	}
	if info := c.InfoFromPVID(pvid, true); info != nil {
		c.log.Debug("Device for identifier '%s' found after scan", pvid)
		return info.dev, nil
	}

	if c.suspended {
		return nil, data.ErrNotExist
	}

	if err := c.Scan(ctx, ScanFullRefresh); err != nil {
		return nil, err
	}
	if info := c.InfoFromPVID(pvid, true); info != nil {
		c.log.Debug("Device for identifier '%s' found after refresh", pvid)
		return info.dev, nil
	}

	return nil, data.ErrNotExist
}
