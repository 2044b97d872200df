package volcache

import (
	"os"

	"github.com/mwantia/volcache/archive"
	"github.com/mwantia/volcache/format"
	"github.com/mwantia/volcache/log"
	"github.com/mwantia/volcache/metad"
)

// CacheOption configures a Cache during construction.
type CacheOption func(*Cache) error

// WithLogger replaces the default logger.
func WithLogger(l *log.Logger) CacheOption {
	return func(c *Cache) error {
		c.log = l
		return nil
	}
}

// WithFormat registers a metadata format. The first registered format
// becomes the default for devices whose label names no format.
// Can be given multiple times.
func WithFormat(f format.Format) CacheOption {
	return func(c *Cache) error {
		c.formats[f.Name()] = f
		if c.defaultFormat == nil {
			c.defaultFormat = f
		}
		return nil
	}
}

// WithLabelReader wires the collaborator performing label I/O.
func WithLabelReader(r LabelReader) CacheOption {
	return func(c *Cache) error {
		c.reader = r
		return nil
	}
}

// WithEnumerator wires the collaborator producing devices for full scans.
func WithEnumerator(e DeviceEnumerator) CacheOption {
	return func(c *Cache) error {
		c.devices = e
		return nil
	}
}

// WithService wires the external metadata service. When the service is
// active it is consulted in preference to local re-scanning.
func WithService(s metad.Service) CacheOption {
	return func(c *Cache) error {
		c.service = s
		return nil
	}
}

// WithArchive wires the committed-metadata archive store. Archiving is
// best-effort; archive failures are logged, never fatal.
func WithArchive(s archive.Store) CacheOption {
	return func(c *Cache) error {
		c.archive = s
		return nil
	}
}

// WithHostname overrides the local hostname used by the duplicate
// group-name precedence decision.
func WithHostname(name string) CacheOption {
	return func(c *Cache) error {
		c.hostname = name
		return nil
	}
}

func defaultHostname() string {
	name, err := os.Hostname()
	if err != nil {
		return ""
	}
	return name
}
