// Package archive defines the committed-metadata archive: an
// append-only record of every committed serialization of a group's
// metadata, kept so operators can inspect or restore earlier versions.
// The cache writes to it best-effort on commit boundaries.
package archive

import (
	"context"
	"time"
)

// Entry is one archived metadata version.
type Entry struct {
	GroupName  string    `json:"group_name"`
	GroupID    string    `json:"group_id"`
	SeqNo      uint64    `json:"seqno"`
	Metadata   []byte    `json:"metadata"`
	CreateTime time.Time `json:"create_time"`
}

// Store persists archive entries.
type Store interface {
	// Put records one committed metadata version. Re-archiving the
	// same (id, seqno) pair replaces the previous record.
	Put(ctx context.Context, entry *Entry) error

	// List returns all archived versions for a group name, oldest
	// first. Returns an empty slice when nothing is archived.
	List(ctx context.Context, name string) ([]*Entry, error)

	// Latest returns the newest archived version for a group name.
	// Returns data.ErrNotExist when nothing is archived.
	Latest(ctx context.Context, name string) (*Entry, error)

	// Close releases the underlying storage.
	Close(ctx context.Context) error
}
