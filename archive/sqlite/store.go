package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/mwantia/volcache/archive"
	"github.com/mwantia/volcache/data"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteStore archives committed group metadata in a single SQLite
// table. Versions are keyed by (group id, seqno) so re-archiving a
// version replaces it instead of accumulating duplicates.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLite-backed archive store.
// The dbPath can be ":memory:" for an in-memory database or a file path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, err
	}

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initSchema creates the database schema.
func (ss *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS metadata_archive (
		group_id TEXT NOT NULL,
		group_name TEXT NOT NULL,
		seqno INTEGER NOT NULL CHECK(seqno >= 0),
		metadata BLOB NOT NULL,
		create_time INTEGER NOT NULL,
		PRIMARY KEY (group_id, seqno)
	);
	CREATE INDEX IF NOT EXISTS idx_metadata_archive_name ON metadata_archive(group_name);
	`

	_, err := ss.db.Exec(schema)
	return err
}

// Put records one committed metadata version.
func (ss *SQLiteStore) Put(ctx context.Context, entry *archive.Entry) error {
	createTime := entry.CreateTime
	if createTime.IsZero() {
		createTime = time.Now()
	}

	_, err := ss.db.ExecContext(ctx, `
		INSERT INTO metadata_archive (group_id, group_name, seqno, metadata, create_time)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(group_id, seqno) DO UPDATE SET
			group_name = excluded.group_name,
			metadata = excluded.metadata,
			create_time = excluded.create_time`,
		data.NormalizeID(entry.GroupID), entry.GroupName, entry.SeqNo,
		entry.Metadata, createTime.Unix())

	return err
}

// List returns all archived versions for a group name, oldest first.
func (ss *SQLiteStore) List(ctx context.Context, name string) ([]*archive.Entry, error) {
	rows, err := ss.db.QueryContext(ctx, `
		SELECT group_id, group_name, seqno, metadata, create_time
		FROM metadata_archive
		WHERE group_name = ?
		ORDER BY seqno ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]*archive.Entry, 0)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

// Latest returns the newest archived version for a group name.
func (ss *SQLiteStore) Latest(ctx context.Context, name string) (*archive.Entry, error) {
	row := ss.db.QueryRowContext(ctx, `
		SELECT group_id, group_name, seqno, metadata, create_time
		FROM metadata_archive
		WHERE group_name = ?
		ORDER BY seqno DESC
		LIMIT 1`, name)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, data.ErrNotExist
	}
	if err != nil {
		return nil, err
	}

	return entry, nil
}

// Close closes the database.
func (ss *SQLiteStore) Close(ctx context.Context) error {
	return ss.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*archive.Entry, error) {
	entry := &archive.Entry{}
	var createTime int64

	if err := row.Scan(&entry.GroupID, &entry.GroupName, &entry.SeqNo,
		&entry.Metadata, &createTime); err != nil {
		return nil, err
	}

	entry.CreateTime = time.Unix(createTime, 0)
	return entry, nil
}
