package commitment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/flipgg/flipsync/internal/events"
)

const schema = `
CREATE TABLE IF NOT EXISTS commitments (
	room_id    TEXT PRIMARY KEY,
	choice     TEXT NOT NULL,
	secret     INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);`

// SQLiteStore persists commitment records in a single local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the commitment database at path and ensures the
// schema exists. WAL keeps concurrent browsing contexts from blocking each
// other; the busy timeout makes same-room contention last-write-wins rather
// than an error.
func Open(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Put stores a record, replacing any existing one for the room.
func (s *SQLiteStore) Put(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO commitments (room_id, choice, secret, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			choice = excluded.choice,
			secret = excluded.secret,
			created_at = excluded.created_at`,
		rec.RoomID, string(rec.Choice), int64(rec.Secret), rec.CreatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("put commitment for room %s: %w", rec.RoomID, err)
	}
	return nil
}

// Get returns the record for a room; the bool reports presence.
func (s *SQLiteStore) Get(ctx context.Context, roomID string) (Record, bool, error) {
	var (
		choice    string
		secret    int64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT choice, secret, created_at FROM commitments WHERE room_id = ?`,
		roomID).Scan(&choice, &secret, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get commitment for room %s: %w", roomID, err)
	}
	return Record{
		RoomID:    roomID,
		Choice:    events.CoinSide(choice),
		Secret:    uint64(secret),
		CreatedAt: time.UnixMilli(createdAt).UTC(),
	}, true, nil
}

// Remove deletes the record for a room. Removing an absent record is a no-op.
func (s *SQLiteStore) Remove(ctx context.Context, roomID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM commitments WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("remove commitment for room %s: %w", roomID, err)
	}
	return nil
}
