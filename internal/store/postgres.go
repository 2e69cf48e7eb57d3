package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists room records in the room_documents table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// LoadRecord reads the record for a room key. Absent rows map to ErrNotFound
// rather than sql.ErrNoRows so callers stay driver-agnostic.
func (s *PostgresStore) LoadRecord(ctx context.Context, roomKey string) (Record, error) {
	const query = `SELECT room_key, snapshot, body FROM room_documents WHERE room_key = $1`
	var (
		record   Record
		snapshot []byte
		body     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, roomKey).Scan(&record.RoomKey, &snapshot, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load record: %w", err)
	}
	if len(snapshot) > 0 {
		decoded, err := decompressSnapshot(snapshot)
		if err != nil {
			return Record{}, fmt.Errorf("load record: %w", err)
		}
		record.Snapshot = decoded
	}
	if body.Valid {
		record.Body = body.String
	}
	return record, nil
}

// SaveSnapshot upserts the full snapshot for a room. The write replaces the
// stored snapshot wholesale, so replaying a stale trigger is harmless.
func (s *PostgresStore) SaveSnapshot(ctx context.Context, roomKey string, snapshot []byte) error {
	compressed := compressSnapshot(snapshot)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO room_documents (room_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (room_key) DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()
	`, roomKey, compressed)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
