package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// SaveSnapshot records snap as a new run and returns it with ID and Seq set.
// Labels are unique within a session.
func (s *Store) SaveSnapshot(ctx context.Context, snap Snapshot) (*Snapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("save snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	// Reject a label already used in this session
	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM runs WHERE session = ? AND label = ?`,
		snap.Session, snap.Label,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	if exists > 0 {
		return nil, &DuplicateLabelError{Session: snap.Session, Label: snap.Label}
	}

	// Allocate the next seq; the single connection serializes writers
	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return nil, fmt.Errorf("save snapshot: next seq: %w", err)
	}

	// Insert run row
	snap.ID = uuid.NewString()
	snap.Seq = seq
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, session, scenario, label, seq)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID, snap.Session, snap.Scenario, snap.Label, snap.Seq); err != nil {
		// Lost a race with another writer for the same label
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, &DuplicateLabelError{Session: snap.Session, Label: snap.Label}
		}
		return nil, fmt.Errorf("save snapshot: insert run: %w", err)
	}

	// Insert records in key order so equal snapshots produce equal rows
	for _, collection := range sortedKeys(snap.Records) {
		recs := snap.Records[collection]
		for _, key := range sortedKeys(recs) {
			text, err := marshalRecord(recs[key])
			if err != nil {
				return nil, fmt.Errorf("save snapshot: %s %s: %w", collection, key, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO records (run_id, collection, key, record)
				VALUES (?, ?, ?, ?)
			`, snap.ID, collection, key, text); err != nil {
				return nil, fmt.Errorf("save snapshot: insert %s %s: %w", collection, key, err)
			}
		}
	}

	// Insert file states
	for _, f := range snap.Files {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO files (run_id, path, size, checksum)
			VALUES (?, ?, ?, ?)
		`, snap.ID, f.Path, f.Size, f.Checksum); err != nil {
			return nil, fmt.Errorf("save snapshot: insert file %s: %w", f.Path, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("save snapshot: commit: %w", err)
	}
	return &snap, nil
}
