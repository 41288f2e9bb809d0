package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LoadSnapshot returns the run recorded under label in session.
func (s *Store) LoadSnapshot(ctx context.Context, session, label string) (*Snapshot, error) {
	// Find the run row
	snap := &Snapshot{Session: session, Label: label}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, scenario, seq FROM runs WHERE session = ? AND label = ?
	`, session, label).Scan(&snap.ID, &snap.Scenario, &snap.Seq)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &NotFoundError{Session: session, Label: label}
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	// Load its records and files
	if err := s.readRecords(ctx, snap); err != nil {
		return nil, err
	}
	if err := s.readFiles(ctx, snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *Store) readRecords(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, key, record FROM records
		WHERE run_id = ?
		ORDER BY collection COLLATE BINARY ASC, key COLLATE BINARY ASC
	`, snap.ID)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	// Decode each stored record back into its collection
	for rows.Next() {
		var collection, key, text string
		if err := rows.Scan(&collection, &key, &text); err != nil {
			return fmt.Errorf("scan record: %w", err)
		}
		rec, err := unmarshalRecord(text)
		if err != nil {
			return fmt.Errorf("%s %s: %w", collection, key, err)
		}
		snap.Add(collection, key, rec)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate records: %w", err)
	}
	return nil
}

func (s *Store) readFiles(ctx context.Context, snap *Snapshot) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, size, checksum FROM files
		WHERE run_id = ?
		ORDER BY path COLLATE BINARY ASC
	`, snap.ID)
	if err != nil {
		return fmt.Errorf("query files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Path, &f.Size, &f.Checksum); err != nil {
			return fmt.Errorf("scan file: %w", err)
		}
		snap.Files = append(snap.Files, f)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate files: %w", err)
	}
	return nil
}

// ListRuns returns every recorded run, optionally limited to one scenario,
// ordered by seq.
func (s *Store) ListRuns(ctx context.Context, scenario string) ([]RunInfo, error) {
	// Build query with optional scenario filter
	query := `SELECT id, session, scenario, label, seq FROM runs`
	var args []any
	if scenario != "" {
		query += ` WHERE scenario = ?`
		args = append(args, scenario)
	}
	query += ` ORDER BY seq ASC, id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}

	runs := []RunInfo{}
	for rows.Next() {
		var r RunInfo
		if err := rows.Scan(&r.ID, &r.Session, &r.Scenario, &r.Label, &r.Seq); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	rows.Close()

	// Counts are read after the cursor is closed: the pool holds one connection.
	for i := range runs {
		if err := s.countRun(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *Store) countRun(ctx context.Context, r *RunInfo) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT collection, COUNT(*) FROM records
		WHERE run_id = ?
		GROUP BY collection
		ORDER BY collection COLLATE BINARY ASC
	`, r.ID)
	if err != nil {
		return fmt.Errorf("count records: %w", err)
	}
	// Record counts per collection
	r.Records = map[string]int{}
	for rows.Next() {
		var collection string
		var n int
		if err := rows.Scan(&collection, &n); err != nil {
			rows.Close()
			return fmt.Errorf("scan count: %w", err)
		}
		r.Records[collection] = n
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate counts: %w", err)
	}
	rows.Close()

	// File count
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM files WHERE run_id = ?`, r.ID).Scan(&r.Files); err != nil {
		return fmt.Errorf("count files: %w", err)
	}
	return nil
}
