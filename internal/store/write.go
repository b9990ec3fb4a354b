package store

import (
	"context"
	"fmt"
	"time"
)

// Build is one ledger entry.
type Build struct {
	ID          string
	Program     string
	ProgramHash string
	Target      string
	Backend     string
	Files       []File
	CreatedAt   time.Time
}

// File is one output artifact of a build.
type File struct {
	Name   string
	Size   int
	SHA256 string
}

// RecordBuild inserts a build and its files in one transaction.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - recording the same
// build ID twice leaves the first record untouched.
func (s *Store) RecordBuild(ctx context.Context, b Build) error {
	if b.ID == "" {
		return fmt.Errorf("record build: id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("record build: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO builds
		(id, program_name, program_hash, target, backend, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		b.ID,
		b.Program,
		b.ProgramHash,
		b.Target,
		b.Backend,
		marshalTime(b.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("record build: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("record build: %w", err)
	} else if n == 0 {
		return nil
	}

	for _, f := range b.Files {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO build_files (build_id, file_name, size, artifact_sha256)
			VALUES (?, ?, ?, ?)
		`, b.ID, f.Name, f.Size, f.SHA256)
		if err != nil {
			return fmt.Errorf("record build file %s: %w", f.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("record build: %w", err)
	}
	return nil
}
