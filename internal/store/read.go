package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Filter narrows ListBuilds. Zero fields match everything.
type Filter struct {
	Program     string
	ProgramHash string
	Target      string
	// Limit keeps only the most recent builds when positive.
	Limit int
}

// ListBuilds returns matching builds oldest first, each with its files.
func (s *Store) ListBuilds(ctx context.Context, f Filter) ([]Build, error) {
	var where []string
	var args []any
	if f.Program != "" {
		where = append(where, "program_name = ?")
		args = append(args, f.Program)
	}
	if f.ProgramHash != "" {
		where = append(where, "program_hash = ?")
		args = append(args, f.ProgramHash)
	}
	if f.Target != "" {
		where = append(where, "target = ?")
		args = append(args, f.Target)
	}

	query := `SELECT id, program_name, program_hash, target, backend, created_at FROM builds`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	if f.Limit > 0 {
		// newest N, then back to ascending order
		query = `SELECT * FROM (` + query + ` ORDER BY created_at DESC, id DESC LIMIT ?) ORDER BY created_at ASC, id ASC COLLATE BINARY`
		args = append(args, f.Limit)
	} else {
		query += ` ORDER BY created_at ASC, id ASC COLLATE BINARY`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		b, err := scanBuild(rows)
		if err != nil {
			return nil, fmt.Errorf("list builds: %w", err)
		}
		builds = append(builds, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list builds: %w", err)
	}

	for i := range builds {
		files, err := s.files(ctx, builds[i].ID)
		if err != nil {
			return nil, err
		}
		builds[i].Files = files
	}
	return builds, nil
}

// GetBuild returns the build with id. The bool is false when no such
// build exists.
func (s *Store) GetBuild(ctx context.Context, id string) (Build, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, program_name, program_hash, target, backend, created_at
		FROM builds WHERE id = ?
	`, id)
	b, err := scanBuild(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Build{}, false, nil
	}
	if err != nil {
		return Build{}, false, fmt.Errorf("get build %s: %w", id, err)
	}
	if b.Files, err = s.files(ctx, id); err != nil {
		return Build{}, false, err
	}
	return b, true, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBuild(r scanner) (Build, error) {
	var b Build
	var created string
	if err := r.Scan(&b.ID, &b.Program, &b.ProgramHash, &b.Target, &b.Backend, &created); err != nil {
		return Build{}, err
	}
	t, err := unmarshalTime(created)
	if err != nil {
		return Build{}, err
	}
	b.CreatedAt = t
	return b, nil
}

func (s *Store) files(ctx context.Context, buildID string) ([]File, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT file_name, size, artifact_sha256 FROM build_files
		WHERE build_id = ?
		ORDER BY file_name ASC COLLATE BINARY
	`, buildID)
	if err != nil {
		return nil, fmt.Errorf("list files of %s: %w", buildID, err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		var f File
		if err := rows.Scan(&f.Name, &f.Size, &f.SHA256); err != nil {
			return nil, fmt.Errorf("list files of %s: %w", buildID, err)
		}
		files = append(files, f)
	}
	return files, rows.Err()
}
