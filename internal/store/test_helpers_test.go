package store

import (
	"path/filepath"
	"testing"
	"time"
)

var epoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestBuild creates a build with one output file.
func createTestBuild(id, program, target string, at int) Build {
	return Build{
		ID:          id,
		Program:     program,
		ProgramHash: "hash-" + program,
		Target:      target,
		Backend:     "wasi",
		Files:       []File{{Name: program + ".wasm", Size: 42, SHA256: "sha-" + id}},
		CreatedAt:   epoch.Add(time.Duration(at) * time.Second),
	}
}
