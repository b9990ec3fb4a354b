package cli

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/polyasm/internal/store"
)

// seedLedger records builds directly, one second apart.
func seedLedger(t *testing.T, builds ...store.Build) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "builds.db")
	st, err := store.Open(db)
	require.NoError(t, err)
	defer st.Close()

	base := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	for i, b := range builds {
		b.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, st.RecordBuild(context.Background(), b))
	}
	return db
}

func ledgerBuild(id, program, target, backend, file string) store.Build {
	return store.Build{
		ID:          id,
		Program:     program,
		ProgramHash: "hash-" + program,
		Target:      target,
		Backend:     backend,
		Files:       []store.File{{Name: file, Size: 64, SHA256: "sha-" + id}},
	}
}

func TestHistoryTable(t *testing.T) {
	db := seedLedger(t,
		ledgerBuild("b-1", "Hello", "wasm32-wat-wasi", "wasi", "Hello.wasm"),
		ledgerBuild("b-2", "Hello", "jvm-jasm-jvm8", "jvm", "Hello.class"),
	)

	out, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "2 build(s)")
	assert.Contains(t, out, "Hello.wasm (64 bytes)")
	assert.Contains(t, out, "Hello.class (64 bytes)")
	assert.Contains(t, out, "2024-01-01T00:00:01Z")
	assert.Contains(t, out, "b-2")
}

func TestHistoryFilters(t *testing.T) {
	db := seedLedger(t,
		ledgerBuild("b-1", "Hello", "wasm32-wat-wasi", "wasi", "Hello.wasm"),
		ledgerBuild("b-2", "Count", "wasm32-wat-wasi", "wasi", "Count.wasm"),
		ledgerBuild("b-3", "Hello", "jvm-jasm-jvm8", "jvm", "Hello.class"),
	)

	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"all", nil, []string{"b-1", "b-2", "b-3"}},
		{"program", []string{"--program", "Hello"}, []string{"b-1", "b-3"}},
		{"target", []string{"--target", "wasm32-wat-wasi"}, []string{"b-1", "b-2"}},
		{"limit", []string{"--limit", "1"}, []string{"b-3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"history", "--db", db, "--format", "json"}, tt.args...)
			out, err := execute(t, args...)
			require.NoError(t, err)

			var builds []HistoryBuild
			decodeData(t, out, &builds)
			ids := make([]string, len(builds))
			for i, b := range builds {
				ids[i] = b.ID
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestHistoryJSONFields(t *testing.T) {
	db := seedLedger(t, ledgerBuild("b-1", "Hello", "wasm32-wat-wasi", "wasi", "Hello.wasm"))

	out, err := execute(t, "history", "--db", db, "--format", "json")
	require.NoError(t, err)

	var builds []HistoryBuild
	decodeData(t, out, &builds)
	require.Len(t, builds, 1)
	assert.Equal(t, HistoryBuild{
		ID:          "b-1",
		Program:     "Hello",
		ProgramHash: "hash-Hello",
		Target:      "wasm32-wat-wasi",
		Backend:     "wasi",
		CreatedAt:   "2024-01-01T00:00:00Z",
		Files:       []BuildFile{{Name: "Hello.wasm", Size: 64, SHA256: "sha-b-1"}},
	}, builds[0])
}

func TestHistoryEmptyLedger(t *testing.T) {
	db := seedLedger(t)

	out, err := execute(t, "history", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No builds recorded.")

	out, err = execute(t, "history", "--db", db, "--format", "json")
	require.NoError(t, err)
	var builds []HistoryBuild
	decodeData(t, out, &builds)
	assert.Empty(t, builds)
}

func TestHistoryErrors(t *testing.T) {
	_, err := execute(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `required flag(s) "db" not set`)

	out, err := execute(t, "history", "--db", filepath.Join(t.TempDir(), "missing.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
	assert.Contains(t, out, "database not found")
}
