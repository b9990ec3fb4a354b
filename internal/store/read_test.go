package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildIDs(builds []Build) []string {
	ids := make([]string, len(builds))
	for i, b := range builds {
		ids[i] = b.ID
	}
	return ids
}

func seed(t *testing.T, s *Store) {
	t.Helper()
	ctx := context.Background()
	for _, b := range []Build{
		createTestBuild("b-3", "Hello", "x86_64-pe-msvc", 2),
		createTestBuild("b-1", "Const42", "wasm32-wasi", 0),
		createTestBuild("b-2", "Const42", "x86_64-pe-msvc", 1),
		createTestBuild("b-4", "Const42", "wasm32-wasi", 2),
	} {
		require.NoError(t, s.RecordBuild(ctx, b))
	}
}

func TestListBuilds_Order(t *testing.T) {
	s := createTestStore(t)
	seed(t, s)

	builds, err := s.ListBuilds(context.Background(), Filter{})
	require.NoError(t, err)
	// b-3 and b-4 share a timestamp; the id breaks the tie
	assert.Equal(t, []string{"b-1", "b-2", "b-3", "b-4"}, buildIDs(builds))
	for _, b := range builds {
		assert.Len(t, b.Files, 1)
	}
}

func TestListBuilds_Filters(t *testing.T) {
	s := createTestStore(t)
	seed(t, s)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"program", Filter{Program: "Const42"}, []string{"b-1", "b-2", "b-4"}},
		{"target", Filter{Target: "x86_64-pe-msvc"}, []string{"b-2", "b-3"}},
		{"hash and target", Filter{ProgramHash: "hash-Const42", Target: "wasm32-wasi"}, []string{"b-1", "b-4"}},
		{"limit keeps newest", Filter{Limit: 2}, []string{"b-3", "b-4"}},
		{"no match", Filter{Program: "Nope"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builds, err := s.ListBuilds(ctx, tt.filter)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, builds)
				return
			}
			assert.Equal(t, tt.want, buildIDs(builds))
		})
	}
}

func TestGetBuild_Missing(t *testing.T) {
	s := createTestStore(t)

	_, ok, err := s.GetBuild(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMarshalTimeRoundTrip(t *testing.T) {
	in := epoch.Add(1234567891)
	out, err := unmarshalTime(marshalTime(in))
	require.NoError(t, err)
	assert.True(t, in.Equal(out))
	assert.Equal(t, "2024-01-01T00:00:01.234567891Z", marshalTime(in))
}
