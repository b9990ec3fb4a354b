package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordBuild(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := createTestBuild("b-1", "Const42", "wasm32-wasi", 0)
	require.NoError(t, s.RecordBuild(ctx, b))

	got, ok, err := s.GetBuild(ctx, "b-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, b, got)
}

func TestRecordBuild_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	first := createTestBuild("b-1", "Const42", "wasm32-wasi", 0)
	require.NoError(t, s.RecordBuild(ctx, first))

	second := createTestBuild("b-1", "Other", "x86_64-pe-msvc", 5)
	require.NoError(t, s.RecordBuild(ctx, second))

	got, ok, err := s.GetBuild(ctx, "b-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, got, "the first record wins")
}

func TestRecordBuild_MultipleFiles(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	b := createTestBuild("b-1", "Prog", "jvm-class-jvm8", 0)
	b.Files = []File{
		{Name: "Prog.class", Size: 300, SHA256: "aa"},
		{Name: "Prog.aux", Size: 12, SHA256: "bb"},
	}
	require.NoError(t, s.RecordBuild(ctx, b))

	got, _, err := s.GetBuild(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, []File{
		{Name: "Prog.aux", Size: 12, SHA256: "bb"},
		{Name: "Prog.class", Size: 300, SHA256: "aa"},
	}, got.Files, "files come back sorted by name")
}

func TestRecordBuild_RequiresID(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordBuild(context.Background(), Build{Program: "x"})
	assert.Error(t, err)
}
