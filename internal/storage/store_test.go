package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"spesebook/internal/core"
	"spesebook/internal/log"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, loc *time.Location) *Store {
	t.Helper()
	s, err := Open(context.Background(), Options{
		Path:     filepath.Join(t.TempDir(), "spesebook.db"),
		Location: loc,
		Logger:   log.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr[T any](v T) *T { return &v }

func TestOpen_SeedsNoneCategory(t *testing.T) {
	s := newTestStore(t, time.UTC)

	cats, err := s.ListCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 1)
	assert.Equal(t, core.NoneCategoryID, cats[0].ID)
	assert.Equal(t, core.NoneCategoryName, cats[0].Name)
}

func TestOpen_ReopenIsNoop(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "dir", "spesebook.db")

	s, err := Open(ctx, Options{Path: path, Location: time.UTC, Logger: log.Discard()})
	require.NoError(t, err)
	id, err := s.AddCategory(ctx, core.NewCategory{Name: "Food", Color: "#ff0000"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, Options{Path: path, Location: time.UTC, Logger: log.Discard()})
	require.NoError(t, err)
	defer s.Close()

	cats, err := s.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, id, cats[1].ID)
}

func TestOpen_UnavailableMedium(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))

	_, err := Open(context.Background(), Options{Path: filepath.Join(blocker, "db", "spesebook.db"), Logger: log.Discard()})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)

	_, err = Open(context.Background(), Options{Logger: log.Discard()})
	assert.ErrorIs(t, err, core.ErrStorageUnavailable)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m.db")

	v1, err := RunMigrations(path)
	require.NoError(t, err)
	v2, err := RunMigrations(path)
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, uint(2), v2)
}

func TestFormatInstant_SortsLexically(t *testing.T) {
	a := time.Date(2024, 1, 1, 9, 0, 0, 5, time.UTC)
	b := time.Date(2024, 1, 1, 9, 0, 0, 40, time.UTC)
	c := time.Date(2024, 1, 1, 10, 0, 0, 0, time.FixedZone("X", 3600)) // 09:00 UTC

	assert.Less(t, FormatInstant(c), FormatInstant(a))
	assert.Less(t, FormatInstant(a), FormatInstant(b))

	back, err := parseInstant(FormatInstant(b))
	require.NoError(t, err)
	assert.True(t, back.Equal(b))

	legacy, err := parseInstant("2024-01-01T10:00:00+01:00")
	require.NoError(t, err)
	assert.True(t, legacy.Equal(c))
}
