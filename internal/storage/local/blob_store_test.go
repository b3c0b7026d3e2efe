package local_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates missing dir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "reports")
		store, err := local.New(local.Config{Dir: dir})
		require.NoError(t, err)
		require.NotNil(t, store)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	})

	t.Run("missing dir config", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		require.ErrorContains(t, err, "reports.dir")
	})

	t.Run("path is a file", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{Dir: file})
		require.ErrorContains(t, err, "not a directory")
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.New(local.Config{Dir: dir})
	require.NoError(t, err)
	ctx := context.Background()

	uri, err := store.PutObject(ctx, "runs/updated_websites.csv", "text/csv", strings.NewReader("domain\na.org\n"))
	require.NoError(t, err)
	want := filepath.Join(dir, "runs", "updated_websites.csv")
	require.Equal(t, "file://"+want, uri)

	// #nosec G304 -- test reads from its own temp directory.
	got, err := os.ReadFile(want)
	require.NoError(t, err)
	require.Equal(t, "domain\na.org\n", string(got))

	_, err = store.PutObject(ctx, "", "text/csv", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")

	_, err = store.PutObject(ctx, "../escape.csv", "text/csv", strings.NewReader("x"))
	require.ErrorContains(t, err, "escapes report dir")

	entries, err := os.ReadDir(filepath.Join(dir, "runs"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestPutObjectRelativeDir(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	for _, rel := range []string{".", "./reports/"} {
		store, err := local.New(local.Config{Dir: rel})
		require.NoError(t, err, rel)

		uri, err := store.PutObject(context.Background(), "failed_websites.csv", "text/csv", strings.NewReader("domain\n"))
		require.NoError(t, err, rel)
		want := filepath.Join(dir, filepath.Clean(rel), "failed_websites.csv")
		require.Equal(t, "file://"+want, uri)
		require.FileExists(t, want)

		_, err = store.PutObject(context.Background(), "../escape.csv", "text/csv", strings.NewReader("x"))
		require.ErrorContains(t, err, "escapes report dir", rel)
	}
}
