package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/tracker"
)

func TestRecordStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewRecordStore(
		&tracker.Record{Identity: "b.org", URL: "https://b.org"},
		&tracker.Record{Identity: "a.org", URL: "https://a.org"},
	)

	records, err := store.ListRecords(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a.org", records[0].Identity)

	records[0].URL = "modified"
	got, ok := store.Get("a.org")
	require.True(t, ok)
	require.Equal(t, "https://a.org", got.URL, "ListRecords must return copies")

	ts := int64(42)
	records[0].LastScannedAt = &ts
	records[0].URL = "https://a.org/new"
	require.NoError(t, store.UpsertRecords(ctx, records[:1]))

	got, ok = store.Get("a.org")
	require.True(t, ok)
	require.Equal(t, "https://a.org/new", got.URL)
	require.Equal(t, int64(42), *got.LastScannedAt)

	ts = 99
	got, _ = store.Get("a.org")
	require.Equal(t, int64(42), *got.LastScannedAt, "stored record must not alias caller memory")
}

func TestRecordStoreUpsertValidation(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	err := store.UpsertRecords(context.Background(), []*tracker.Record{
		{Identity: "ok.org"},
		{Identity: ""},
	})
	require.Error(t, err)
	_, ok := store.Get("ok.org")
	require.False(t, ok, "a rejected batch must not be partially applied")
}

func TestRecordStoreFailUpserts(t *testing.T) {
	t.Parallel()

	store := NewRecordStore()
	store.FailUpserts = errors.New("store down")
	err := store.UpsertRecords(context.Background(), []*tracker.Record{{Identity: "x.org"}})
	require.EqualError(t, err, "store down")
}

func TestLoadRecords(t *testing.T) {
	t.Parallel()

	records, err := LoadRecords(strings.NewReader(`[
		{"domain": "a.org", "url": "https://a.org", "domain_name": "A", "scanned_at": 100, "website_hash": "abc", "content_status": "latest"},
		{"domain": "b.org", "url": "https://b.org", "domain_name": "B", "content_status": ""}
	]`))
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, int64(100), *records[0].LastScannedAt)
	require.Equal(t, "abc", *records[0].ContentFingerprint)
	require.Equal(t, tracker.ContentStatusCurrent, records[0].ContentStatus)
	require.Nil(t, records[1].LastScannedAt)

	_, err = LoadRecords(strings.NewReader(`[{"url": "https://nameless.org"}]`))
	require.ErrorContains(t, err, "identity is required")

	_, err = LoadRecords(strings.NewReader(`{`))
	require.Error(t, err)
}

func TestNewRecordStoreFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"domain": "a.org", "url": "https://a.org"}]`), 0o600))

	store, err := NewRecordStoreFromFile(path)
	require.NoError(t, err)
	_, ok := store.Get("a.org")
	require.True(t, ok)

	_, err = NewRecordStoreFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
