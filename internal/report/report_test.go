package report

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitewatch/internal/storage/memory"
	"github.com/JakeFAU/sitewatch/internal/tracker"
)

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket missing")
}

func ptr[T any](v T) *T { return &v }

func TestNameUsesLocationAndPrefix(t *testing.T) {
	t.Parallel()

	runTS := time.Unix(1706574375, 0)

	w, err := NewWriter(memory.NewBlobStore(), "", nil)
	require.NoError(t, err)
	require.Equal(t, "updated_websites_30_01_24T00-26-15.csv", w.Name(KindUpdated, runTS))

	w, err = NewWriter(memory.NewBlobStore(), "/reports/", time.FixedZone("PST", -8*3600))
	require.NoError(t, err)
	require.Equal(t, "reports/failed_websites_29_01_24T16-26-15.csv", w.Name(KindFailed, runTS))
}

func TestRenderHeaderFromFirstRecord(t *testing.T) {
	t.Parallel()

	records := []*tracker.Record{
		{
			Identity:           "a.org",
			URL:                "https://a.org",
			DisplayName:        "A",
			LastScannedAt:      ptr(int64(100)),
			ContentFingerprint: ptr("abc"),
			ContentStatus:      tracker.ContentStatusNeedsExtraction,
		},
		{
			Identity:      "b.org",
			URL:           "https://b.org",
			DisplayName:   "B, Inc",
			ContentStatus: tracker.ContentStatusCurrent,
			ErrorCode:     "status: 500",
		},
	}

	body, err := Render(records)
	require.NoError(t, err)
	require.Equal(t,
		"domain,url,domain_name,scanned_at,website_hash,content_status\n"+
			"a.org,https://a.org,A,100,abc,extract\n"+
			"b.org,https://b.org,\"B, Inc\",,,latest\n",
		string(body))
}

func TestWriteReportStoresCSV(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	w, err := NewWriter(store, "runs", nil)
	require.NoError(t, err)

	runTS := time.Unix(1706574375, 0)
	uri, err := w.WriteReport(context.Background(), KindFailed, runTS, []*tracker.Record{
		{Identity: "a.org", URL: "https://a.org", ErrorCode: "timeout: deadline exceeded"},
	})
	require.NoError(t, err)
	require.Equal(t, "memory://runs/failed_websites_30_01_24T00-26-15.csv", uri)

	data, ct, ok := store.Object("runs/failed_websites_30_01_24T00-26-15.csv")
	require.True(t, ok)
	require.Equal(t, "text/csv; charset=utf-8", ct)
	require.Equal(t, "domain,url,domain_name,content_status,error_code\na.org,https://a.org,,,timeout: deadline exceeded\n", string(data))
}

func TestWriteReportEmptyIsNoop(t *testing.T) {
	t.Parallel()

	store := memory.NewBlobStore()
	w, err := NewWriter(store, "", nil)
	require.NoError(t, err)

	uri, err := w.WriteReport(context.Background(), KindUpdated, time.Now(), nil)
	require.NoError(t, err)
	require.Empty(t, uri)
	require.Empty(t, store.Paths())
}

func TestWriteReportStoreFailure(t *testing.T) {
	t.Parallel()

	w, err := NewWriter(failingStore{}, "", nil)
	require.NoError(t, err)

	_, err = w.WriteReport(context.Background(), KindUpdated, time.Now(), []*tracker.Record{{Identity: "a.org"}})
	require.ErrorContains(t, err, "store updated report")

	_, err = NewWriter(nil, "", nil)
	require.Error(t, err)
}
