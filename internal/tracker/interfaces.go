package tracker

import (
	"context"
	"io"
	"time"
)

// RecordSource returns every tracked record.
type RecordSource interface {
	ListRecords(ctx context.Context) ([]*Record, error)
}

// RecordSink persists a batch of records.
type RecordSink interface {
	UpsertRecords(ctx context.Context, records []*Record) error
}

// RecordStore combines the read and write sides of record persistence.
type RecordStore interface {
	RecordSource
	RecordSink
}

// BlobStore writes named objects and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Fetcher retrieves a page and returns its extracted visible text.
// Failures are returned as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Throttle delays a fetch until the target host may be contacted again.
type Throttle interface {
	Wait(ctx context.Context, url string) error
}

// Hasher computes fixed-length hex fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Publisher pushes change notifications to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
