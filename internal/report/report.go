// Package report renders record sets as CSV and stores them through a BlobStore.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"
	"time"

	"github.com/JakeFAU/sitewatch/internal/tracker"
)

// Kind names a report.
type Kind string

// Report kinds written at the end of a run.
const (
	KindUpdated Kind = "updated"
	KindFailed  Kind = "failed"
)

const (
	// TimestampLayout formats the run timestamp embedded in report names.
	TimestampLayout = "02_01_06T15-04-05"
	contentType     = "text/csv; charset=utf-8"
)

// Writer stores CSV reports.
type Writer struct {
	store    tracker.BlobStore
	prefix   string
	location *time.Location
}

// NewWriter builds a report writer. loc controls the timestamp in object names
// and defaults to UTC.
func NewWriter(store tracker.BlobStore, prefix string, loc *time.Location) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("report blob store is required")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Writer{store: store, prefix: strings.Trim(prefix, "/"), location: loc}, nil
}

// Name returns the object name for a report of kind taken at runTS.
func (w *Writer) Name(kind Kind, runTS time.Time) string {
	name := fmt.Sprintf("%s_websites_%s.csv", kind, runTS.In(w.location).Format(TimestampLayout))
	if w.prefix == "" {
		return name
	}
	return w.prefix + "/" + name
}

// WriteReport renders records as CSV and stores the result, returning the
// object URI. An empty record set writes nothing and returns "".
func (w *Writer) WriteReport(ctx context.Context, kind Kind, runTS time.Time, records []*tracker.Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	body, err := Render(records)
	if err != nil {
		return "", fmt.Errorf("render %s report: %w", kind, err)
	}
	uri, err := w.store.PutObject(ctx, w.Name(kind, runTS), contentType, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("store %s report: %w", kind, err)
	}
	return uri, nil
}

// Render encodes records as CSV. The header is taken from the first record's
// fields; later records leave absent columns empty and drop fields that are
// not in the header.
func Render(records []*tracker.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}
	header := records[0].Fields()

	var buf bytes.Buffer
	cw := csv.NewWriter(&buf)
	if err := cw.Write(header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	row := make([]string, len(header))
	for _, rec := range records {
		for i, field := range header {
			v, _ := rec.Value(field)
			row[i] = v
		}
		if err := cw.Write(row); err != nil {
			return nil, fmt.Errorf("write row %s: %w", rec.Identity, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
