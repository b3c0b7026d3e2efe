package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/JakeFAU/sitewatch/internal/tracker"
)

// RecordStore keeps tracked records in memory, keyed by identity.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]*tracker.Record
	// FailUpserts makes UpsertRecords fail, for exercising persistence errors.
	FailUpserts error
}

// NewRecordStore seeds a store with copies of records.
func NewRecordStore(records ...*tracker.Record) *RecordStore {
	s := &RecordStore{records: make(map[string]*tracker.Record, len(records))}
	for _, r := range records {
		s.records[r.Identity] = r.Clone()
	}
	return s
}

// ListRecords returns copies of all records ordered by identity.
func (s *RecordStore) ListRecords(_ context.Context) ([]*tracker.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*tracker.Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	return out, nil
}

// UpsertRecords stores copies of records. The batch is applied atomically.
func (s *RecordStore) UpsertRecords(_ context.Context, records []*tracker.Record) error {
	if s.FailUpserts != nil {
		return s.FailUpserts
	}
	for _, r := range records {
		if r.Identity == "" {
			return errors.New("record identity is required")
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.Identity] = r.Clone()
	}
	return nil
}

// Get returns a copy of the record stored under identity.
func (s *RecordStore) Get(identity string) (*tracker.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[identity]
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// LoadRecords decodes a JSON array of records, as written by the json tags on
// tracker.Record.
func LoadRecords(r io.Reader) ([]*tracker.Record, error) {
	var records []*tracker.Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("decode seed records: %w", err)
	}
	for i, rec := range records {
		if rec == nil || rec.Identity == "" {
			return nil, fmt.Errorf("seed record %d: identity is required", i)
		}
	}
	return records, nil
}

// NewRecordStoreFromFile seeds a store from a JSON file.
func NewRecordStoreFromFile(path string) (*RecordStore, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied seed file
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer func() { _ = f.Close() }()
	records, err := LoadRecords(f)
	if err != nil {
		return nil, err
	}
	return NewRecordStore(records...), nil
}
