// Package scanner runs one pass over every tracked site: it decides which
// records are due, refetches and fingerprints them, persists the results and
// writes the run reports.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/sitewatch/internal/change"
	"github.com/JakeFAU/sitewatch/internal/freshness"
	"github.com/JakeFAU/sitewatch/internal/metrics"
	"github.com/JakeFAU/sitewatch/internal/report"
	"github.com/JakeFAU/sitewatch/internal/tracker"
)

var (
	// ErrPersistence marks a run whose batch write was rejected by the record sink.
	ErrPersistence = errors.New("persist records")
	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("scan run already in progress")
	// ErrRunInterrupted marks a run whose context was canceled before every
	// record was processed. Finished records are still persisted and reported.
	ErrRunInterrupted = errors.New("scan run interrupted")
)

// Default tuning values.
const (
	DefaultConcurrency  = 8
	DefaultFetchTimeout = 30 * time.Second
	// EventRecordChanged names the notification published per updated record.
	EventRecordChanged = "record.changed"
)

// DefaultExclude lists identities that are never fetched.
var DefaultExclude = []string{"tilthalliance.org"}

// ReportWriter stores the per-run CSV reports.
type ReportWriter interface {
	WriteReport(ctx context.Context, kind report.Kind, runTS time.Time, records []*tracker.Record) (string, error)
}

// Config controls Scanner behavior.
type Config struct {
	// Exclude holds identities that are never fetched.
	Exclude      []string
	Concurrency  int
	FetchTimeout time.Duration
	Window       time.Duration
	Tolerance    time.Duration
	// Location renders scanned_datetime. Defaults to UTC.
	Location *time.Location
	// PersistTouched also persists rechecked records whose content did not
	// change, so their new scan timestamp survives the run.
	PersistTouched bool
	// Topic receives one notification per updated record. Empty disables publishing.
	Topic string
	// Throttle paces fetches per host. Its wait does not count against FetchTimeout.
	Throttle tracker.Throttle
}

// Scanner orchestrates a run.
type Scanner struct {
	source    tracker.RecordSource
	sink      tracker.RecordSink
	reports   ReportWriter
	fetcher   tracker.Fetcher
	hasher    tracker.Hasher
	ids       tracker.IDGenerator
	publisher tracker.Publisher
	evaluator *freshness.Evaluator
	exclude   map[string]struct{}
	cfg       Config
	logger    *zap.Logger
	running   atomic.Bool
}

// New constructs a Scanner. publisher may be nil when no topic is configured.
func New(
	source tracker.RecordSource,
	sink tracker.RecordSink,
	reports ReportWriter,
	fetcher tracker.Fetcher,
	hasher tracker.Hasher,
	ids tracker.IDGenerator,
	publisher tracker.Publisher,
	cfg Config,
	logger *zap.Logger,
) (*Scanner, error) {
	switch {
	case source == nil:
		return nil, fmt.Errorf("record source is required")
	case sink == nil:
		return nil, fmt.Errorf("record sink is required")
	case reports == nil:
		return nil, fmt.Errorf("report writer is required")
	case fetcher == nil:
		return nil, fmt.Errorf("fetcher is required")
	case hasher == nil:
		return nil, fmt.Errorf("hasher is required")
	case ids == nil:
		return nil, fmt.Errorf("id generator is required")
	case cfg.Topic != "" && publisher == nil:
		return nil, fmt.Errorf("publisher is required when a topic is configured")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	exclude := make(map[string]struct{}, len(cfg.Exclude))
	for _, id := range cfg.Exclude {
		if id = strings.ToLower(strings.TrimSpace(id)); id != "" {
			exclude[id] = struct{}{}
		}
	}
	metrics.Init()
	return &Scanner{
		source:    source,
		sink:      sink,
		reports:   reports,
		fetcher:   fetcher,
		hasher:    hasher,
		ids:       ids,
		publisher: publisher,
		evaluator: freshness.New(cfg.Window, cfg.Tolerance, cfg.Location),
		exclude:   exclude,
		cfg:       cfg,
		logger:    logger.Named("scanner"),
	}, nil
}

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeExcluded
	outcomeUnchanged
	outcomeUpdated
	outcomeFailed
	outcomeInterrupted
)

func (o outcome) String() string {
	switch o {
	case outcomeSkipped:
		return metrics.OutcomeSkipped
	case outcomeExcluded:
		return metrics.OutcomeExcluded
	case outcomeUnchanged:
		return metrics.OutcomeUnchanged
	case outcomeUpdated:
		return metrics.OutcomeUpdated
	case outcomeInterrupted:
		return metrics.OutcomeInterrupted
	default:
		return metrics.OutcomeFailed
	}
}

// results accumulates per-record outcomes across goroutines.
type results struct {
	mu          sync.Mutex
	updated     []*tracker.Record
	failed      []*tracker.Record
	touched     []*tracker.Record
	skipped     int
	excluded    int
	interrupted int
}

func (r *results) add(rec *tracker.Record, o outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch o {
	case outcomeSkipped:
		r.skipped++
		return
	case outcomeInterrupted:
		r.interrupted++
		return
	case outcomeExcluded:
		r.excluded++
	case outcomeUpdated:
		r.updated = append(r.updated, rec)
	case outcomeFailed:
		r.failed = append(r.failed, rec)
	}
	r.touched = append(r.touched, rec)
}

// Run processes every tracked record once as of now. Per-record failures are
// recorded on the record and in the failed report; only a rejected batch write
// (ErrPersistence), an unreadable record source or a canceled ctx
// (ErrRunInterrupted) fails the run. Records not finished before ctx is
// canceled keep their previous state. Runs never overlap; a concurrent call
// returns ErrRunInProgress.
func (s *Scanner) Run(ctx context.Context, now time.Time) (tracker.Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return tracker.Summary{}, ErrRunInProgress
	}
	defer s.running.Store(false)

	start := time.Now()
	runID, err := s.ids.NewID()
	if err != nil {
		return tracker.Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := s.logger.With(zap.String("run_id", runID))
	summary := tracker.Summary{RunID: runID}

	records, err := s.source.ListRecords(ctx)
	if err != nil {
		metrics.ObserveRun("error", time.Now())
		return summary, fmt.Errorf("list records: %w", err)
	}
	total := len(records)
	logger.Info("run started", zap.Int("records", total), zap.Int64("now", now.Unix()))

	res := &results{}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, rec := range records {
		if ctx.Err() != nil {
			res.mu.Lock()
			res.interrupted += total - i
			res.mu.Unlock()
			break
		}
		g.Go(func() error {
			o := s.processRecord(gctx, rec, now, logger)
			res.add(rec, o)
			metrics.ObserveRecord(o.String())
			logger.Debug("record processed",
				zap.Int("n", i+1),
				zap.Int("of", total),
				zap.String("identity", rec.Identity),
				zap.Stringer("outcome", o),
			)
			return nil
		})
	}
	_ = g.Wait()

	summary.Updated = len(res.updated)
	summary.Failed = len(res.failed)
	summary.Skipped = res.skipped
	summary.Excluded = res.excluded
	summary.Scanned = len(res.touched)
	summary.Interrupted = res.interrupted

	// Finished records are written even when ctx was canceled mid-run.
	flushCtx := context.WithoutCancel(ctx)
	persistErr := s.persist(flushCtx, res, logger)
	s.writeReports(flushCtx, runID, now, res, logger)
	if persistErr == nil {
		s.publishChanges(flushCtx, runID, res.updated, logger)
	}

	summary.Duration = time.Since(start)
	finished := time.Now()
	if persistErr != nil {
		metrics.ObserveRun("error", finished)
		logger.Error("run failed", zap.Error(persistErr), zap.Duration("duration", summary.Duration))
		return summary, persistErr
	}
	if summary.Interrupted > 0 {
		metrics.ObserveRun(metrics.OutcomeInterrupted, finished)
		logger.Warn("run interrupted",
			zap.Int("scanned", summary.Scanned),
			zap.Int("interrupted", summary.Interrupted),
			zap.Duration("duration", summary.Duration),
		)
		return summary, fmt.Errorf("%w: %d of %d records not processed: %w",
			ErrRunInterrupted, summary.Interrupted, total, context.Cause(ctx))
	}
	metrics.ObserveRun("success", finished)
	logger.Info("run finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("updated", summary.Updated),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("excluded", summary.Excluded),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}

// processRecord mutates only rec. A record interrupted by ctx is restored to
// its state before the freshness check.
func (s *Scanner) processRecord(ctx context.Context, rec *tracker.Record, now time.Time, logger *zap.Logger) outcome {
	if ctx.Err() != nil {
		return outcomeInterrupted
	}
	prevScannedAt, prevScannedDateTime := rec.LastScannedAt, rec.ScannedDateTime
	if s.evaluator.Evaluate(rec, now) {
		return outcomeSkipped
	}
	if s.isExcluded(rec.Identity) {
		return outcomeExcluded
	}

	text, fetchDur, err := s.fetch(ctx, rec.URL)
	if err != nil && ctx.Err() != nil {
		rec.LastScannedAt, rec.ScannedDateTime = prevScannedAt, prevScannedDateTime
		logger.Debug("fetch interrupted", zap.String("identity", rec.Identity), zap.Error(err))
		return outcomeInterrupted
	}
	if err != nil {
		fe := tracker.AsFetchError(rec.URL, err)
		rec.ErrorCode = fe.Error()
		metrics.ObserveFetch(metrics.OutcomeFailed, fetchDur)
		logger.Warn("fetch failed",
			zap.String("identity", rec.Identity),
			zap.String("url", rec.URL),
			zap.String("kind", string(fe.Kind)),
			zap.Error(fe.Err),
		)
		return outcomeFailed
	}
	rec.ErrorCode = ""
	metrics.ObserveFetch("success", fetchDur)

	hashStart := time.Now()
	fingerprint, err := s.hasher.Hash([]byte(text))
	hashDur := time.Since(hashStart)
	metrics.ObserveHash(hashDur)
	if err != nil {
		rec.ErrorCode = tracker.NewFetchError(tracker.FetchErrorHash, rec.URL, err).Error()
		logger.Warn("fingerprint failed", zap.String("identity", rec.Identity), zap.Error(err))
		return outcomeFailed
	}
	logger.Debug("record fingerprinted",
		zap.String("identity", rec.Identity),
		zap.Duration("fetch", fetchDur),
		zap.Duration("hash", hashDur),
	)

	if change.Apply(rec, fingerprint) {
		return outcomeUpdated
	}
	return outcomeUnchanged
}

// fetch waits for the host's throttle on ctx, then fetches under FetchTimeout.
// The returned duration covers only the fetch.
func (s *Scanner) fetch(ctx context.Context, url string) (string, time.Duration, error) {
	if s.cfg.Throttle != nil {
		if err := s.cfg.Throttle.Wait(ctx, url); err != nil {
			return "", 0, tracker.NewFetchError(tracker.FetchErrorTimeout, url, err)
		}
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	metrics.IncActiveFetches()
	defer metrics.DecActiveFetches()
	start := time.Now()
	text, err := s.fetcher.Fetch(fetchCtx, url)
	return text, time.Since(start), err
}

func (s *Scanner) isExcluded(identity string) bool {
	_, ok := s.exclude[strings.ToLower(identity)]
	return ok
}

func (s *Scanner) persist(ctx context.Context, res *results, logger *zap.Logger) error {
	batch := res.updated
	if s.cfg.PersistTouched {
		batch = res.touched
	}
	if len(batch) == 0 {
		return nil
	}
	if err := s.sink.UpsertRecords(ctx, batch); err != nil {
		return fmt.Errorf("%w: %d records: %w", ErrPersistence, len(batch), err)
	}
	logger.Info("records persisted", zap.Int("count", len(batch)))
	return nil
}

func (s *Scanner) writeReports(ctx context.Context, runID string, now time.Time, res *results, logger *zap.Logger) {
	for _, r := range []struct {
		kind    report.Kind
		records []*tracker.Record
	}{
		{report.KindUpdated, res.updated},
		{report.KindFailed, res.failed},
	} {
		if len(r.records) == 0 {
			continue
		}
		uri, err := s.reports.WriteReport(ctx, r.kind, now, r.records)
		if err != nil {
			metrics.ObserveReport(string(r.kind), "error")
			logger.Error("write report failed", zap.String("kind", string(r.kind)), zap.Error(err))
			continue
		}
		metrics.ObserveReport(string(r.kind), "success")
		logger.Info("report written",
			zap.String("kind", string(r.kind)),
			zap.String("uri", uri),
			zap.Int("records", len(r.records)),
			zap.String("run_id", runID),
		)
	}
}

func (s *Scanner) publishChanges(ctx context.Context, runID string, updated []*tracker.Record, logger *zap.Logger) {
	if s.cfg.Topic == "" {
		return
	}
	for _, rec := range updated {
		note := tracker.ChangeNotification{
			RunID:    runID,
			Identity: rec.Identity,
			URL:      rec.URL,
		}
		if rec.ContentFingerprint != nil {
			note.Fingerprint = *rec.ContentFingerprint
		}
		if rec.LastScannedAt != nil {
			note.ScannedAt = *rec.LastScannedAt
		}
		if _, err := s.publisher.Publish(ctx, s.cfg.Topic, note); err != nil {
			logger.Warn("publish change failed", zap.String("identity", rec.Identity), zap.Error(err))
		}
	}
}
