// Package freshness decides whether a tracked record is due for a recheck.
package freshness

import (
	"time"

	"github.com/JakeFAU/sitewatch/internal/tracker"
)

// DefaultWindow is how long a scan stays fresh.
const DefaultWindow = 24 * time.Hour

// DisplayLayout renders scanned_datetime values (dd/mm/yyThh:mm:ss).
const DisplayLayout = "02/01/06T15:04:05"

// Evaluator applies the freshness rule. Timestamps are Unix seconds.
type Evaluator struct {
	// Window is the age at which a record becomes stale. Zero means DefaultWindow.
	Window time.Duration
	// Tolerance shortens the window to absorb scheduler jitter.
	Tolerance time.Duration
	// Location is used for scanned_datetime. Nil means UTC.
	Location *time.Location
}

// New returns an Evaluator with the given window and tolerance.
func New(window, tolerance time.Duration, loc *time.Location) *Evaluator {
	return &Evaluator{Window: window, Tolerance: tolerance, Location: loc}
}

// Threshold returns the newest scan timestamp that is still considered stale.
func (e *Evaluator) Threshold(now time.Time) int64 {
	window := e.Window
	if window <= 0 {
		window = DefaultWindow
	}
	effective := window - e.Tolerance
	if effective < 0 {
		effective = 0
	}
	return now.Unix() - int64(effective/time.Second)
}

// Evaluate reports whether record is fresh. A stale record has its
// last_scanned_at advanced to now; a fresh record is left untouched.
func (e *Evaluator) Evaluate(record *tracker.Record, now time.Time) bool {
	if record.LastScannedAt != nil && *record.LastScannedAt > e.Threshold(now) {
		return true
	}
	e.touch(record, now)
	return false
}

func (e *Evaluator) touch(record *tracker.Record, now time.Time) {
	ts := now.Unix()
	record.LastScannedAt = &ts
	loc := e.Location
	if loc == nil {
		loc = time.UTC
	}
	record.ScannedDateTime = now.In(loc).Format(DisplayLayout)
}
