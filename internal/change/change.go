// Package change decides whether a freshly computed fingerprint means a
// record's content changed.
package change

import "github.com/JakeFAU/sitewatch/internal/tracker"

// Apply compares fingerprint against the record's stored fingerprint. When it
// is missing or different the record takes the new fingerprint and is flagged
// for extraction; otherwise the status is reset to current. It reports whether
// the content changed.
func Apply(record *tracker.Record, fingerprint string) bool {
	if record.ContentFingerprint == nil || *record.ContentFingerprint != fingerprint {
		fp := fingerprint
		record.ContentFingerprint = &fp
		record.ContentStatus = tracker.ContentStatusNeedsExtraction
		return true
	}
	record.ContentStatus = tracker.ContentStatusCurrent
	return false
}
