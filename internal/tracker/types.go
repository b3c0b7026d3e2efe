package tracker

import (
	"strconv"
	"time"
)

// ContentStatus tells downstream consumers whether a record's page must be
// re-extracted.
type ContentStatus string

// Content status values persisted with each record.
const (
	ContentStatusUnset           ContentStatus = ""
	ContentStatusCurrent         ContentStatus = "latest"
	ContentStatusNeedsExtraction ContentStatus = "extract"
)

// Report field names, also used as CSV headers.
const (
	FieldIdentity           = "domain"
	FieldURL                = "url"
	FieldDisplayName        = "domain_name"
	FieldLastScannedAt      = "scanned_at"
	FieldScannedDateTime    = "scanned_datetime"
	FieldContentFingerprint = "website_hash"
	FieldContentStatus      = "content_status"
	FieldErrorCode          = "error_code"
)

// Record is one monitored web resource.
type Record struct {
	Identity           string        `json:"domain"`
	URL                string        `json:"url"`
	DisplayName        string        `json:"domain_name"`
	LastScannedAt      *int64        `json:"scanned_at,omitempty"`
	ScannedDateTime    string        `json:"scanned_datetime,omitempty"`
	ContentFingerprint *string       `json:"website_hash,omitempty"`
	ContentStatus      ContentStatus `json:"content_status"`
	ErrorCode          string        `json:"error_code,omitempty"`
}

// Fields lists the names of the fields present on the record in report order.
// Nullable fields that are unset are omitted.
func (r *Record) Fields() []string {
	fields := []string{FieldIdentity, FieldURL, FieldDisplayName}
	if r.LastScannedAt != nil {
		fields = append(fields, FieldLastScannedAt)
	}
	if r.ScannedDateTime != "" {
		fields = append(fields, FieldScannedDateTime)
	}
	if r.ContentFingerprint != nil {
		fields = append(fields, FieldContentFingerprint)
	}
	fields = append(fields, FieldContentStatus)
	if r.ErrorCode != "" {
		fields = append(fields, FieldErrorCode)
	}
	return fields
}

// Value renders a single named field. The boolean is false when the field is
// unknown or not set on this record.
func (r *Record) Value(field string) (string, bool) {
	switch field {
	case FieldIdentity:
		return r.Identity, true
	case FieldURL:
		return r.URL, true
	case FieldDisplayName:
		return r.DisplayName, true
	case FieldLastScannedAt:
		if r.LastScannedAt == nil {
			return "", false
		}
		return strconv.FormatInt(*r.LastScannedAt, 10), true
	case FieldScannedDateTime:
		return r.ScannedDateTime, r.ScannedDateTime != ""
	case FieldContentFingerprint:
		if r.ContentFingerprint == nil {
			return "", false
		}
		return *r.ContentFingerprint, true
	case FieldContentStatus:
		return string(r.ContentStatus), true
	case FieldErrorCode:
		return r.ErrorCode, r.ErrorCode != ""
	default:
		return "", false
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	cp := *r
	if r.LastScannedAt != nil {
		ts := *r.LastScannedAt
		cp.LastScannedAt = &ts
	}
	if r.ContentFingerprint != nil {
		fp := *r.ContentFingerprint
		cp.ContentFingerprint = &fp
	}
	return &cp
}

// Summary reports the outcome of one run.
type Summary struct {
	RunID    string `json:"run_id"`
	Scanned  int    `json:"scanned"`
	Updated  int    `json:"updated"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
	Excluded int    `json:"excluded"`
	// Interrupted counts records left untouched because the run was canceled.
	Interrupted int           `json:"interrupted"`
	Duration    time.Duration `json:"duration"`
}

// ChangeNotification is published for every record whose content changed.
type ChangeNotification struct {
	RunID       string `json:"run_id"`
	Identity    string `json:"domain"`
	URL         string `json:"url"`
	Fingerprint string `json:"website_hash"`
	ScannedAt   int64  `json:"scanned_at"`
}
