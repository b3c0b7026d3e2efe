package tracker

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies per-record fetch failures.
type FetchErrorKind string

// Fetch failure kinds.
const (
	FetchErrorNetwork FetchErrorKind = "fetch"
	FetchErrorTimeout FetchErrorKind = "timeout"
	FetchErrorStatus  FetchErrorKind = "status"
	FetchErrorParse   FetchErrorKind = "parse"
	FetchErrorHash    FetchErrorKind = "hash"
)

// FetchError is the structured failure returned by a Fetcher.
type FetchError struct {
	Kind FetchErrorKind
	URL  string
	Err  error
}

// NewFetchError wraps err with a kind and the URL that failed.
func NewFetchError(kind FetchErrorKind, url string, err error) *FetchError {
	return &FetchError{Kind: kind, URL: url, Err: err}
}

func (e *FetchError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError converts any error into a *FetchError, classifying unknown
// errors as network failures.
func AsFetchError(url string, err error) *FetchError {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe
	}
	return NewFetchError(FetchErrorNetwork, url, err)
}
