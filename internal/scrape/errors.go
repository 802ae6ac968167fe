package scrape

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies why a page could not be fetched.
type FetchErrorKind string

const (
	FetchNetwork    FetchErrorKind = "network"
	FetchTimeout    FetchErrorKind = "timeout"
	FetchHTTPStatus FetchErrorKind = "http_status"
)

// FetchError is returned by Fetcher implementations when a request fails.
// Status is only meaningful for FetchHTTPStatus.
type FetchError struct {
	Kind   FetchErrorKind
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchHTTPStatus {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s", e.URL, e.Kind)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractErrorKind classifies why listings could not be extracted from a
// fetched page.
type ExtractErrorKind string

const (
	// ExtractEmptyResult means the page parsed fine but matched no
	// listings. Usually the query simply has no results.
	ExtractEmptyResult ExtractErrorKind = "empty_result"
	// ExtractMalformedDocument means the page did not parse or is missing
	// the expected structure, typically a site layout change.
	ExtractMalformedDocument ExtractErrorKind = "malformed_document"
)

// ExtractError is returned by Extractor implementations.
type ExtractError struct {
	Kind ExtractErrorKind
	Err  error
}

func (e *ExtractError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("extract: %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("extract: %s", e.Kind)
}

func (e *ExtractError) Unwrap() error { return e.Err }

// IsEmptyResult reports whether err is an ExtractError of kind
// ExtractEmptyResult.
func IsEmptyResult(err error) bool {
	var xerr *ExtractError
	return errors.As(err, &xerr) && xerr.Kind == ExtractEmptyResult
}

// IsMalformedDocument reports whether err is an ExtractError of kind
// ExtractMalformedDocument.
func IsMalformedDocument(err error) bool {
	var xerr *ExtractError
	return errors.As(err, &xerr) && xerr.Kind == ExtractMalformedDocument
}

// IsTimeout reports whether err is a FetchError of kind FetchTimeout.
func IsTimeout(err error) bool {
	var ferr *FetchError
	return errors.As(err, &ferr) && ferr.Kind == FetchTimeout
}
