package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedIdentifier means no host could be derived from an identifier.
	ErrMalformedIdentifier = errors.New("malformed identifier")
	// ErrEngineClosed is returned by Crawl once Shutdown has been called.
	ErrEngineClosed = errors.New("engine closed")
	// ErrRunNotFound is returned by RunStore implementations for unknown run IDs.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunExists is returned when a run ID is created twice.
	ErrRunExists = errors.New("run already exists")
)

// FetchError records a failed download.
type FetchError struct {
	Identifier string
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Identifier, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ExtractError records a failure to expand a fetched page. Identifier is the
// page being expanded, never one of its links.
type ExtractError struct {
	Identifier string
	Err        error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract links from %s: %v", e.Identifier, e.Err)
}

func (e *ExtractError) Unwrap() error { return e.Err }

type panicError struct {
	value any
}

func (e panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}
