package feed

import "fmt"

// FetchError is a network-level failure retrieving a feed document:
// connection error, timeout, or a non-200 status.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetch %s: %v", e.URL, e.Err) }

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError is a malformed feed document, or a document that parsed without
// yielding any feed-level metadata.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse %s: %v", e.URL, e.Err) }

func (e *ParseError) Unwrap() error { return e.Err }
