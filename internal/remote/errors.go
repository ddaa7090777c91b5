// Package remote implements the HTTP clients for the three collaborator
// services the conversation core depends on: the session store (chat and
// message CRUD), the QA engine (retrieval-augmented answering and its
// server-side memory), and the document ingestion service.
//
// This file defines the client-side error taxonomy. Every failure crossing a
// client boundary is classified as either a fetch failure (reads) or a write
// failure (mutations), so the conversation controller can pick the documented
// recovery path without inspecting transport details.
package remote

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when the remote service answers 404 for the
// requested resource. It is wrapped by FetchError/WriteError and should be
// checked with errors.Is.
var ErrNotFound = errors.New("remote resource not found")

// FetchError classifies a failed read (load chat, list chats, fetch
// document). Recovery: empty the relevant local collection and surface a
// user-visible message; no automatic retry.
type FetchError struct {
	// Op names the failed contract operation, e.g. "session.GetChat".
	Op string
	// Err is the underlying transport or status error.
	Err error
}

// Error implements the error interface.
func (e *FetchError) Error() string { return fmt.Sprintf("remote fetch %s: %v", e.Op, e.Err) }

// Unwrap exposes the underlying error for errors.Is/As.
func (e *FetchError) Unwrap() error { return e.Err }

// WriteError classifies a failed mutation (create/add/update/delete/clear).
// Recovery: the controller applies the operation's optimistic local fallback;
// no automatic retry.
type WriteError struct {
	Op  string
	Err error
}

// Error implements the error interface.
func (e *WriteError) Error() string { return fmt.Sprintf("remote write %s: %v", e.Op, e.Err) }

// Unwrap exposes the underlying error for errors.Is/As.
func (e *WriteError) Unwrap() error { return e.Err }

// StatusError carries a non-2xx response status and the service's detail
// message, when one was decodable.
type StatusError struct {
	Status int
	Detail string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Detail)
}

// IsFetch reports whether err is (or wraps) a FetchError.
func IsFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}

// IsWrite reports whether err is (or wraps) a WriteError.
func IsWrite(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
