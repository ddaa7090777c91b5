// Package handlers defines HTTP-layer error codes used across all API endpoints.
//
// These symbolic constants are mapped to HTTP responses via the `fail()`
// helper and give clients a stable, machine-readable error taxonomy that
// supplements human-readable messages. Generic codes mirror common HTTP
// status semantics; domain-specific codes cover conversation and document
// failures that a status alone cannot convey.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-core/internal/remote"
)

const (
	ErrCodeBadRequest       = "bad_request"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeRateLimited      = "too_many_requests"
	ErrCodeInternal         = "internal_error"
	ErrCodeMethodNotAllowed = "method_not_allowed"

	// Domain-specific:
	ErrCodeAskFailed          = "ask_failed"
	ErrCodeUpstream           = "upstream_error"
	ErrCodeSuperseded         = "superseded"
	ErrCodeDocumentProcessing = "document_processing"
	ErrCodeDocumentError      = "document_error"
)

// failRemote translates backend client errors into HTTP responses: a missing
// resource becomes 404, everything else (bad upstream status or transport
// failure) becomes 502 with the given domain code.
func failRemote(c *gin.Context, err error, code string) {
	if errors.Is(err, remote.ErrNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
		return
	}
	var se *remote.StatusError
	if errors.As(err, &se) && se.Detail != "" {
		fail(c, http.StatusBadGateway, code, se.Detail)
		return
	}
	fail(c, http.StatusBadGateway, code, err.Error())
}
