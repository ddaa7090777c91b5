// Document HTTP handlers.
//
// This file exposes read-only document endpoints backed by the document
// ingestion service:
//   - GET /documents/{id}         (full document record)
//   - GET /documents/{id}/status  (ingestion status triple)
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

// DocumentReader defines the document service reads used by HTTP handlers.
type DocumentReader interface {
	GetDocument(ctx context.Context, documentID string) (*domain.Document, error)
	GetDocumentStatus(ctx context.Context, documentID string) (domain.DocStatus, string, error)
}

// DocumentHandlers serves document metadata and ingestion status.
type DocumentHandlers struct {
	docs DocumentReader
}

// NewDocuments constructs handlers over the given document service client.
func NewDocuments(docs DocumentReader) *DocumentHandlers {
	return &DocumentHandlers{docs: docs}
}

// DocumentStatusResponse is the status endpoint's JSON shape.
type DocumentStatusResponse struct {
	DocumentID   string           `json:"document_id"`
	Status       domain.DocStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// GetDocument returns the full document record.
func (h *DocumentHandlers) GetDocument(c *gin.Context) {
	doc, err := h.docs.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		failRemote(c, err, ErrCodeUpstream)
		return
	}
	ok(c, http.StatusOK, doc)
}

// GetDocumentStatus returns the ingestion status triple for a document.
func (h *DocumentHandlers) GetDocumentStatus(c *gin.Context) {
	status, msg, err := h.docs.GetDocumentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		failRemote(c, err, ErrCodeUpstream)
		return
	}
	ok(c, http.StatusOK, DocumentStatusResponse{
		DocumentID:   c.Param("id"),
		Status:       status,
		ErrorMessage: msg,
	})
}
