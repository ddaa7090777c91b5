// Package remote – document ingestion client.
package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

// DocumentService is the remote document ingestion client.
type DocumentService struct {
	c *Client
}

// NewDocumentService builds a document service client on the given base URL.
func NewDocumentService(baseURL string, timeout time.Duration, rps float64, burst int, log zerolog.Logger) (*DocumentService, error) {
	c, err := NewClient(baseURL, timeout, rps, burst, log.With().Str("service", "document").Logger())
	if err != nil {
		return nil, err
	}
	return &DocumentService{c: c}, nil
}

// statusResponse is the getDocumentStatus envelope.
type statusResponse struct {
	DocumentID   string           `json:"document_id"`
	Status       domain.DocStatus `json:"status"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// GetDocument fetches the full document record, including its current
// ingestion status and metadata.
func (d *DocumentService) GetDocument(ctx context.Context, documentID string) (*domain.Document, error) {
	var out domain.Document
	err := d.c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID), nil, &out,
		"document.GetDocument", kindFetch)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDocumentStatus fetches only the ingestion status, the cheap call the
// poller issues on every tick.
func (d *DocumentService) GetDocumentStatus(ctx context.Context, documentID string) (domain.DocStatus, string, error) {
	var out statusResponse
	err := d.c.do(ctx, http.MethodGet, "/documents/"+url.PathEscape(documentID)+"/status", nil, &out,
		"document.GetDocumentStatus", kindFetch)
	if err != nil {
		return "", "", err
	}
	return out.Status, out.ErrorMessage, nil
}
