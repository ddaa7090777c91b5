// Package remote – QA engine client.
//
// The QA engine answers questions over the indexed documents and keeps its
// own server-side conversational memory, implicitly scoped to "the current
// conversation". ClearMemory is the explicit forget instruction the isolation
// manager issues at chat boundaries.
package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

// QAEngine is the remote retrieval-augmented answering client.
type QAEngine struct {
	c *Client
}

// NewQAEngine builds a QA engine client on the given base URL.
func NewQAEngine(baseURL string, timeout time.Duration, rps float64, burst int, log zerolog.Logger) (*QAEngine, error) {
	c, err := NewClient(baseURL, timeout, rps, burst, log.With().Str("service", "qa-engine").Logger())
	if err != nil {
		return nil, err
	}
	return &QAEngine{c: c}, nil
}

// askRequest is the askQuestion payload.
type askRequest struct {
	Question       string `json:"question"`
	ChatID         string `json:"chat_id,omitempty"`
	IsRegeneration bool   `json:"is_regeneration,omitempty"`
}

// AskQuestion answers a question against all indexed documents.
func (q *QAEngine) AskQuestion(ctx context.Context, question, chatID string, regeneration bool) (*domain.Answer, error) {
	var out domain.Answer
	err := q.c.do(ctx, http.MethodPost, "/qa/ask",
		askRequest{Question: question, ChatID: chatID, IsRegeneration: regeneration}, &out,
		"qa.AskQuestion", kindFetch)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// AskDocumentQuestion answers a question scoped to one document. Sources from
// other documents are filtered out by the engine.
func (q *QAEngine) AskDocumentQuestion(ctx context.Context, documentID, question, chatID string, regeneration bool) (*domain.Answer, error) {
	path := "/qa/documents/" + url.PathEscape(documentID) + "/ask?question=" + url.QueryEscape(question)
	if chatID != "" {
		path += "&chat_id=" + url.QueryEscape(chatID)
	}
	if regeneration {
		path += "&is_regeneration=true"
	}
	var out domain.Answer
	if err := q.c.do(ctx, http.MethodGet, path, nil, &out, "qa.AskDocumentQuestion", kindFetch); err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearMemory instructs the engine to discard its server-side conversational
// memory. The call is idempotent on the engine side.
func (q *QAEngine) ClearMemory(ctx context.Context) error {
	return q.c.do(ctx, http.MethodPost, "/qa/memory/clear", nil, nil, "qa.ClearMemory", kindWrite)
}
