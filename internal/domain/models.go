// Package domain defines the data model shared by the conversation core:
// chat sessions, messages, retrieval sources, and document ingestion state.
// These types mirror the wire shapes of the remote session store and document
// service, so they carry json tags and no persistence framework baggage.
package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Message roles. The session store enforces the same two values.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// pendingIDPrefix tags locally generated message ids. A pending id never
// collides with a persisted id because the store issues bare UUIDs.
const pendingIDPrefix = "local-"

// previewMaxRunes is the clip point for chat previews, matching the store's
// own derivation (97 runes plus an ellipsis).
const previewMaxRunes = 97

// ChatSession is a named, ordered collection of turns, optionally scoped to a
// single document. MessageCount and Preview are derived server-side and are
// treated as read-only here.
type ChatSession struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DocumentID   string    `json:"document_id,omitempty"` // immutable once set
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	Preview      string    `json:"preview"`
}

// Message is one user question or assistant answer within a session.
//
// A message is either persisted (id issued by the session store) or pending:
// synthesized locally after a failed write so the visible transcript is never
// silently dropped. Pending messages keep their position; a later successful
// write against the same position reconciles them in place.
type Message struct {
	ID        string     `json:"id"`
	ChatID    string     `json:"chat_id"`
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Timestamp time.Time  `json:"timestamp"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"` // set only on edit/regenerate
	Sources   []Source   `json:"sources,omitempty"`    // assistant messages only
	Pending   bool       `json:"pending,omitempty"`
}

// Source is a snippet of retrieved document text attached to an assistant
// turn. Metadata carries at least a "source" label when the retriever
// provides one.
type Source struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Answer is the QA engine's response to a question.
type Answer struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
}

// DocStatus is the ingestion state of an uploaded document.
type DocStatus string

const (
	DocProcessing DocStatus = "processing"
	DocReady      DocStatus = "ready"
	DocError      DocStatus = "error"
)

// Terminal reports whether s ends the polling loop.
func (s DocStatus) Terminal() bool { return s == DocReady || s == DocError }

// Document is the ingestion service's record of an uploaded document.
type Document struct {
	ID           string            `json:"id"`
	Filename     string            `json:"filename"`
	Type         string            `json:"type"`
	Summary      string            `json:"summary,omitempty"`
	Status       DocStatus         `json:"status"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewPendingMessage builds a locally identified message for the optimistic
// fallback path. Timestamp is set to now so ordering stays by insertion.
func NewPendingMessage(chatID, role, content string, sources []Source) Message {
	return Message{
		ID:        pendingIDPrefix + uuid.NewString(),
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC(),
		Sources:   sources,
		Pending:   true,
	}
}

// IsPendingID reports whether id was generated locally rather than issued by
// the session store.
func IsPendingID(id string) bool { return strings.HasPrefix(id, pendingIDPrefix) }

// Reconcile swaps a pending message for its persisted counterpart without
// moving it: the caller replaces the element at the same index.
func (m Message) Reconcile(persisted Message) Message {
	persisted.Pending = false
	return persisted
}

// DerivePreview produces the session-list preview for a message, using the
// same clipping rule as the store (rune-safe, trailing ellipsis).
func DerivePreview(content string) string {
	content = strings.TrimSpace(content)
	if content == "" {
		return "No messages yet"
	}
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	return string([]rune(content)[:previewMaxRunes]) + "..."
}
