// Package remote – session store client.
//
// SessionStore speaks the chat/message CRUD contract:
//
//	createChat(title, documentId?)               POST   /chats/
//	getChats(documentId?)                        GET    /chats/
//	getChat(chatId)                              GET    /chats/{id}
//	updateChat(chatId, {title})                  PUT    /chats/{id}
//	deleteChat(chatId)                           DELETE /chats/{id}
//	addMessage(chatId, role, content, sources?)  POST   /chats/{id}/messages
//	updateMessage(chatId, messageId, ...)        PUT    /chats/{id}/messages/{mid}
//	clearMessages(chatId)                        DELETE /chats/{id}/messages
//
// The store owns derived chat fields (message_count, preview); this client
// never computes them, it only reads them back.
package remote

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-docchat-core/internal/domain"
)

// SessionStore is the remote chat/message persistence client.
type SessionStore struct {
	c *Client
}

// NewSessionStore builds a session store client on the given base URL.
func NewSessionStore(baseURL string, timeout time.Duration, rps float64, burst int, log zerolog.Logger) (*SessionStore, error) {
	c, err := NewClient(baseURL, timeout, rps, burst, log.With().Str("service", "session-store").Logger())
	if err != nil {
		return nil, err
	}
	return &SessionStore{c: c}, nil
}

// createChatRequest is the createChat payload.
type createChatRequest struct {
	Title      string `json:"title"`
	DocumentID string `json:"document_id,omitempty"`
}

// addMessageRequest is the addMessage/updateMessage payload.
type addMessageRequest struct {
	Role    string          `json:"role,omitempty"`
	Content string          `json:"content"`
	Sources []domain.Source `json:"sources,omitempty"`
}

// chatWithMessages is the getChat response envelope.
type chatWithMessages struct {
	Chat     domain.ChatSession `json:"chat"`
	Messages []domain.Message   `json:"messages"`
}

// CreateChat creates a new chat session, optionally scoped to a document.
func (s *SessionStore) CreateChat(ctx context.Context, title, documentID string) (*domain.ChatSession, error) {
	var out domain.ChatSession
	err := s.c.do(ctx, http.MethodPost, "/chats/",
		createChatRequest{Title: title, DocumentID: documentID}, &out,
		"session.CreateChat", kindWrite)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// GetChats lists active chats, optionally filtered by document id.
func (s *SessionStore) GetChats(ctx context.Context, documentID string) ([]domain.ChatSession, error) {
	path := "/chats/"
	if documentID != "" {
		path += "?document_id=" + url.QueryEscape(documentID)
	}
	var out []domain.ChatSession
	if err := s.c.do(ctx, http.MethodGet, path, nil, &out, "session.GetChats", kindFetch); err != nil {
		return nil, err
	}
	return out, nil
}

// GetChat fetches one chat together with its ordered messages.
func (s *SessionStore) GetChat(ctx context.Context, chatID string) (*domain.ChatSession, []domain.Message, error) {
	var out chatWithMessages
	err := s.c.do(ctx, http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &out,
		"session.GetChat", kindFetch)
	if err != nil {
		return nil, nil, err
	}
	return &out.Chat, out.Messages, nil
}

// UpdateChat renames a chat and returns the updated session.
func (s *SessionStore) UpdateChat(ctx context.Context, chatID, title string) (*domain.ChatSession, error) {
	var out domain.ChatSession
	err := s.c.do(ctx, http.MethodPut, "/chats/"+url.PathEscape(chatID),
		map[string]string{"title": title}, &out,
		"session.UpdateChat", kindWrite)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteChat removes a chat (the store soft-deletes).
func (s *SessionStore) DeleteChat(ctx context.Context, chatID string) error {
	return s.c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID), nil, nil,
		"session.DeleteChat", kindWrite)
}

// AddMessage appends a message to a chat and returns the persisted record
// (with the store-issued id).
func (s *SessionStore) AddMessage(ctx context.Context, chatID, role, content string, sources []domain.Source) (*domain.Message, error) {
	var out domain.Message
	err := s.c.do(ctx, http.MethodPost, "/chats/"+url.PathEscape(chatID)+"/messages",
		addMessageRequest{Role: role, Content: content, Sources: sources}, &out,
		"session.AddMessage", kindWrite)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateMessage rewrites an existing message's content (and sources) in place.
func (s *SessionStore) UpdateMessage(ctx context.Context, chatID, messageID, content string, sources []domain.Source) (*domain.Message, error) {
	var out domain.Message
	err := s.c.do(ctx, http.MethodPut,
		"/chats/"+url.PathEscape(chatID)+"/messages/"+url.PathEscape(messageID),
		addMessageRequest{Content: content, Sources: sources}, &out,
		"session.UpdateMessage", kindWrite)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ClearMessages deletes every message in a chat, resetting its derived
// count/preview on the store side.
func (s *SessionStore) ClearMessages(ctx context.Context, chatID string) error {
	return s.c.do(ctx, http.MethodDelete, "/chats/"+url.PathEscape(chatID)+"/messages", nil, nil,
		"session.ClearMessages", kindWrite)
}
