// Conversation HTTP handlers.
//
// This file exposes REST endpoints over the conversation controller:
//   - GET    /state              (current transcript snapshot)
//   - POST   /ask                (full question/answer turn)
//   - POST   /regenerate         (re-ask the last question)
//   - POST   /exchanges          (import a complete Q/A pair)
//   - PUT    /messages/{id}      (edit a question and refresh its answer)
//   - POST   /clear              (clear transcript + QA memory)
//   - POST   /chats/{id}/activate (switch the active chat)
//   - DELETE /chats/{id}          (delete a chat)
//
// Handlers are transport-thin: they validate input, call the controller, and
// translate results into HTTP responses. Asking is gated on document
// ingestion state when the conversation is bound to a document.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-core/internal/conversation"
	"github.com/tbourn/go-docchat-core/internal/domain"
	"github.com/tbourn/go-docchat-core/internal/remote"
)

//
// Controller contract
//

// Controller defines the conversation operations consumed by HTTP handlers.
// Implementations must be safe for concurrent use and honor the provided
// context for cancellation and timeouts.
type Controller interface {
	State() conversation.State
	Ask(ctx context.Context, question string) (*domain.Message, error)
	Reask(ctx context.Context) error
	EditQuestion(ctx context.Context, messageID, newContent string) error
	AddCompleteExchange(ctx context.Context, question, answer string, sources []domain.Source) (string, error)
	ClearConversation(ctx context.Context) error
	LoadChat(ctx context.Context, chatID string) error
	DeleteChat(ctx context.Context, chatID string) error
}

// StatusProvider reports the current document ingestion state. Satisfied by
// the docstatus poller; nil disables the ask gate.
type StatusProvider interface {
	Status() (domain.DocStatus, string)
}

//
// Handler wiring
//

// ConversationHandlers groups the endpoints bound to one conversation
// controller.
type ConversationHandlers struct {
	ctrl   Controller
	status StatusProvider
}

// NewConversation constructs handlers for the given controller. status may be
// nil when the conversation is not bound to a document.
func NewConversation(ctrl Controller, status StatusProvider) *ConversationHandlers {
	return &ConversationHandlers{ctrl: ctrl, status: status}
}

//
// DTOs
//

// AskRequest is the JSON payload for asking a question.
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// EditMessageRequest is the JSON payload for editing a question.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// ExchangeRequest is the JSON payload for importing a complete Q/A pair.
type ExchangeRequest struct {
	Question string          `json:"question" binding:"required"`
	Answer   string          `json:"answer" binding:"required"`
	Sources  []domain.Source `json:"sources,omitempty"`
}

// ExchangeResponse returns the chat the pair was written to.
type ExchangeResponse struct {
	ChatID string `json:"chat_id"`
}

// StateResponse is the JSON shape of a conversation snapshot.
type StateResponse struct {
	ActiveChatID string           `json:"active_chat_id"`
	Messages     []domain.Message `json:"messages"`
	Loading      bool             `json:"loading"`
	LastError    string           `json:"last_error,omitempty"`
}

func stateResponse(s conversation.State) StateResponse {
	out := StateResponse{
		ActiveChatID: s.ActiveChatID,
		Messages:     s.Messages,
		Loading:      s.Loading,
	}
	if out.Messages == nil {
		out.Messages = []domain.Message{}
	}
	if s.LastError != nil {
		out.LastError = s.LastError.Error()
	}
	return out
}

//
// Handlers
//

// GetState returns the current conversation snapshot.
func (h *ConversationHandlers) GetState(c *gin.Context) {
	ok(c, http.StatusOK, stateResponse(h.ctrl.State()))
}

// Ask runs a full question/answer turn and returns the assistant message.
// When the bound document is still processing (or failed ingestion), the
// question is rejected up front with a 409 so no turn is written.
func (h *ConversationHandlers) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Question) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question required")
		return
	}

	if h.status != nil {
		switch st, msg := h.status.Status(); st {
		case domain.DocProcessing:
			fail(c, http.StatusConflict, ErrCodeDocumentProcessing, "document is still processing")
			return
		case domain.DocError:
			if msg == "" {
				msg = "document processing failed"
			}
			fail(c, http.StatusConflict, ErrCodeDocumentError, msg)
			return
		}
	}

	msg, err := h.ctrl.Ask(c.Request.Context(), req.Question)
	if err != nil {
		h.failAsk(c, err)
		return
	}
	ok(c, http.StatusOK, msg)
}

// Regenerate re-asks the most recent question and replaces the last answer.
func (h *ConversationHandlers) Regenerate(c *gin.Context) {
	if err := h.ctrl.Reask(c.Request.Context()); err != nil {
		if errors.Is(err, conversation.ErrNoQuestion) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "no question to retry")
			return
		}
		h.failAsk(c, err)
		return
	}
	ok(c, http.StatusOK, stateResponse(h.ctrl.State()))
}

// EditMessage rewrites a past question in place and refreshes its answer.
func (h *ConversationHandlers) EditMessage(c *gin.Context) {
	messageID := c.Param("id")

	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	if err := h.ctrl.EditQuestion(c.Request.Context(), messageID, req.Content); err != nil {
		switch {
		case errors.Is(err, conversation.ErrMessageNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		case errors.Is(err, conversation.ErrNoActiveConversation):
			fail(c, http.StatusConflict, ErrCodeConflict, "no active conversation")
		default:
			h.failAsk(c, err)
		}
		return
	}
	ok(c, http.StatusOK, stateResponse(h.ctrl.State()))
}

// AddExchange imports a complete question/answer pair in one call.
func (h *ConversationHandlers) AddExchange(c *gin.Context) {
	var req ExchangeRequest
	if err := c.ShouldBindJSON(&req); err != nil ||
		strings.TrimSpace(req.Question) == "" || strings.TrimSpace(req.Answer) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "question and answer required")
		return
	}

	chatID, err := h.ctrl.AddCompleteExchange(c.Request.Context(), req.Question, req.Answer, req.Sources)
	if err != nil {
		failRemote(c, err, ErrCodeUpstream)
		return
	}
	ok(c, http.StatusCreated, ExchangeResponse{ChatID: chatID})
}

// Clear empties the active conversation and the QA engine's memory.
func (h *ConversationHandlers) Clear(c *gin.Context) {
	if err := h.ctrl.ClearConversation(c.Request.Context()); err != nil {
		failRemote(c, err, ErrCodeUpstream)
		return
	}
	noContent(c)
}

// ActivateChat switches the active conversation to the given chat.
func (h *ConversationHandlers) ActivateChat(c *gin.Context) {
	if err := h.ctrl.LoadChat(c.Request.Context(), c.Param("id")); err != nil {
		failRemote(c, err, ErrCodeUpstream)
		return
	}
	ok(c, http.StatusOK, stateResponse(h.ctrl.State()))
}

// DeleteChat removes a chat; deleting the active chat resets the
// conversation.
func (h *ConversationHandlers) DeleteChat(c *gin.Context) {
	if err := h.ctrl.DeleteChat(c.Request.Context(), c.Param("id")); err != nil {
		failRemote(c, err, ErrCodeUpstream)
		return
	}
	noContent(c)
}

// failAsk maps QA round-trip failures: a superseded answer is a conflict, a
// missing chat is 404, anything else is an upstream ask failure.
func (h *ConversationHandlers) failAsk(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conversation.ErrSuperseded):
		fail(c, http.StatusConflict, ErrCodeSuperseded, "conversation changed while answering")
	case errors.Is(err, remote.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "resource not found")
	default:
		fail(c, http.StatusBadGateway, ErrCodeAskFailed, err.Error())
	}
}
