// Chat listing handlers.
//
// This file exposes the read-only chat collection endpoint backed directly by
// the session store (the conversation controller only tracks the active
// chat). Results can be filtered by document and are paginated locally with
// limit/offset query parameters.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-docchat-core/internal/domain"
	"github.com/tbourn/go-docchat-core/internal/utils"
)

// ChatLister defines the session-store read used by the listing endpoint.
type ChatLister interface {
	GetChats(ctx context.Context, documentID string) ([]domain.ChatSession, error)
}

// ChatsHandlers serves the chat collection.
type ChatsHandlers struct {
	store ChatLister
}

// NewChats constructs handlers over the given session store.
func NewChats(store ChatLister) *ChatsHandlers {
	return &ChatsHandlers{store: store}
}

// ListChatsResponse wraps a page of chats.
type ListChatsResponse struct {
	Chats  []domain.ChatSession `json:"chats"`
	Total  int                  `json:"total"`
	Limit  int                  `json:"limit"`
	Offset int                  `json:"offset"`
}

const (
	defaultChatPageSize = 50
	maxChatPageSize     = 200
)

// ListChats returns chats ordered as the store returns them (most recently
// updated first), optionally filtered by ?document_id= and paged with
// ?limit= and ?offset=.
func (h *ChatsHandlers) ListChats(c *gin.Context) {
	limit, offset := utils.ClampPage(
		utils.AtoiDefault(c.Query("limit"), defaultChatPageSize),
		utils.AtoiDefault(c.Query("offset"), 0),
		defaultChatPageSize, maxChatPageSize,
	)

	chats, err := h.store.GetChats(c.Request.Context(), c.Query("document_id"))
	if err != nil {
		failRemote(c, err, ErrCodeUpstream)
		return
	}

	total := len(chats)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := chats[offset:end]
	if page == nil {
		page = []domain.ChatSession{}
	}

	ok(c, http.StatusOK, ListChatsResponse{
		Chats:  page,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	})
}
