// Package store persists conversations and their ordered turns.
//
// Turn IDs are assigned by the database on insert and are the only ordering
// key: every read returns turns ascending by ID.
package store

import (
	"context"

	"ChatStream/models"

	"github.com/pkg/errors"
)

var (
	ErrNotFound         = errors.New("store: not found")
	ErrInvalidOperation = errors.New("store: invalid operation")
)

// ConversationSummary is a conversation row enriched with the values the
// sidebar sorts and displays by.
type ConversationSummary struct {
	models.Conversation
	SortID        uint  `json:"sort_id"`
	MessagesCount int64 `json:"messages_count"`
}

type Store interface {
	CreateConversation(ctx context.Context, ownerID uint, title string) (*models.Conversation, error)
	GetConversation(ctx context.Context, conversationID uint) (*models.Conversation, error)
	// ListConversations returns the owner's conversations, most recent
	// activity first. Activity is the highest turn ID of a conversation, or
	// the conversation ID when it has no turns. query filters titles
	// case-insensitively when non-empty.
	ListConversations(ctx context.Context, ownerID uint, query string) ([]ConversationSummary, error)
	OwnerOf(ctx context.Context, conversationID uint) (uint, error)

	Append(ctx context.Context, conversationID uint, role models.Role, text string) (*models.Message, error)
	ReadAll(ctx context.Context, conversationID uint) ([]models.Message, error)
	GetTurn(ctx context.Context, turnID uint) (*models.Message, error)
	// Overwrite replaces the text of a user turn.
	Overwrite(ctx context.Context, turnID uint, text string) error
	// DeleteAfter removes every turn of the conversation whose ID is greater
	// than turnID and reports how many were removed.
	DeleteAfter(ctx context.Context, conversationID, turnID uint) (int64, error)
}
