package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/domain"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrNotParticipant       = errors.New("user is not a participant")
	ErrCursorNotFound       = errors.New("cursor does not reference a known record")
	ErrDuplicatePrivatePair = errors.New("an alive private conversation already exists for this pair")
)

// UserRepository is the directory collaborator: user storage lives
// elsewhere, the messaging core only asks which ids exist.
type UserRepository interface {
	FindExistingIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
}

// ConversationRepository reads and writes only alive conversations unless a
// method says otherwise. Returned conversations carry their participants
// with directory profiles.
type ConversationRepository interface {
	// Create stores the conversation and its participants atomically.
	// Returns ErrDuplicatePrivatePair when an alive private conversation
	// with the same pair already exists.
	Create(ctx context.Context, conv *domain.Conversation) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error)
	FindPrivateByPair(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error)
	// ListByUser returns the user's conversations, most recent activity first.
	ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error)
	// ListByUserAfter returns up to limit conversations ordered like
	// ListByUser, starting after the conversation with id cursor.
	ListByUserAfter(ctx context.Context, userID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Conversation, error)
	AddParticipants(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, joinedAt time.Time) error
	// TouchLastRead advances the participant's lastReadAt to at, never
	// moving it backward.
	TouchLastRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MessageRepository stores message rows with their ciphertext body. Soft
// deleted messages are invisible to every read.
type MessageRepository interface {
	// CreateWithActivity inserts msg, advances the sender's lastReadAt and
	// bumps the conversation's updatedAt in one transaction.
	CreateWithActivity(ctx context.Context, msg *domain.Message) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error)
	// ListByConversation returns the whole thread, oldest first.
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error)
	// ListByConversationBefore returns up to limit messages newest first,
	// starting after the message with id cursor.
	ListByConversationBefore(ctx context.Context, conversationID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Message, error)
	LatestByConversations(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error)
	// CountUnread counts messages not sent by userID created after since.
	CountUnread(ctx context.Context, conversationID, userID uuid.UUID, since time.Time) (int, error)
	UpdateBody(ctx context.Context, id uuid.UUID, body string, at time.Time) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkRead advances lastReadAt and flips other senders' messages up to
	// at to READ in one transaction. Returns the stored lastReadAt.
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (time.Time, error)
	// MarkDelivered flips other senders' SENT messages to DELIVERED.
	MarkDelivered(ctx context.Context, conversationID, userID uuid.UUID) (int64, error)
}

// PairKey is the canonical, order-independent key of a private pair.
func PairKey(a, b uuid.UUID) string {
	x, y := a.String(), b.String()
	if x > y {
		x, y = y, x
	}
	return x + ":" + y
}
