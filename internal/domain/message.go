package domain

import (
	"time"

	"github.com/google/uuid"
)

type MessageStatus string

const (
	MessageSent      MessageStatus = "SENT"
	MessageDelivered MessageStatus = "DELIVERED"
	MessageRead      MessageStatus = "READ"
)

// Message holds ciphertext in Body while it travels between the store and
// the repository, and plaintext once a service has decrypted it. Only the
// decrypted form is ever serialized to clients.
type Message struct {
	ID             uuid.UUID     `json:"id"`
	ConversationID uuid.UUID     `json:"conversationId"`
	SenderID       uuid.UUID     `json:"senderId"`
	Body           string        `json:"message"`
	Status         MessageStatus `json:"status"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
	DeletedAt      *time.Time    `json:"-"`
	// Joined fields
	Sender *UserProfile `json:"sender,omitempty"`
}

func (m *Message) Alive() bool {
	return m.DeletedAt == nil
}

// Page is one slice of a cursor listing.
type Page[T any] struct {
	Items      []T        `json:"items"`
	NextCursor *uuid.UUID `json:"nextCursor"`
	HasMore    bool       `json:"hasMore"`
}

// ReadReceipt records that UserID has read ConversationID up to ReadAt.
type ReadReceipt struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}
