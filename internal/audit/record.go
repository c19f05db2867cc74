// Package audit hands typed change records to a sink after the messaging
// transaction has committed. Records never carry message text, plain or
// encrypted.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/domain"
)

type EntityKind string

const (
	EntityConversation EntityKind = "conversation"
	EntityMessage      EntityKind = "message"
)

type Action string

const (
	ActionCreate          Action = "CREATE"
	ActionUpdate          Action = "UPDATE"
	ActionDelete          Action = "DELETE"
	ActionAddParticipants Action = "ADD_PARTICIPANTS"
)

type Record struct {
	ID         uuid.UUID  `json:"id"`
	EntityKind EntityKind `json:"entityKind"`
	EntityID   uuid.UUID  `json:"entityId"`
	ActorID    uuid.UUID  `json:"actorId"`
	Action     Action     `json:"action"`
	Before     *Snapshot  `json:"before,omitempty"`
	After      *Snapshot  `json:"after,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

// Snapshot holds exactly one of its fields, matching the record's
// EntityKind.
type Snapshot struct {
	Conversation *ConversationSnapshot `json:"conversation,omitempty"`
	Message      *MessageSnapshot      `json:"message,omitempty"`
}

type ConversationSnapshot struct {
	Type           domain.ConversationType `json:"type"`
	Name           *string                 `json:"name,omitempty"`
	ParticipantIDs []uuid.UUID             `json:"participantIds"`
	Deleted        bool                    `json:"deleted"`
}

type MessageSnapshot struct {
	ConversationID uuid.UUID            `json:"conversationId"`
	SenderID       uuid.UUID            `json:"senderId"`
	Status         domain.MessageStatus `json:"status"`
	UpdatedAt      time.Time            `json:"updatedAt"`
	Deleted        bool                 `json:"deleted"`
}

func OfConversation(c *domain.Conversation) *Snapshot {
	if c == nil {
		return nil
	}
	return &Snapshot{Conversation: &ConversationSnapshot{
		Type:           c.Type,
		Name:           c.Name,
		ParticipantIDs: c.ParticipantIDs(),
		Deleted:        !c.Alive(),
	}}
}

func OfMessage(m *domain.Message) *Snapshot {
	if m == nil {
		return nil
	}
	return &Snapshot{Message: &MessageSnapshot{
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Status:         m.Status,
		UpdatedAt:      m.UpdatedAt,
		Deleted:        !m.Alive(),
	}}
}

// New builds a record stamped with a fresh id.
func New(kind EntityKind, entityID, actorID uuid.UUID, action Action, before, after *Snapshot, at time.Time) Record {
	return Record{
		ID:         uuid.New(),
		EntityKind: kind,
		EntityID:   entityID,
		ActorID:    actorID,
		Action:     action,
		Before:     before,
		After:      after,
		OccurredAt: at,
	}
}
