package domain

import (
	"time"

	"github.com/google/uuid"
)

type ConversationType string

const (
	ConversationPrivate ConversationType = "PRIVATE"
	ConversationGroup   ConversationType = "GROUP"
)

func (t ConversationType) Valid() bool {
	return t == ConversationPrivate || t == ConversationGroup
}

type Conversation struct {
	ID        uuid.UUID        `json:"id"`
	Type      ConversationType `json:"type"`
	Name      *string          `json:"name,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
	DeletedAt *time.Time       `json:"-"`

	Participants []Participant `json:"participants"`
}

func (c *Conversation) Alive() bool {
	return c.DeletedAt == nil
}

// Participant returns the participant row for userID, or nil.
func (c *Conversation) Participant(userID uuid.UUID) *Participant {
	for i := range c.Participants {
		if c.Participants[i].UserID == userID {
			return &c.Participants[i]
		}
	}
	return nil
}

func (c *Conversation) ParticipantIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(c.Participants))
	for _, p := range c.Participants {
		ids = append(ids, p.UserID)
	}
	return ids
}

type Participant struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	UserID         uuid.UUID  `json:"userId"`
	JoinedAt       time.Time  `json:"joinedAt"`
	LastReadAt     *time.Time `json:"lastReadAt,omitempty"`
	// Joined from the directory
	User *UserProfile `json:"user,omitempty"`
}

// ConversationSummary is a list-view row: the conversation, its newest
// message and, for cursor listings, the caller's unread count.
type ConversationSummary struct {
	Conversation
	LastMessage *Message `json:"lastMessage"`
	UnreadCount int      `json:"unreadCount"`
}

// ConversationDetail is a conversation with its full, decrypted history.
type ConversationDetail struct {
	Conversation
	Messages []Message `json:"messages"`
}
