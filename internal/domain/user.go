package domain

import "github.com/google/uuid"

// UserProfile is the slice of a directory user the messaging core shows
// next to participants and senders.
type UserProfile struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL *string   `json:"avatarUrl,omitempty"`
}
