package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/domain"
)

// Event types - Client → Server
const (
	EventJoinUserRoom      = "join_user_room"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventSendMessage       = "send_message"
	EventMarkAsRead        = "mark_as_read"
	EventPing              = "ping"
)

// Event types - Server → Client
const (
	EventAck                 = "ack"
	EventReceiveMessage      = "receive_message"
	EventConversationUpdated = "conversation_updated"
	EventUserReadUpdate      = "user_read_update"
	EventMessageEdited       = "message_edited"
	EventMessageDeleted      = "message_deleted"
	EventJoinedConversation  = "joined_conversation"
	EventPong                = "pong"
	EventError               = "error"
)

const (
	AckOK    = "ok"
	AckError = "error"
)

// Event is the envelope for every frame in both directions. ID is chosen by
// the client and echoed on the matching ack.
type Event struct {
	Event     string          `json:"event"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"ts,omitempty"`
}

func UserRoom(userID uuid.UUID) string {
	return "user:" + userID.String()
}

func ConversationRoom(conversationID uuid.UUID) string {
	return "conversation:" + conversationID.String()
}

// --- Client → Server payloads ---

type UserRoomPayload struct {
	UserID uuid.UUID `json:"userId"`
}

type ConversationPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
}

type SendMessagePayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	SenderID       uuid.UUID `json:"senderId"`
	Message        string    `json:"message"`
}

type MarkAsReadPayload struct {
	ConversationID uuid.UUID `json:"conversationId"`
	UserID         uuid.UUID `json:"userId"`
}

// --- Server → Client payloads ---

type AckPayload struct {
	Status  string `json:"status"`
	Message any    `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

type ConversationUpdatedPayload struct {
	ConversationID uuid.UUID      `json:"conversationId"`
	LastMessage    domain.Message `json:"lastMessage"`
}

type MessageDeletedPayload struct {
	ID             uuid.UUID `json:"id"`
	ConversationID uuid.UUID `json:"conversationId"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewEvent creates a server→client event with the current timestamp.
func NewEvent(eventType string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Event:     eventType,
		Data:      data,
		Timestamp: time.Now().Unix(),
	}, nil
}
