package ws

import (
	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/domain"
	"go.uber.org/zap"
)

// HubNotifier implements service.Notifier using the WebSocket Hub.
type HubNotifier struct {
	hub *Hub
	log *zap.Logger
}

func NewHubNotifier(hub *Hub, log *zap.Logger) *HubNotifier {
	return &HubNotifier{hub: hub, log: log}
}

// NotifyNewMessage pushes the message to the conversation room and a
// lighter conversation_updated event to every participant's inbox.
func (n *HubNotifier) NotifyNewMessage(conv *domain.Conversation, msg *domain.Message) {
	n.publish(ConversationRoom(msg.ConversationID), EventReceiveMessage, msg)

	updated := ConversationUpdatedPayload{ConversationID: conv.ID, LastMessage: *msg}
	for _, id := range conv.ParticipantIDs() {
		n.publish(UserRoom(id), EventConversationUpdated, updated)
	}
}

func (n *HubNotifier) NotifyEditedMessage(msg *domain.Message) {
	n.publish(ConversationRoom(msg.ConversationID), EventMessageEdited, msg)
}

func (n *HubNotifier) NotifyDeletedMessage(conversationID, messageID uuid.UUID) {
	n.publish(ConversationRoom(conversationID), EventMessageDeleted, MessageDeletedPayload{
		ID:             messageID,
		ConversationID: conversationID,
	})
}

func (n *HubNotifier) NotifyRead(receipt domain.ReadReceipt) {
	n.publish(ConversationRoom(receipt.ConversationID), EventUserReadUpdate, receipt)
}

func (n *HubNotifier) publish(room, eventType string, payload any) {
	evt, err := NewEvent(eventType, payload)
	if err != nil {
		n.log.Error("ws notifier: marshal error", zap.String("event", eventType), zap.Error(err))
		return
	}
	n.hub.Publish(room, evt)
}
