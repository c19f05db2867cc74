package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/service"
	"github.com/vedran77/huddle/pkg/apperr"
	"go.uber.org/zap"
)

// Gateway handles client events. Every handler answers with an ack; no
// error or panic escapes to the connection.
type Gateway struct {
	hub           *Hub
	conversations *service.ConversationService
	messages      *service.MessageService
	log           *zap.Logger
}

func NewGateway(hub *Hub, conversations *service.ConversationService, messages *service.MessageService, log *zap.Logger) *Gateway {
	return &Gateway{
		hub:           hub,
		conversations: conversations,
		messages:      messages,
		log:           log,
	}
}

var errRateLimited = apperr.Validation("rate limit exceeded, slow down")

func (g *Gateway) Handle(ctx context.Context, c *Client, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Error("ws handler panic",
				zap.String("event", event.Event),
				zap.String("user_id", c.userID.String()),
				zap.Any("panic", r),
			)
			c.ack(event.ID, AckPayload{Status: AckError, Error: "internal error"})
		}
	}()

	var (
		result any
		err    error
	)
	switch event.Event {
	case EventPing:
		if evt, err := NewEvent(EventPong, struct{}{}); err == nil {
			c.enqueue(evt)
		}
		return
	case EventJoinUserRoom:
		err = g.joinUserRoom(c, event.Data)
	case EventJoinConversation:
		err = g.joinConversation(ctx, c, event.Data)
	case EventLeaveConversation:
		err = g.leaveConversation(c, event.Data)
	case EventSendMessage:
		result, err = g.sendMessage(ctx, c, event.Data)
	case EventMarkAsRead:
		result, err = g.markAsRead(ctx, c, event.Data)
	default:
		c.sendError("UNKNOWN_EVENT", "unknown event type: "+event.Event)
		err = apperr.Validation("unknown event type: " + event.Event)
	}

	if err != nil {
		c.ack(event.ID, AckPayload{Status: AckError, Error: g.errorMessage(event.Event, c, err)})
		return
	}
	c.ack(event.ID, AckPayload{Status: AckOK, Message: result})
}

func (g *Gateway) joinUserRoom(c *Client, data json.RawMessage) error {
	var p UserRoomPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.UserID != uuid.Nil && p.UserID != c.userID {
		return apperr.Forbidden("cannot join another user's room")
	}
	g.hub.Join(c, UserRoom(c.userID))
	return nil
}

func (g *Gateway) joinConversation(ctx context.Context, c *Client, data json.RawMessage) error {
	var p ConversationPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	if p.ConversationID == uuid.Nil {
		return apperr.Validation("conversationId is required")
	}
	if _, err := g.conversations.Authorize(ctx, p.ConversationID, c.userID); err != nil {
		return err
	}

	g.hub.Join(c, ConversationRoom(p.ConversationID))
	if evt, err := NewEvent(EventJoinedConversation, ConversationPayload{ConversationID: p.ConversationID}); err == nil {
		c.enqueue(evt)
	}
	g.messages.MarkDelivered(c.userID, p.ConversationID)
	return nil
}

func (g *Gateway) leaveConversation(c *Client, data json.RawMessage) error {
	var p ConversationPayload
	if err := decode(data, &p); err != nil {
		return err
	}
	g.hub.Leave(c, ConversationRoom(p.ConversationID))
	return nil
}

func (g *Gateway) sendMessage(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	if !c.limiter.Allow() {
		return nil, errRateLimited
	}

	var p SendMessagePayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.ConversationID == uuid.Nil || p.SenderID == uuid.Nil {
		return nil, apperr.Validation("conversationId, senderId and message are required")
	}
	if p.SenderID != c.userID {
		return nil, apperr.Forbidden("senderId does not match the authenticated user")
	}

	// Fan-out to the conversation room and inboxes goes through the notifier
	return g.messages.Send(ctx, c.userID, service.SendMessageInput{
		ConversationID: p.ConversationID,
		Message:        p.Message,
	})
}

func (g *Gateway) markAsRead(ctx context.Context, c *Client, data json.RawMessage) (any, error) {
	if !c.limiter.Allow() {
		return nil, errRateLimited
	}

	var p MarkAsReadPayload
	if err := decode(data, &p); err != nil {
		return nil, err
	}
	if p.ConversationID == uuid.Nil {
		return nil, apperr.Validation("conversationId is required")
	}
	if p.UserID != uuid.Nil && p.UserID != c.userID {
		return nil, apperr.Forbidden("userId does not match the authenticated user")
	}

	return g.messages.MarkAsRead(ctx, c.userID, p.ConversationID)
}

// errorMessage converts err into the text sent back to the client. Internal
// errors are logged and replaced by a generic message.
func (g *Gateway) errorMessage(event string, c *Client, err error) string {
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Kind != apperr.KindInternal && appErr.Kind != apperr.KindDecryption {
		return appErr.Message
	}
	g.log.Error("ws handler failed",
		zap.String("event", event),
		zap.String("user_id", c.userID.String()),
		zap.Error(err),
	)
	return "internal error"
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return apperr.Validation("missing event data")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperr.Validation(fmt.Sprintf("invalid event data: %v", err))
	}
	return nil
}
