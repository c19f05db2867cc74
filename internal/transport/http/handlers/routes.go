package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vedran77/huddle/internal/service"
	"github.com/vedran77/huddle/internal/transport/http/middleware"
)

// Register mounts the /api/v1 routes on mux behind JWT auth.
func Register(mux *http.ServeMux, conversations *service.ConversationService, messages *service.MessageService, jwtSecret string, log *zap.Logger) {
	conv := NewConversationHandler(conversations, messages, log)
	msg := NewMessageHandler(messages, log)
	auth := middleware.Auth(jwtSecret)

	handle := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, auth(h))
	}

	// Conversations
	handle("POST /api/v1/conversations", conv.Create)
	handle("GET /api/v1/conversations/all", conv.ListAll)
	handle("GET /api/v1/conversations", conv.List)
	handle("GET /api/v1/conversations/{id}", conv.Get)
	handle("DELETE /api/v1/conversations/{id}", conv.Delete)
	handle("POST /api/v1/conversations/{id}/participants", conv.AddParticipants)
	handle("POST /api/v1/conversations/{id}/read", conv.MarkAsRead)

	// Messages
	handle("POST /api/v1/messages", msg.Send)
	handle("GET /api/v1/messages/conversation/{conversationId}", msg.ListByConversation)
	handle("GET /api/v1/messages/conversation/{conversationId}/cursor", msg.ListCursor)
	handle("GET /api/v1/messages/{id}", msg.Get)
	handle("PATCH /api/v1/messages/{id}", msg.Edit)
	handle("DELETE /api/v1/messages/{id}", msg.Delete)
}
