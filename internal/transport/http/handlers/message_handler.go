package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/service"
	"github.com/vedran77/huddle/internal/transport/http/middleware"
)

type MessageHandler struct {
	messages *service.MessageService
	log      *zap.Logger
}

func NewMessageHandler(messages *service.MessageService, log *zap.Logger) *MessageHandler {
	return &MessageHandler{messages: messages, log: log}
}

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.SendMessageInput
	if !decodeBody(w, r, &input) {
		return
	}

	msg, err := h.messages.Send(r.Context(), userID, input)
	if err != nil {
		writeError(w, h.log, "send message", err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *MessageHandler) ListByConversation(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "conversationId")
	if !ok {
		return
	}

	msgs, err := h.messages.List(r.Context(), userID, convID)
	if err != nil {
		writeError(w, h.log, "list messages", err)
		return
	}
	if msgs == nil {
		msgs = []domain.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *MessageHandler) ListCursor(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	convID, ok := pathID(w, r, "conversationId")
	if !ok {
		return
	}
	limit, cursor, ok := pageParams(w, r)
	if !ok {
		return
	}

	page, err := h.messages.ListCursor(r.Context(), userID, convID, limit, cursor)
	if err != nil {
		writeError(w, h.log, "list messages page", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	msg, err := h.messages.Get(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log, "get message", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var input service.EditMessageInput
	if !decodeBody(w, r, &input) {
		return
	}

	msg, err := h.messages.Edit(r.Context(), userID, id, input)
	if err != nil {
		writeError(w, h.log, "edit message", err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.messages.Delete(r.Context(), userID, id); err != nil {
		writeError(w, h.log, "delete message", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
