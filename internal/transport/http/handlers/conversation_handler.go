package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/service"
	"github.com/vedran77/huddle/internal/transport/http/middleware"
)

type ConversationHandler struct {
	conversations *service.ConversationService
	messages      *service.MessageService
	log           *zap.Logger
}

func NewConversationHandler(conversations *service.ConversationService, messages *service.MessageService, log *zap.Logger) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages, log: log}
}

func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var input service.CreateConversationInput
	if !decodeBody(w, r, &input) {
		return
	}

	conv, created, err := h.conversations.Create(r.Context(), userID, input)
	if err != nil {
		writeError(w, h.log, "create conversation", err)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, conv)
}

func (h *ConversationHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	convs, err := h.conversations.List(r.Context(), userID)
	if err != nil {
		writeError(w, h.log, "list conversations", err)
		return
	}
	if convs == nil {
		convs = []domain.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	limit, cursor, ok := pageParams(w, r)
	if !ok {
		return
	}

	page, err := h.conversations.ListCursor(r.Context(), userID, limit, cursor)
	if err != nil {
		writeError(w, h.log, "list conversations page", err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	detail, err := h.conversations.Get(r.Context(), id, userID)
	if err != nil {
		writeError(w, h.log, "get conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.conversations.Delete(r.Context(), id, userID); err != nil {
		writeError(w, h.log, "delete conversation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) AddParticipants(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var input service.AddParticipantsInput
	if !decodeBody(w, r, &input) {
		return
	}

	conv, err := h.conversations.AddParticipants(r.Context(), id, userID, input)
	if err != nil {
		writeError(w, h.log, "add participants", err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (h *ConversationHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	receipt, err := h.messages.MarkAsRead(r.Context(), userID, id)
	if err != nil {
		writeError(w, h.log, "mark as read", err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}
