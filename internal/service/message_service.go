package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vedran77/huddle/internal/audit"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository"
	"github.com/vedran77/huddle/pkg/apperr"
	"github.com/vedran77/huddle/pkg/validator"
	"go.uber.org/zap"
)

const (
	EditWindow         = 15 * time.Minute
	defaultMessagePage = 50
	maxMessagePage     = 100
)

type MessageService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	cipher      Cipher
	bg          *Background
	notifier    Notifier
	auditor     Auditor
	log         *zap.Logger
	now         func() time.Time
}

func NewMessageService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	cipher Cipher,
	bg *Background,
	log *zap.Logger,
) *MessageService {
	return &MessageService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		cipher:      cipher,
		bg:          bg,
		log:         log,
		now:         time.Now,
	}
}

// SetNotifier sets the real-time notifier (optional dependency).
func (s *MessageService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetAuditor sets the audit hand-off (optional dependency).
func (s *MessageService) SetAuditor(a Auditor) {
	s.auditor = a
}

type SendMessageInput struct {
	ConversationID uuid.UUID `json:"conversationId"`
	Message        string    `json:"message"`
}

type EditMessageInput struct {
	Message string `json:"message"`
}

// Send encrypts and stores a message, then fans it out. The returned
// message carries the plaintext the caller sent.
func (s *MessageService) Send(ctx context.Context, userID uuid.UUID, input SendMessageInput) (*domain.Message, error) {
	if errs := validator.ValidateMessage(input.Message); errs.HasErrors() {
		return nil, apperr.ValidationFields("invalid message", errs)
	}

	conv, err := s.convRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, apperr.Validation(fmt.Sprintf("conversation %s does not exist", input.ConversationID))
	}
	sender := conv.Participant(userID)
	if sender == nil {
		return nil, apperr.Forbidden("you are not a participant of this conversation")
	}

	token, err := s.cipher.Encrypt(input.Message)
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}

	now := s.now()
	msg := &domain.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: conv.ID,
		SenderID:       userID,
		Body:           token,
		Status:         domain.MessageSent,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	switch err := s.messageRepo.CreateWithActivity(ctx, msg); {
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperr.Validation(fmt.Sprintf("conversation %s does not exist", conv.ID))
	case errors.Is(err, repository.ErrNotParticipant):
		return nil, apperr.Forbidden("you are not a participant of this conversation")
	case err != nil:
		return nil, fmt.Errorf("creating message: %w", err)
	}

	msg.Body = input.Message
	msg.Sender = sender.User
	conv.UpdatedAt = now

	if s.notifier != nil {
		s.notifier.NotifyNewMessage(conv, msg)
	}
	s.record(audit.New(audit.EntityMessage, msg.ID, userID, audit.ActionCreate, nil, audit.OfMessage(msg), now))
	return msg, nil
}

// List returns the whole thread, oldest first.
func (s *MessageService) List(ctx context.Context, userID, conversationID uuid.UUID) ([]domain.Message, error) {
	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.messageRepo.ListByConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if err := decryptMessages(s.cipher, s.log, msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ListCursor returns one page of the thread, newest first.
func (s *MessageService) ListCursor(ctx context.Context, userID, conversationID uuid.UUID, limit int, cursor *uuid.UUID) (*domain.Page[domain.Message], error) {
	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	limit = clampLimit(limit, defaultMessagePage, maxMessagePage)

	msgs, err := s.messageRepo.ListByConversationBefore(ctx, conversationID, cursor, limit+1)
	if errors.Is(err, repository.ErrCursorNotFound) {
		return nil, apperr.ValidationFields("invalid cursor", map[string]string{"cursor": "unknown message id"})
	}
	if err != nil {
		return nil, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	if err := decryptMessages(s.cipher, s.log, msgs); err != nil {
		return nil, err
	}

	page := &domain.Page[domain.Message]{Items: msgs, HasMore: hasMore}
	if hasMore {
		last := msgs[len(msgs)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

func (s *MessageService) Get(ctx context.Context, userID, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := s.accessible(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.authorize(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}
	if err := decryptMessage(s.cipher, s.log, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Edit replaces the text of the caller's own message within EditWindow of
// its creation. No edit history is kept.
func (s *MessageService) Edit(ctx context.Context, userID, messageID uuid.UUID, input EditMessageInput) (*domain.Message, error) {
	msg, err := s.accessible(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if errs := validator.ValidateMessage(input.Message); errs.HasErrors() {
		return nil, apperr.ValidationFields("invalid message", errs)
	}
	if msg.SenderID != userID {
		return nil, apperr.Forbidden("only the message sender can edit this message")
	}
	now := s.now()
	if now.After(msg.CreatedAt.Add(EditWindow)) {
		return nil, apperr.Validation("messages can only be edited within 15 minutes of sending")
	}

	token, err := s.cipher.Encrypt(input.Message)
	if err != nil {
		return nil, fmt.Errorf("encrypting message: %w", err)
	}
	if err := s.messageRepo.UpdateBody(ctx, messageID, token, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, messageNotFound(messageID)
		}
		return nil, err
	}

	before := audit.OfMessage(msg)
	msg.Body = input.Message
	msg.UpdatedAt = now

	if s.notifier != nil {
		s.notifier.NotifyEditedMessage(msg)
	}
	s.record(audit.New(audit.EntityMessage, msg.ID, userID, audit.ActionUpdate, before, audit.OfMessage(msg), now))
	return msg, nil
}

func (s *MessageService) Delete(ctx context.Context, userID, messageID uuid.UUID) error {
	msg, err := s.accessible(ctx, messageID)
	if err != nil {
		return err
	}
	if msg.SenderID != userID {
		return apperr.Forbidden("only the message sender can delete this message")
	}

	now := s.now()
	if err := s.messageRepo.SoftDelete(ctx, messageID, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return messageNotFound(messageID)
		}
		return err
	}

	before := audit.OfMessage(msg)
	msg.DeletedAt = &now
	if s.notifier != nil {
		s.notifier.NotifyDeletedMessage(msg.ConversationID, msg.ID)
	}
	s.record(audit.New(audit.EntityMessage, msg.ID, userID, audit.ActionDelete, before, audit.OfMessage(msg), now))
	return nil
}

// MarkAsRead moves the caller's read marker to now and flips the messages
// it covers to READ.
func (s *MessageService) MarkAsRead(ctx context.Context, userID, conversationID uuid.UUID) (*domain.ReadReceipt, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, conversationNotFound(conversationID)
	}
	if conv.Participant(userID) == nil {
		return nil, apperr.Validation("user is not a participant of this conversation")
	}

	readAt, err := s.messageRepo.MarkRead(ctx, conversationID, userID, s.now())
	if errors.Is(err, repository.ErrNotParticipant) {
		return nil, apperr.Validation("user is not a participant of this conversation")
	}
	if err != nil {
		return nil, err
	}

	receipt := &domain.ReadReceipt{ConversationID: conversationID, UserID: userID, ReadAt: readAt}
	if s.notifier != nil {
		s.notifier.NotifyRead(*receipt)
	}
	return receipt, nil
}

// MarkDelivered flips messages the user has not yet received to DELIVERED
// in the background.
func (s *MessageService) MarkDelivered(userID, conversationID uuid.UUID) {
	s.bg.Go("mark_delivered", func(ctx context.Context) error {
		_, err := s.messageRepo.MarkDelivered(ctx, conversationID, userID)
		return err
	})
}

// accessible loads an alive message whose conversation is alive.
func (s *MessageService) accessible(ctx context.Context, messageID uuid.UUID) (*domain.Message, error) {
	msg, err := s.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, messageNotFound(messageID)
	}

	conv, err := s.convRepo.GetByID(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, messageNotFound(messageID)
	}
	return msg, nil
}

func (s *MessageService) authorize(ctx context.Context, userID, conversationID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, conversationNotFound(conversationID)
	}
	if conv.Participant(userID) == nil {
		return nil, apperr.Forbidden("you are not a participant of this conversation")
	}
	return conv, nil
}

func (s *MessageService) record(r audit.Record) {
	if s.auditor != nil {
		s.auditor.Record(r)
	}
}

func messageNotFound(id uuid.UUID) error {
	return apperr.NotFound(fmt.Sprintf("message %s not found", id))
}

// decryptMessage replaces the stored token with plaintext. A token that
// does not decrypt fails the whole request.
func decryptMessage(c Cipher, log *zap.Logger, msg *domain.Message) error {
	plain, err := c.Decrypt(msg.Body)
	if err != nil {
		log.Error("message failed to decrypt",
			zap.String("message_id", msg.ID.String()),
			zap.String("conversation_id", msg.ConversationID.String()),
			zap.Error(err),
		)
		return err
	}
	msg.Body = plain
	return nil
}

func decryptMessages(c Cipher, log *zap.Logger, msgs []domain.Message) error {
	for i := range msgs {
		if err := decryptMessage(c, log, &msgs[i]); err != nil {
			return err
		}
	}
	return nil
}
