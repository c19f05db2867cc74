package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vedran77/huddle/internal/audit"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository"
	"github.com/vedran77/huddle/pkg/apperr"
	"github.com/vedran77/huddle/pkg/validator"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConversationPage = 10
	maxConversationPage     = 100
	unreadConcurrency       = 8
)

type ConversationService struct {
	convRepo    repository.ConversationRepository
	messageRepo repository.MessageRepository
	userRepo    repository.UserRepository
	cipher      Cipher
	bg          *Background
	auditor     Auditor
	log         *zap.Logger
	now         func() time.Time
}

func NewConversationService(
	convRepo repository.ConversationRepository,
	messageRepo repository.MessageRepository,
	userRepo repository.UserRepository,
	cipher Cipher,
	bg *Background,
	log *zap.Logger,
) *ConversationService {
	return &ConversationService{
		convRepo:    convRepo,
		messageRepo: messageRepo,
		userRepo:    userRepo,
		cipher:      cipher,
		bg:          bg,
		log:         log,
		now:         time.Now,
	}
}

// SetAuditor sets the audit hand-off (optional dependency).
func (s *ConversationService) SetAuditor(a Auditor) {
	s.auditor = a
}

type CreateConversationInput struct {
	Type           domain.ConversationType `json:"type"`
	ParticipantIDs []uuid.UUID             `json:"participantIds"`
	Name           *string                 `json:"name,omitempty"`
}

type AddParticipantsInput struct {
	ParticipantIDs []uuid.UUID `json:"participantIds"`
}

// Create creates a conversation. The requester is always a participant. For
// PRIVATE conversations an alive conversation with the same pair is
// returned instead of creating a second one; created reports which
// happened.
func (s *ConversationService) Create(ctx context.Context, userID uuid.UUID, input CreateConversationInput) (conv *domain.Conversation, created bool, err error) {
	if errs := validator.ValidateConversation(string(input.Type), len(input.ParticipantIDs), input.Name); errs.HasErrors() {
		return nil, false, apperr.ValidationFields("invalid conversation", errs)
	}

	participants := dedupe(append([]uuid.UUID{userID}, input.ParticipantIDs...))
	if err := s.ensureUsersExist(ctx, participants); err != nil {
		return nil, false, err
	}

	if input.Type == domain.ConversationPrivate {
		if len(participants) != 2 {
			return nil, false, apperr.ValidationFields("private conversation needs exactly 2 distinct participants",
				map[string]string{"participantIds": fmt.Sprintf("got %d distinct participants including you", len(participants))})
		}
		existing, err := s.convRepo.FindPrivateByPair(ctx, participants[0], participants[1])
		if err != nil {
			return nil, false, err
		}
		if existing != nil {
			return existing, false, nil
		}
	}

	now := s.now()
	conv = &domain.Conversation{
		ID:        uuid.New(),
		Type:      input.Type,
		Name:      trimmed(input.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	for _, id := range participants {
		conv.Participants = append(conv.Participants, domain.Participant{
			ConversationID: conv.ID,
			UserID:         id,
			JoinedAt:       now,
		})
	}

	err = s.convRepo.Create(ctx, conv)
	if errors.Is(err, repository.ErrDuplicatePrivatePair) {
		// lost a race with a concurrent create of the same pair
		existing, ferr := s.convRepo.FindPrivateByPair(ctx, participants[0], participants[1])
		if ferr != nil {
			return nil, false, ferr
		}
		if existing != nil {
			return existing, false, nil
		}
		return nil, false, apperr.Conflict("a private conversation with this user already exists")
	}
	if err != nil {
		return nil, false, fmt.Errorf("creating conversation: %w", err)
	}

	full, err := s.convRepo.GetByID(ctx, conv.ID)
	if err != nil {
		return nil, false, err
	}
	if full == nil {
		full = conv
	}

	s.record(audit.New(audit.EntityConversation, full.ID, userID, audit.ActionCreate, nil, audit.OfConversation(full), now))
	return full, true, nil
}

func (s *ConversationService) List(ctx context.Context, userID uuid.UUID) ([]domain.ConversationSummary, error) {
	convs, err := s.convRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.summarize(ctx, userID, convs)
}

func (s *ConversationService) ListCursor(ctx context.Context, userID uuid.UUID, limit int, cursor *uuid.UUID) (*domain.Page[domain.ConversationSummary], error) {
	limit = clampLimit(limit, defaultConversationPage, maxConversationPage)

	// Fetch limit+1 to know whether another page exists
	convs, err := s.convRepo.ListByUserAfter(ctx, userID, cursor, limit+1)
	if errors.Is(err, repository.ErrCursorNotFound) {
		return nil, apperr.ValidationFields("invalid cursor", map[string]string{"cursor": "unknown conversation id"})
	}
	if err != nil {
		return nil, err
	}

	hasMore := len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}

	items, err := s.summarize(ctx, userID, convs)
	if err != nil {
		return nil, err
	}

	page := &domain.Page[domain.ConversationSummary]{Items: items, HasMore: hasMore}
	if hasMore {
		last := convs[len(convs)-1].ID
		page.NextCursor = &last
	}
	return page, nil
}

// summarize attaches each conversation's newest message and the caller's
// unread count.
func (s *ConversationService) summarize(ctx context.Context, userID uuid.UUID, convs []domain.Conversation) ([]domain.ConversationSummary, error) {
	summaries := make([]domain.ConversationSummary, len(convs))
	if len(convs) == 0 {
		return summaries, nil
	}

	ids := make([]uuid.UUID, len(convs))
	for i, c := range convs {
		ids[i] = c.ID
	}
	latest, err := s.messageRepo.LatestByConversations(ctx, ids)
	if err != nil {
		return nil, err
	}

	for i := range convs {
		summaries[i].Conversation = convs[i]
		if m, ok := latest[convs[i].ID]; ok {
			if err := decryptMessage(s.cipher, s.log, &m); err != nil {
				return nil, err
			}
			summaries[i].LastMessage = &m
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(unreadConcurrency)
	for i := range convs {
		since := time.Unix(0, 0)
		if p := convs[i].Participant(userID); p != nil && p.LastReadAt != nil {
			since = *p.LastReadAt
		}
		g.Go(func() error {
			n, err := s.messageRepo.CountUnread(gctx, convs[i].ID, userID, since)
			if err != nil {
				return err
			}
			summaries[i].UnreadCount = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// Get returns the conversation with its whole history, oldest first, and
// marks it read for the requester without waiting for that write.
func (s *ConversationService) Get(ctx context.Context, id, userID uuid.UUID) (*domain.ConversationDetail, error) {
	conv, err := s.Authorize(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.messageRepo.ListByConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := decryptMessages(s.cipher, s.log, msgs); err != nil {
		return nil, err
	}

	readAt := s.now()
	s.bg.Go("touch_last_read", func(ctx context.Context) error {
		return s.convRepo.TouchLastRead(ctx, id, userID, readAt)
	})

	return &domain.ConversationDetail{Conversation: *conv, Messages: msgs}, nil
}

func (s *ConversationService) Delete(ctx context.Context, id, userID uuid.UUID) error {
	conv, err := s.Authorize(ctx, id, userID)
	if err != nil {
		return err
	}

	now := s.now()
	if err := s.convRepo.SoftDelete(ctx, id, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return conversationNotFound(id)
		}
		return err
	}

	after := *conv
	after.DeletedAt = &now
	s.record(audit.New(audit.EntityConversation, id, userID, audit.ActionDelete,
		audit.OfConversation(conv), audit.OfConversation(&after), now))
	return nil
}

// AddParticipants adds users to a GROUP conversation. Users already in it
// are ignored.
func (s *ConversationService) AddParticipants(ctx context.Context, id, userID uuid.UUID, input AddParticipantsInput) (*domain.Conversation, error) {
	if errs := validator.ValidateParticipants(len(input.ParticipantIDs)); errs.HasErrors() {
		return nil, apperr.ValidationFields("invalid participants", errs)
	}

	conv, err := s.Authorize(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if conv.Type != domain.ConversationGroup {
		return nil, apperr.Validation("participants can only be added to GROUP conversations")
	}

	ids := dedupe(input.ParticipantIDs)
	if err := s.ensureUsersExist(ctx, ids); err != nil {
		return nil, err
	}
	if len(conv.Participants)+len(ids) > validator.MaxParticipants {
		return nil, apperr.Validation(fmt.Sprintf("a conversation can have at most %d participants", validator.MaxParticipants))
	}

	now := s.now()
	if err := s.convRepo.AddParticipants(ctx, id, ids, now); err != nil {
		return nil, err
	}

	updated, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, conversationNotFound(id)
	}

	s.record(audit.New(audit.EntityConversation, id, userID, audit.ActionAddParticipants,
		audit.OfConversation(conv), audit.OfConversation(updated), now))
	return updated, nil
}

// Authorize loads an alive conversation the user participates in.
func (s *ConversationService) Authorize(ctx context.Context, id, userID uuid.UUID) (*domain.Conversation, error) {
	conv, err := s.convRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, conversationNotFound(id)
	}
	if conv.Participant(userID) == nil {
		return nil, apperr.Forbidden("you are not a participant of this conversation")
	}
	return conv, nil
}

func (s *ConversationService) ensureUsersExist(ctx context.Context, ids []uuid.UUID) error {
	found, err := s.userRepo.FindExistingIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("checking participants: %w", err)
	}

	exists := make(map[uuid.UUID]struct{}, len(found))
	for _, id := range found {
		exists[id] = struct{}{}
	}
	var missing []string
	for _, id := range ids {
		if _, ok := exists[id]; !ok {
			missing = append(missing, id.String())
		}
	}
	if len(missing) > 0 {
		return apperr.ValidationFields("unknown participants: "+strings.Join(missing, ", "),
			map[string]string{"participantIds": strings.Join(missing, ",")})
	}
	return nil
}

func (s *ConversationService) record(r audit.Record) {
	if s.auditor != nil {
		s.auditor.Record(r)
	}
}

func conversationNotFound(id uuid.UUID) error {
	return apperr.NotFound(fmt.Sprintf("conversation %s not found", id))
}

func trimmed(name *string) *string {
	if name == nil {
		return nil
	}
	t := strings.TrimSpace(*name)
	return &t
}
