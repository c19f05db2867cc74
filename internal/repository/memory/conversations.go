package memory

import (
	"bytes"
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository"
)

var _ repository.ConversationRepository = (*ConversationRepo)(nil)

type ConversationRepo struct{ s *Store }

func (r *ConversationRepo) Create(_ context.Context, conv *domain.Conversation) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row := &conversationRow{conv: *conv}
	row.conv.Participants = nil
	if conv.Type == domain.ConversationPrivate && len(conv.Participants) == 2 {
		row.pairKey = repository.PairKey(conv.Participants[0].UserID, conv.Participants[1].UserID)
		for _, other := range r.s.conversations {
			if other.pairKey == row.pairKey && other.conv.Alive() {
				return repository.ErrDuplicatePrivatePair
			}
		}
	}
	for _, p := range conv.Participants {
		cp := p
		cp.ConversationID = conv.ID
		cp.User = nil
		row.participants = append(row.participants, &cp)
	}

	r.s.conversations[conv.ID] = row
	return nil
}

func (r *ConversationRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	row, ok := r.s.conversations[id]
	if !ok || !row.conv.Alive() {
		return nil, nil
	}
	conv := r.s.snapshot(row)
	return &conv, nil
}

func (r *ConversationRepo) FindPrivateByPair(_ context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	key := repository.PairKey(a, b)
	for _, row := range r.s.conversations {
		if row.pairKey == key && row.conv.Alive() {
			conv := r.s.snapshot(row)
			return &conv, nil
		}
	}
	return nil, nil
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	return r.ListByUserAfter(ctx, userID, nil, 0)
}

func (r *ConversationRepo) ListByUserAfter(_ context.Context, userID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Conversation, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var rows []*conversationRow
	for _, row := range r.s.conversations {
		if row.conv.Alive() && row.participant(userID) != nil {
			rows = append(rows, row)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		return activityBefore(rows[j].conv, rows[i].conv)
	})

	if cursor != nil {
		at, ok := r.s.conversations[*cursor]
		if !ok || at.participant(userID) == nil {
			return nil, repository.ErrCursorNotFound
		}
		start := len(rows)
		for i, row := range rows {
			if activityBefore(row.conv, at.conv) {
				start = i
				break
			}
		}
		rows = rows[start:]
	}
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}

	convs := make([]domain.Conversation, 0, len(rows))
	for _, row := range rows {
		convs = append(convs, r.s.snapshot(row))
	}
	return convs, nil
}

// activityBefore reports whether a sorts after b in (updatedAt, id) order,
// i.e. a is less recent.
func activityBefore(a, b domain.Conversation) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.Before(b.UpdatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (r *ConversationRepo) AddParticipants(_ context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, joinedAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.conversations[conversationID]
	if !ok {
		return repository.ErrNotFound
	}
	for _, id := range userIDs {
		if row.participant(id) != nil {
			continue
		}
		row.participants = append(row.participants, &domain.Participant{
			ConversationID: conversationID,
			UserID:         id,
			JoinedAt:       joinedAt,
		})
	}
	return nil
}

func (r *ConversationRepo) TouchLastRead(_ context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	_, err := r.s.touchLastRead(conversationID, userID, at)
	return err
}

// touchLastRead advances lastReadAt monotonically. mu must be held.
func (s *Store) touchLastRead(conversationID, userID uuid.UUID, at time.Time) (time.Time, error) {
	row, ok := s.conversations[conversationID]
	if !ok {
		return time.Time{}, repository.ErrNotParticipant
	}
	p := row.participant(userID)
	if p == nil {
		return time.Time{}, repository.ErrNotParticipant
	}
	if p.LastReadAt == nil || p.LastReadAt.Before(at) {
		t := at
		p.LastReadAt = &t
	}
	return *p.LastReadAt, nil
}

func (r *ConversationRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.conversations[id]
	if !ok || !row.conv.Alive() {
		return repository.ErrNotFound
	}
	t := at
	row.conv.DeletedAt = &t
	return nil
}
