package memory

import (
	"bytes"
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository"
)

var _ repository.MessageRepository = (*MessageRepo)(nil)

type MessageRepo struct{ s *Store }

func (r *MessageRepo) CreateWithActivity(_ context.Context, msg *domain.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	row, ok := r.s.conversations[msg.ConversationID]
	if !ok || !row.conv.Alive() {
		return repository.ErrNotFound
	}
	if row.participant(msg.SenderID) == nil {
		return repository.ErrNotParticipant
	}

	if _, err := r.s.touchLastRead(msg.ConversationID, msg.SenderID, msg.CreatedAt); err != nil {
		return err
	}
	if msg.CreatedAt.After(row.conv.UpdatedAt) {
		row.conv.UpdatedAt = msg.CreatedAt
	}

	stored := *msg
	stored.Sender = nil
	r.s.messages[msg.ID] = &stored
	r.s.thread[msg.ConversationID] = append(r.s.thread[msg.ConversationID], msg.ID)
	return nil
}

func (r *MessageRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.messages[id]
	if !ok || !m.Alive() {
		return nil, nil
	}
	cp := r.s.copyMessage(m)
	return &cp, nil
}

// ordered returns the alive messages of a conversation sorted by
// (createdAt, id) ascending. mu must be held.
func (s *Store) ordered(conversationID uuid.UUID) []*domain.Message {
	var out []*domain.Message
	for _, id := range s.thread[conversationID] {
		if m := s.messages[id]; m.Alive() {
			out = append(out, m)
		}
	}
	// insertion sort; threads arrive nearly ordered
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && createdBefore(out[j], out[j-1]); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func createdBefore(a, b *domain.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.ID[:], b.ID[:]) < 0
}

func (r *MessageRepo) ListByConversation(_ context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msgs := []domain.Message{}
	for _, m := range r.s.ordered(conversationID) {
		msgs = append(msgs, r.s.copyMessage(m))
	}
	return msgs, nil
}

func (r *MessageRepo) ListByConversationBefore(_ context.Context, conversationID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var at *domain.Message
	if cursor != nil {
		m, ok := r.s.messages[*cursor]
		if !ok || m.ConversationID != conversationID {
			return nil, repository.ErrCursorNotFound
		}
		at = m
	}

	ordered := r.s.ordered(conversationID)
	msgs := []domain.Message{}
	for i := len(ordered) - 1; i >= 0 && len(msgs) < limit; i-- {
		m := ordered[i]
		if at != nil && !createdBefore(m, at) {
			continue
		}
		msgs = append(msgs, r.s.copyMessage(m))
	}
	return msgs, nil
}

func (r *MessageRepo) LatestByConversations(_ context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	latest := make(map[uuid.UUID]domain.Message, len(conversationIDs))
	for _, id := range conversationIDs {
		ordered := r.s.ordered(id)
		if len(ordered) > 0 {
			latest[id] = r.s.copyMessage(ordered[len(ordered)-1])
		}
	}
	return latest, nil
}

func (r *MessageRepo) CountUnread(_ context.Context, conversationID, userID uuid.UUID, since time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, m := range r.s.ordered(conversationID) {
		if m.SenderID != userID && m.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

func (r *MessageRepo) UpdateBody(_ context.Context, id uuid.UUID, body string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok || !m.Alive() {
		return repository.ErrNotFound
	}
	m.Body = body
	m.UpdatedAt = at
	return nil
}

func (r *MessageRepo) SoftDelete(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.messages[id]
	if !ok || !m.Alive() {
		return repository.ErrNotFound
	}
	t := at
	m.DeletedAt = &t
	return nil
}

func (r *MessageRepo) MarkRead(_ context.Context, conversationID, userID uuid.UUID, at time.Time) (time.Time, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	readAt, err := r.s.touchLastRead(conversationID, userID, at)
	if err != nil {
		return time.Time{}, err
	}
	for _, m := range r.s.ordered(conversationID) {
		if m.SenderID != userID && !m.CreatedAt.After(readAt) {
			m.Status = domain.MessageRead
		}
	}
	return readAt, nil
}

func (r *MessageRepo) MarkDelivered(_ context.Context, conversationID, userID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	for _, m := range r.s.ordered(conversationID) {
		if m.SenderID != userID && m.Status == domain.MessageSent {
			m.Status = domain.MessageDelivered
			n++
		}
	}
	return n, nil
}
