// Package memory is an in-process implementation of the repository
// interfaces. A single mutex guards all state, so multi-row writes are
// atomic the same way a Postgres transaction is.
package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/domain"
)

type conversationRow struct {
	conv    domain.Conversation
	pairKey string
	// participant order is join order
	participants []*domain.Participant
}

type Store struct {
	mu            sync.RWMutex
	users         map[uuid.UUID]domain.UserProfile
	conversations map[uuid.UUID]*conversationRow
	messages      map[uuid.UUID]*domain.Message
	// thread holds message ids per conversation in insertion order
	thread map[uuid.UUID][]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]domain.UserProfile),
		conversations: make(map[uuid.UUID]*conversationRow),
		messages:      make(map[uuid.UUID]*domain.Message),
		thread:        make(map[uuid.UUID][]uuid.UUID),
	}
}

// AddUser registers a directory user.
func (s *Store) AddUser(profile domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.ID] = profile
}

func (s *Store) Users() *UserRepo                 { return &UserRepo{s: s} }
func (s *Store) Conversations() *ConversationRepo { return &ConversationRepo{s: s} }
func (s *Store) Messages() *MessageRepo           { return &MessageRepo{s: s} }

// profile must be called with mu held.
func (s *Store) profile(id uuid.UUID) *domain.UserProfile {
	p, ok := s.users[id]
	if !ok {
		return &domain.UserProfile{ID: id}
	}
	return &p
}

// snapshot copies a conversation row out of the store. mu must be held.
func (s *Store) snapshot(row *conversationRow) domain.Conversation {
	conv := row.conv
	conv.Participants = make([]domain.Participant, 0, len(row.participants))
	for _, p := range row.participants {
		cp := *p
		if p.LastReadAt != nil {
			t := *p.LastReadAt
			cp.LastReadAt = &t
		}
		cp.User = s.profile(p.UserID)
		conv.Participants = append(conv.Participants, cp)
	}
	return conv
}

func (s *Store) copyMessage(m *domain.Message) domain.Message {
	cp := *m
	cp.Sender = s.profile(m.SenderID)
	return cp
}

func (row *conversationRow) participant(userID uuid.UUID) *domain.Participant {
	for _, p := range row.participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

type UserRepo struct{ s *Store }

func (r *UserRepo) FindExistingIDs(_ context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var found []uuid.UUID
	for _, id := range ids {
		if _, ok := r.s.users[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}
