package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vedran77/huddle/internal/config"
	"github.com/vedran77/huddle/internal/database"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository"
	"github.com/vedran77/huddle/internal/repository/memory"
	postgresrepo "github.com/vedran77/huddle/internal/repository/postgres"
)

type repositories struct {
	users         repository.UserRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	close         func()
}

func openStorage(ctx context.Context, cfg *config.Config, log *zap.Logger) (*repositories, error) {
	seeds, err := parseSeedUsers(cfg.Storage.SeedUsers)
	if err != nil {
		return nil, err
	}

	if cfg.Storage.Driver == "memory" {
		store := memory.NewStore()
		for _, u := range seeds {
			store.AddUser(u)
		}
		log.Warn("using in-memory storage; data is lost on restart", zap.Int("seeded_users", len(seeds)))
		return &repositories{
			users:         store.Users(),
			conversations: store.Conversations(),
			messages:      store.Messages(),
			close:         func() {},
		}, nil
	}

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	log.Info("connected to database", zap.String("host", cfg.Database.Host), zap.String("name", cfg.Database.Name))

	users := postgresrepo.NewUserRepo(pool)
	for _, u := range seeds {
		if err := users.Upsert(ctx, u.ID, u.Name, u.AvatarURL); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return &repositories{
		users:         users,
		conversations: postgresrepo.NewConversationRepo(pool),
		messages:      postgresrepo.NewMessageRepo(pool),
		close:         pool.Close,
	}, nil
}

// parseSeedUsers reads "uuid:name" entries.
func parseSeedUsers(entries []string) ([]domain.UserProfile, error) {
	out := make([]domain.UserProfile, 0, len(entries))
	for _, e := range entries {
		idStr, name, ok := strings.Cut(strings.TrimSpace(e), ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("seed user %q: want uuid:name", e)
		}
		id, err := uuid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("seed user %q: %w", e, err)
		}
		out = append(out, domain.UserProfile{ID: id, Name: strings.TrimSpace(name)})
	}
	return out, nil
}
