package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository"
)

const privatePairIndex = "conversations_private_pair_alive"

var conversationColumns = `c.id, c.type, c.name, c.created_at, c.updated_at, c.deleted_at`

type ConversationRepo struct {
	pool *pgxpool.Pool
}

func NewConversationRepo(pool *pgxpool.Pool) *ConversationRepo {
	return &ConversationRepo{pool: pool}
}

func (r *ConversationRepo) Create(ctx context.Context, conv *domain.Conversation) error {
	var pairKey *string
	if conv.Type == domain.ConversationPrivate && len(conv.Participants) == 2 {
		key := repository.PairKey(conv.Participants[0].UserID, conv.Participants[1].UserID)
		pairKey = &key
	}

	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversations (id, type, name, pair_key, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			conv.ID, conv.Type, conv.Name, pairKey, conv.CreatedAt, conv.UpdatedAt,
		)
		if err != nil {
			return err
		}

		for _, p := range conv.Participants {
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at, last_read_at)
				VALUES ($1, $2, $3, $4)`,
				conv.ID, p.UserID, p.JoinedAt, p.LastReadAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if isUniqueViolation(err, privatePairIndex) {
		return repository.ErrDuplicatePrivatePair
	}
	return errors.Wrap(err, "conversationRepo.Create")
}

func (r *ConversationRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations c WHERE c.id = $1 AND %s`, conversationColumns, alive("c"))
	return r.getOne(ctx, query, id)
}

func (r *ConversationRepo) FindPrivateByPair(ctx context.Context, a, b uuid.UUID) (*domain.Conversation, error) {
	query := fmt.Sprintf(`SELECT %s FROM conversations c WHERE c.pair_key = $1 AND %s`, conversationColumns, alive("c"))
	return r.getOne(ctx, query, repository.PairKey(a, b))
}

func (r *ConversationRepo) getOne(ctx context.Context, query string, arg any) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&conv.ID, &conv.Type, &conv.Name, &conv.CreatedAt, &conv.UpdatedAt, &conv.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.getOne")
	}

	convs := []domain.Conversation{conv}
	if err := r.attachParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return &convs[0], nil
}

func (r *ConversationRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]domain.Conversation, error) {
	return r.ListByUserAfter(ctx, userID, nil, 0)
}

// ListByUserAfter pages by (updated_at, id) descending. limit <= 0 means no
// limit.
func (r *ConversationRepo) ListByUserAfter(ctx context.Context, userID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Conversation, error) {
	args := []any{userID}
	where := fmt.Sprintf(`%s AND EXISTS (
			SELECT 1 FROM conversation_participants p
			WHERE p.conversation_id = c.id AND p.user_id = $1)`, alive("c"))

	if cursor != nil {
		var cursorAt time.Time
		// A cursor the user cannot see is treated like an unknown one
		err := r.pool.QueryRow(ctx, `SELECT c.updated_at FROM conversations c
			WHERE c.id = $1 AND EXISTS (
				SELECT 1 FROM conversation_participants p
				WHERE p.conversation_id = c.id AND p.user_id = $2)`, *cursor, userID).Scan(&cursorAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrCursorNotFound
		}
		if err != nil {
			return nil, errors.Wrap(err, "conversationRepo.ListByUserAfter.Cursor")
		}
		args = append(args, cursorAt, *cursor)
		where += ` AND (c.updated_at, c.id) < ($2, $3)`
	}

	query := fmt.Sprintf(`SELECT %s FROM conversations c WHERE %s ORDER BY c.updated_at DESC, c.id DESC`,
		conversationColumns, where)
	if limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListByUserAfter")
	}
	defer rows.Close()

	var convs []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		if err := rows.Scan(
			&conv.ID, &conv.Type, &conv.Name, &conv.CreatedAt, &conv.UpdatedAt, &conv.DeletedAt,
		); err != nil {
			return nil, errors.Wrap(err, "conversationRepo.ListByUserAfter.Scan")
		}
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "conversationRepo.ListByUserAfter.Rows")
	}

	if err := r.attachParticipants(ctx, convs); err != nil {
		return nil, err
	}
	return convs, nil
}

// attachParticipants loads participants with their directory profile for
// every conversation in convs with a single query.
func (r *ConversationRepo) attachParticipants(ctx context.Context, convs []domain.Conversation) error {
	if len(convs) == 0 {
		return nil
	}

	index := make(map[uuid.UUID]int, len(convs))
	ids := make([]uuid.UUID, len(convs))
	for i, c := range convs {
		index[c.ID] = i
		ids[i] = c.ID
		convs[i].Participants = []domain.Participant{}
	}

	rows, err := r.pool.Query(ctx, `
		SELECT p.conversation_id, p.user_id, p.joined_at, p.last_read_at, u.name, u.avatar_url
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ANY($1::uuid[])
		ORDER BY p.joined_at, p.user_id`, uuidStrings(ids))
	if err != nil {
		return errors.Wrap(err, "conversationRepo.attachParticipants")
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Participant
		profile := &domain.UserProfile{}
		if err := rows.Scan(
			&p.ConversationID, &p.UserID, &p.JoinedAt, &p.LastReadAt, &profile.Name, &profile.AvatarURL,
		); err != nil {
			return errors.Wrap(err, "conversationRepo.attachParticipants.Scan")
		}
		profile.ID = p.UserID
		p.User = profile

		i := index[p.ConversationID]
		convs[i].Participants = append(convs[i].Participants, p)
	}
	return errors.Wrap(rows.Err(), "conversationRepo.attachParticipants.Rows")
}

func (r *ConversationRepo) AddParticipants(ctx context.Context, conversationID uuid.UUID, userIDs []uuid.UUID, joinedAt time.Time) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		for _, userID := range userIDs {
			if _, err := tx.Exec(ctx, `
				INSERT INTO conversation_participants (conversation_id, user_id, joined_at)
				VALUES ($1, $2, $3)
				ON CONFLICT (conversation_id, user_id) DO NOTHING`,
				conversationID, userID, joinedAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrap(err, "conversationRepo.AddParticipants")
}

func (r *ConversationRepo) TouchLastRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE conversation_participants
		SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
		WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID, at,
	)
	if err != nil {
		return errors.Wrap(err, "conversationRepo.TouchLastRead")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotParticipant
	}
	return nil
}

func (r *ConversationRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := fmt.Sprintf(`UPDATE conversations c SET deleted_at = $2 WHERE c.id = $1 AND %s`, alive("c"))
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return errors.Wrap(err, "conversationRepo.SoftDelete")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
