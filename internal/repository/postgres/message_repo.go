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

var messageColumns = `m.id, m.conversation_id, m.sender_id, m.message, m.status,
	m.created_at, m.updated_at, m.deleted_at, u.name, u.avatar_url`

type MessageRepo struct {
	pool *pgxpool.Pool
}

func NewMessageRepo(pool *pgxpool.Pool) *MessageRepo {
	return &MessageRepo{pool: pool}
}

func (r *MessageRepo) CreateWithActivity(ctx context.Context, msg *domain.Message) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, fmt.Sprintf(`
			UPDATE conversations c SET updated_at = GREATEST(c.updated_at, $2)
			WHERE c.id = $1 AND %s`, alive("c")),
			msg.ConversationID, msg.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotFound
		}

		tag, err = tx.Exec(ctx, `
			UPDATE conversation_participants
			SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
			WHERE conversation_id = $1 AND user_id = $2`,
			msg.ConversationID, msg.SenderID, msg.CreatedAt,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return repository.ErrNotParticipant
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO conversation_messages (id, conversation_id, sender_id, message, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			msg.ID, msg.ConversationID, msg.SenderID, msg.Body, msg.Status, msg.CreatedAt, msg.UpdatedAt,
		)
		return err
	})
	if errors.Is(err, repository.ErrNotFound) || errors.Is(err, repository.ErrNotParticipant) {
		return err
	}
	return errors.Wrap(err, "messageRepo.CreateWithActivity")
}

func (r *MessageRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversation_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1 AND %s`, messageColumns, alive("m"))

	msg, err := scanMessage(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "messageRepo.GetByID")
	}
	return msg, nil
}

func (r *MessageRepo) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]domain.Message, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM conversation_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = $1 AND %s
		ORDER BY m.created_at, m.id`, messageColumns, alive("m"))
	return r.list(ctx, "messageRepo.ListByConversation", query, conversationID)
}

// ListByConversationBefore pages by (created_at, id) descending. The cursor
// must belong to the same conversation; it may itself be soft deleted.
func (r *MessageRepo) ListByConversationBefore(ctx context.Context, conversationID uuid.UUID, cursor *uuid.UUID, limit int) ([]domain.Message, error) {
	args := []any{conversationID}
	where := fmt.Sprintf(`m.conversation_id = $1 AND %s`, alive("m"))

	if cursor != nil {
		var cursorAt time.Time
		err := r.pool.QueryRow(ctx,
			`SELECT created_at FROM conversation_messages WHERE id = $1 AND conversation_id = $2`,
			*cursor, conversationID,
		).Scan(&cursorAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrCursorNotFound
		}
		if err != nil {
			return nil, errors.Wrap(err, "messageRepo.ListByConversationBefore.Cursor")
		}
		args = append(args, cursorAt, *cursor)
		where += ` AND (m.created_at, m.id) < ($2, $3)`
	}

	query := fmt.Sprintf(`
		SELECT %s FROM conversation_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE %s
		ORDER BY m.created_at DESC, m.id DESC
		LIMIT %d`, messageColumns, where, limit)
	return r.list(ctx, "messageRepo.ListByConversationBefore", query, args...)
}

func (r *MessageRepo) LatestByConversations(ctx context.Context, conversationIDs []uuid.UUID) (map[uuid.UUID]domain.Message, error) {
	latest := make(map[uuid.UUID]domain.Message, len(conversationIDs))
	if len(conversationIDs) == 0 {
		return latest, nil
	}

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (m.conversation_id) %s
		FROM conversation_messages m
		JOIN users u ON u.id = m.sender_id
		WHERE m.conversation_id = ANY($1::uuid[]) AND %s
		ORDER BY m.conversation_id, m.created_at DESC, m.id DESC`, messageColumns, alive("m"))

	msgs, err := r.list(ctx, "messageRepo.LatestByConversations", query, uuidStrings(conversationIDs))
	if err != nil {
		return nil, err
	}
	for _, m := range msgs {
		latest[m.ConversationID] = m
	}
	return latest, nil
}

func (r *MessageRepo) CountUnread(ctx context.Context, conversationID, userID uuid.UUID, since time.Time) (int, error) {
	query := fmt.Sprintf(`
		SELECT count(*) FROM conversation_messages m
		WHERE m.conversation_id = $1 AND m.sender_id <> $2 AND m.created_at > $3 AND %s`, alive("m"))

	var n int
	err := r.pool.QueryRow(ctx, query, conversationID, userID, since).Scan(&n)
	return n, errors.Wrap(err, "messageRepo.CountUnread")
}

func (r *MessageRepo) UpdateBody(ctx context.Context, id uuid.UUID, body string, at time.Time) error {
	query := fmt.Sprintf(`UPDATE conversation_messages m SET message = $2, updated_at = $3 WHERE m.id = $1 AND %s`, alive("m"))
	tag, err := r.pool.Exec(ctx, query, id, body, at)
	if err != nil {
		return errors.Wrap(err, "messageRepo.UpdateBody")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := fmt.Sprintf(`UPDATE conversation_messages m SET deleted_at = $2 WHERE m.id = $1 AND %s`, alive("m"))
	tag, err := r.pool.Exec(ctx, query, id, at)
	if err != nil {
		return errors.Wrap(err, "messageRepo.SoftDelete")
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MessageRepo) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, at time.Time) (time.Time, error) {
	var readAt time.Time
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, `
			UPDATE conversation_participants
			SET last_read_at = GREATEST(COALESCE(last_read_at, $3), $3)
			WHERE conversation_id = $1 AND user_id = $2
			RETURNING last_read_at`,
			conversationID, userID, at,
		).Scan(&readAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrNotParticipant
		}
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx, fmt.Sprintf(`
			UPDATE conversation_messages m SET status = $4
			WHERE m.conversation_id = $1 AND m.sender_id <> $2 AND m.created_at <= $3
				AND m.status <> $4 AND %s`, alive("m")),
			conversationID, userID, readAt, domain.MessageRead,
		)
		return err
	})
	if errors.Is(err, repository.ErrNotParticipant) {
		return time.Time{}, err
	}
	return readAt, errors.Wrap(err, "messageRepo.MarkRead")
}

func (r *MessageRepo) MarkDelivered(ctx context.Context, conversationID, userID uuid.UUID) (int64, error) {
	query := fmt.Sprintf(`
		UPDATE conversation_messages m SET status = $3
		WHERE m.conversation_id = $1 AND m.sender_id <> $2 AND m.status = $4 AND %s`, alive("m"))
	tag, err := r.pool.Exec(ctx, query, conversationID, userID, domain.MessageDelivered, domain.MessageSent)
	if err != nil {
		return 0, errors.Wrap(err, "messageRepo.MarkDelivered")
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepo) list(ctx context.Context, op, query string, args ...any) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, op)
	}
	defer rows.Close()

	messages := []domain.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, errors.Wrap(err, op+".Scan")
		}
		messages = append(messages, *msg)
	}
	return messages, errors.Wrap(rows.Err(), op+".Rows")
}

func scanMessage(row pgx.Row) (*domain.Message, error) {
	var msg domain.Message
	sender := &domain.UserProfile{}
	if err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.SenderID, &msg.Body, &msg.Status,
		&msg.CreatedAt, &msg.UpdatedAt, &msg.DeletedAt, &sender.Name, &sender.AvatarURL,
	); err != nil {
		return nil, err
	}
	sender.ID = msg.SenderID
	msg.Sender = sender
	return &msg, nil
}
