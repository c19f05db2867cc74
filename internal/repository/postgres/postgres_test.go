package postgres

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/vedran77/huddle/internal/database"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := startPostgres(ctx)
	if err != nil {
		log.Printf("postgres container unavailable, repository tests will be skipped: %v", err)
		os.Exit(m.Run())
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("failed to get connection string: %v", err)
	}

	testPool, err = pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("failed to open pool: %v", err)
	}
	if err := database.Migrate(ctx, testPool); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	code := m.Run()

	testPool.Close()
	if err := container.Terminate(ctx); err != nil {
		log.Printf("failed to terminate container: %v", err)
	}
	os.Exit(code)
}

// startPostgres converts a missing Docker daemon, which some testcontainers
// code paths report by panicking, into an error.
func startPostgres(ctx context.Context) (c *postgres.PostgresContainer, err error) {
	defer func() {
		if r := recover(); r != nil {
			c, err = nil, &dockerUnavailable{r}
		}
	}()
	return postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("huddle"),
		postgres.WithUsername("huddle"),
		postgres.WithPassword("password"),
		postgres.BasicWaitStrategies(),
	)
}

type dockerUnavailable struct{ reason any }

func (e *dockerUnavailable) Error() string { return "docker unavailable" }

func setup(t *testing.T) (*ConversationRepo, *MessageRepo, *UserRepo) {
	t.Helper()
	if testPool == nil {
		t.Skip("postgres not available")
	}
	t.Cleanup(func() {
		_, err := testPool.Exec(context.Background(),
			`TRUNCATE conversation_messages, conversation_participants, conversations, users CASCADE`)
		require.NoError(t, err)
	})
	return NewConversationRepo(testPool), NewMessageRepo(testPool), NewUserRepo(testPool)
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func seedUsers(t *testing.T, users *UserRepo, names ...string) []uuid.UUID {
	t.Helper()
	ids := make([]uuid.UUID, len(names))
	for i, name := range names {
		ids[i] = uuid.New()
		require.NoError(t, users.Upsert(context.Background(), ids[i], name, nil))
	}
	return ids
}

func newConversation(typ domain.ConversationType, at time.Time, users ...uuid.UUID) *domain.Conversation {
	conv := &domain.Conversation{ID: uuid.New(), Type: typ, CreatedAt: at, UpdatedAt: at}
	for _, u := range users {
		conv.Participants = append(conv.Participants, domain.Participant{
			ConversationID: conv.ID, UserID: u, JoinedAt: at,
		})
	}
	return conv
}

func newMessage(convID, sender uuid.UUID, at time.Time) *domain.Message {
	return &domain.Message{
		ID:             uuid.Must(uuid.NewV7()),
		ConversationID: convID,
		SenderID:       sender,
		Body:           "ciphertext",
		Status:         domain.MessageSent,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestFindExistingIDs(t *testing.T) {
	_, _, users := setup(t)
	ids := seedUsers(t, users, "ana", "bruno")

	found, err := users.FindExistingIDs(context.Background(), []uuid.UUID{ids[0], uuid.New(), ids[1]})
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, found)
}

func TestConversationCreateAndGet(t *testing.T) {
	convs, _, users := setup(t)
	ctx := context.Background()
	ids := seedUsers(t, users, "ana", "bruno")

	conv := newConversation(domain.ConversationPrivate, base, ids...)
	require.NoError(t, convs.Create(ctx, conv))

	got, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.ConversationPrivate, got.Type)
	require.Len(t, got.Participants, 2)
	require.NotNil(t, got.Participants[0].User)
	assert.ElementsMatch(t, ids, got.ParticipantIDs())

	pair, err := convs.FindPrivateByPair(ctx, ids[1], ids[0])
	require.NoError(t, err)
	require.NotNil(t, pair)
	assert.Equal(t, conv.ID, pair.ID)

	missing, err := convs.GetByID(ctx, uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDuplicatePrivatePair(t *testing.T) {
	convs, _, users := setup(t)
	ctx := context.Background()
	ids := seedUsers(t, users, "ana", "bruno")

	first := newConversation(domain.ConversationPrivate, base, ids[0], ids[1])
	require.NoError(t, convs.Create(ctx, first))

	second := newConversation(domain.ConversationPrivate, base, ids[1], ids[0])
	assert.ErrorIs(t, convs.Create(ctx, second), repository.ErrDuplicatePrivatePair)

	require.NoError(t, convs.SoftDelete(ctx, first.ID, base.Add(time.Minute)))
	assert.NoError(t, convs.Create(ctx, second))

	gone, err := convs.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	assert.ErrorIs(t, convs.SoftDelete(ctx, first.ID, base), repository.ErrNotFound)
}

func TestCreateWithActivity(t *testing.T) {
	convs, msgs, users := setup(t)
	ctx := context.Background()
	ids := seedUsers(t, users, "ana", "bruno", "cleo")

	conv := newConversation(domain.ConversationPrivate, base, ids[0], ids[1])
	require.NoError(t, convs.Create(ctx, conv))

	sentAt := base.Add(10 * time.Minute)
	require.NoError(t, msgs.CreateWithActivity(ctx, newMessage(conv.ID, ids[0], sentAt)))

	got, err := convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(sentAt))
	sender := got.Participant(ids[0])
	require.NotNil(t, sender.LastReadAt)
	assert.True(t, sender.LastReadAt.Equal(sentAt))
	assert.Nil(t, got.Participant(ids[1]).LastReadAt)

	err = msgs.CreateWithActivity(ctx, newMessage(conv.ID, ids[2], sentAt.Add(time.Minute)))
	assert.ErrorIs(t, err, repository.ErrNotParticipant)

	thread, err := msgs.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Len(t, thread, 1)

	got, err = convs.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.True(t, got.UpdatedAt.Equal(sentAt), "failed send must not bump activity")
}

func TestMessageCursorPagination(t *testing.T) {
	convs, msgs, users := setup(t)
	ctx := context.Background()
	ids := seedUsers(t, users, "ana", "bruno")

	conv := newConversation(domain.ConversationGroup, base, ids...)
	require.NoError(t, convs.Create(ctx, conv))
	for i := 0; i < 7; i++ {
		require.NoError(t, msgs.CreateWithActivity(ctx, newMessage(conv.ID, ids[i%2], base.Add(time.Duration(i)*time.Second))))
	}

	all, err := msgs.ListByConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, all, 7)

	var seen []uuid.UUID
	var cursor *uuid.UUID
	for {
		page, err := msgs.ListByConversationBefore(ctx, conv.ID, cursor, 3)
		require.NoError(t, err)
		for _, m := range page {
			seen = append(seen, m.ID)
		}
		if len(page) < 3 {
			break
		}
		last := page[len(page)-1].ID
		cursor = &last
	}
	require.Len(t, seen, 7)
	for i := range seen {
		assert.Equal(t, all[len(all)-1-i].ID, seen[i])
	}

	bogus := uuid.New()
	_, err = msgs.ListByConversationBefore(ctx, conv.ID, &bogus, 3)
	assert.ErrorIs(t, err, repository.ErrCursorNotFound)
}

func TestListByUserAfterOrdersByActivity(t *testing.T) {
	convs, msgs, users := setup(t)
	ctx := context.Background()
	ids := seedUsers(t, users, "ana", "bruno", "cleo")

	older := newConversation(domain.ConversationPrivate, base, ids[0], ids[1])
	newer := newConversation(domain.ConversationPrivate, base.Add(time.Minute), ids[0], ids[2])
	require.NoError(t, convs.Create(ctx, older))
	require.NoError(t, convs.Create(ctx, newer))

	list, err := convs.ListByUser(ctx, ids[0])
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	require.NoError(t, msgs.CreateWithActivity(ctx, newMessage(older.ID, ids[1], base.Add(time.Hour))))

	page, err := convs.ListByUserAfter(ctx, ids[0], nil, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, older.ID, page[0].ID)

	rest, err := convs.ListByUserAfter(ctx, ids[0], &page[0].ID, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, newer.ID, rest[0].ID)

	// bruno is not in newer, so its id is no cursor for him
	_, err = convs.ListByUserAfter(ctx, ids[1], &newer.ID, 10)
	assert.ErrorIs(t, err, repository.ErrCursorNotFound)

	latest, err := msgs.LatestByConversations(ctx, []uuid.UUID{older.ID, newer.ID})
	require.NoError(t, err)
	assert.Contains(t, latest, older.ID)
	assert.NotContains(t, latest, newer.ID)
}

func TestMarkReadAndUnread(t *testing.T) {
	convs, msgs, users := setup(t)
	ctx := context.Background()
	ids := seedUsers(t, users, "ana", "bruno", "cleo")

	conv := newConversation(domain.ConversationPrivate, base, ids[0], ids[1])
	require.NoError(t, convs.Create(ctx, conv))
	first := newMessage(conv.ID, ids[0], base.Add(time.Minute))
	require.NoError(t, msgs.CreateWithActivity(ctx, first))

	n, err := msgs.CountUnread(ctx, conv.ID, ids[1], time.Unix(0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	delivered, err := msgs.MarkDelivered(ctx, conv.ID, ids[1])
	require.NoError(t, err)
	assert.EqualValues(t, 1, delivered)

	readAt, err := msgs.MarkRead(ctx, conv.ID, ids[1], base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.True(t, readAt.Equal(base.Add(2*time.Minute)))

	got, err := msgs.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.MessageRead, got.Status)

	n, err = msgs.CountUnread(ctx, conv.ID, ids[1], readAt)
	require.NoError(t, err)
	assert.Zero(t, n)

	// lastReadAt never moves backward
	again, err := msgs.MarkRead(ctx, conv.ID, ids[1], base)
	require.NoError(t, err)
	assert.True(t, again.Equal(readAt))

	_, err = msgs.MarkRead(ctx, conv.ID, ids[2], base)
	assert.ErrorIs(t, err, repository.ErrNotParticipant)
}

func TestMessageEditAndDelete(t *testing.T) {
	convs, msgs, users := setup(t)
	ctx := context.Background()
	ids := seedUsers(t, users, "ana", "bruno")

	conv := newConversation(domain.ConversationPrivate, base, ids...)
	require.NoError(t, convs.Create(ctx, conv))
	msg := newMessage(conv.ID, ids[0], base)
	require.NoError(t, msgs.CreateWithActivity(ctx, msg))

	require.NoError(t, msgs.UpdateBody(ctx, msg.ID, "other", base.Add(time.Minute)))
	got, err := msgs.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "other", got.Body)
	assert.Equal(t, "ana", got.Sender.Name)

	require.NoError(t, msgs.SoftDelete(ctx, msg.ID, base.Add(2*time.Minute)))
	got, err = msgs.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.ErrorIs(t, msgs.UpdateBody(ctx, msg.ID, "x", base), repository.ErrNotFound)
}
