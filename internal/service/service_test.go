package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/huddle/internal/audit"
	"github.com/vedran77/huddle/internal/crypto"
	"github.com/vedran77/huddle/internal/domain"
	"github.com/vedran77/huddle/internal/repository/memory"
	"go.uber.org/zap"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu       sync.Mutex
	sent     []domain.Message
	edited   []domain.Message
	deleted  []uuid.UUID
	receipts []domain.ReadReceipt
}

func (n *recordingNotifier) NotifyNewMessage(_ *domain.Conversation, msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, *msg)
}

func (n *recordingNotifier) NotifyEditedMessage(msg *domain.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.edited = append(n.edited, *msg)
}

func (n *recordingNotifier) NotifyDeletedMessage(_, messageID uuid.UUID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deleted = append(n.deleted, messageID)
}

func (n *recordingNotifier) NotifyRead(r domain.ReadReceipt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receipts = append(n.receipts, r)
}

type recordingAuditor struct {
	mu      sync.Mutex
	records []audit.Record
}

func (a *recordingAuditor) Record(r audit.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, r)
}

type fixture struct {
	store    *memory.Store
	convs    *ConversationService
	msgs     *MessageService
	bg       *Background
	clock    *clock
	notifier *recordingNotifier
	auditor  *recordingAuditor

	a, b, c uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	cipher, err := crypto.New(crypto.Config{Key: "service-test-secret"})
	require.NoError(t, err)

	store := memory.NewStore()
	f := &fixture{
		store:    store,
		bg:       NewBackground(time.Second, zap.NewNop()),
		clock:    &clock{t: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)},
		notifier: &recordingNotifier{},
		auditor:  &recordingAuditor{},
		a:        uuid.New(),
		b:        uuid.New(),
		c:        uuid.New(),
	}
	store.AddUser(domain.UserProfile{ID: f.a, Name: "Ana"})
	store.AddUser(domain.UserProfile{ID: f.b, Name: "Bruno"})
	store.AddUser(domain.UserProfile{ID: f.c, Name: "Cleo"})

	f.convs = NewConversationService(store.Conversations(), store.Messages(), store.Users(), cipher, f.bg, zap.NewNop())
	f.convs.now = f.clock.now
	f.convs.SetAuditor(f.auditor)

	f.msgs = NewMessageService(store.Conversations(), store.Messages(), cipher, f.bg, zap.NewNop())
	f.msgs.now = f.clock.now
	f.msgs.SetNotifier(f.notifier)
	f.msgs.SetAuditor(f.auditor)

	t.Cleanup(f.bg.Wait)
	return f
}

func (f *fixture) private(t *testing.T, from, to uuid.UUID) *domain.Conversation {
	t.Helper()
	conv, _, err := f.convs.Create(context.Background(), from, CreateConversationInput{
		Type:           domain.ConversationPrivate,
		ParticipantIDs: []uuid.UUID{to},
	})
	require.NoError(t, err)
	return conv
}

func (f *fixture) group(t *testing.T, from uuid.UUID, others ...uuid.UUID) *domain.Conversation {
	t.Helper()
	name := "team"
	conv, _, err := f.convs.Create(context.Background(), from, CreateConversationInput{
		Type:           domain.ConversationGroup,
		ParticipantIDs: others,
		Name:           &name,
	})
	require.NoError(t, err)
	return conv
}

func (f *fixture) send(t *testing.T, from uuid.UUID, convID uuid.UUID, text string) *domain.Message {
	t.Helper()
	msg, err := f.msgs.Send(context.Background(), from, SendMessageInput{ConversationID: convID, Message: text})
	require.NoError(t, err)
	return msg
}
