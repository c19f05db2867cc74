package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/huddle/internal/audit"
	"github.com/vedran77/huddle/internal/domain"
	"go.uber.org/zap"
)

// Cipher encrypts message text just before it is persisted and decrypts it
// just after it is fetched.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(token string) (string, error)
}

// Notifier broadcasts real-time events to connected clients. Calls happen
// after the write has committed and must not block.
type Notifier interface {
	NotifyNewMessage(conv *domain.Conversation, msg *domain.Message)
	NotifyEditedMessage(msg *domain.Message)
	NotifyDeletedMessage(conversationID, messageID uuid.UUID)
	NotifyRead(receipt domain.ReadReceipt)
}

// Auditor accepts audit records without blocking.
type Auditor interface {
	Record(r audit.Record)
}

// Background runs best-effort side effects after the caller has its
// response. Failures are logged and otherwise dropped.
type Background struct {
	wg      sync.WaitGroup
	timeout time.Duration
	log     *zap.Logger
}

func NewBackground(timeout time.Duration, log *zap.Logger) *Background {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Background{timeout: timeout, log: log}
}

func (b *Background) Go(task string, fn func(ctx context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			b.log.Warn("best-effort task failed", zap.String("task", task), zap.Error(err))
		}
	}()
}

// Wait blocks until every task started so far has finished.
func (b *Background) Wait() {
	b.wg.Wait()
}

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
