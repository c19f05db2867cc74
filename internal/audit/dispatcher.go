package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type Sink interface {
	Write(ctx context.Context, r Record) error
}

// Dispatcher queues records and writes them to a sink from a single
// goroutine. Record never blocks: when the queue is full the record is
// dropped and logged.
type Dispatcher struct {
	sink    Sink
	queue   chan Record
	timeout time.Duration
	log     *zap.Logger
}

func NewDispatcher(sink Sink, size int, log *zap.Logger) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		sink:    sink,
		queue:   make(chan Record, size),
		timeout: 5 * time.Second,
		log:     log,
	}
}

func (d *Dispatcher) Record(r Record) {
	select {
	case d.queue <- r:
	default:
		d.log.Warn("audit queue full, dropping record",
			zap.String("entity_kind", string(r.EntityKind)),
			zap.String("entity_id", r.EntityID.String()),
			zap.String("action", string(r.Action)),
		)
	}
}

// Run writes queued records until ctx is done, then flushes what is left.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case r := <-d.queue:
			d.write(r)
		case <-ctx.Done():
			d.drain()
			return nil
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case r := <-d.queue:
			d.write(r)
		default:
			return
		}
	}
}

func (d *Dispatcher) write(r Record) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Write(ctx, r); err != nil {
		d.log.Warn("audit write failed",
			zap.String("entity_kind", string(r.EntityKind)),
			zap.String("entity_id", r.EntityID.String()),
			zap.Error(err),
		)
	}
}
