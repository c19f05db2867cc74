package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes records as JSON keyed by entity id, so every change
// to one entity lands on the same partition.
type KafkaSink struct {
	writer messageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}
}

func (s *KafkaSink) Write(ctx context.Context, r Record) error {
	value, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "kafkaSink.Marshal")
	}
	msg := kafka.Message{Key: []byte(r.EntityID.String()), Value: value, Time: time.Now()}
	return errors.Wrap(s.writer.WriteMessages(ctx, msg), "kafkaSink.WriteMessages")
}

func (s *KafkaSink) Close() error { return s.writer.Close() }

// LogSink is used when no broker is configured.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Write(_ context.Context, r Record) error {
	s.log.Info("audit",
		zap.String("entity_kind", string(r.EntityKind)),
		zap.String("entity_id", r.EntityID.String()),
		zap.String("actor_id", r.ActorID.String()),
		zap.String("action", string(r.Action)),
		zap.Any("before", r.Before),
		zap.Any("after", r.After),
	)
	return nil
}
