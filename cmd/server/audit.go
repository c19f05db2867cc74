package main

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/vedran77/huddle/internal/audit"
	"github.com/vedran77/huddle/internal/config"
)

// startAudit runs the dispatcher on its own context so records from
// in-flight requests are flushed after the server stops. stop drains the
// queue, closes the sink and is safe to call more than once.
func startAudit(cfg *config.Config, log *zap.Logger) (dispatcher *audit.Dispatcher, stop func()) {
	var sink audit.Sink = audit.NewLogSink(log)
	closeSink := func() {}
	if cfg.Kafka.Enabled {
		kafkaSink := audit.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		sink = kafkaSink
		closeSink = func() {
			if err := kafkaSink.Close(); err != nil {
				log.Warn("closing kafka audit sink", zap.Error(err))
			}
		}
		log.Info("audit records go to kafka", zap.Strings("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.AuditTopic))
	}

	dispatcher = audit.NewDispatcher(sink, auditBuffer, log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = dispatcher.Run(ctx)
	}()

	var once sync.Once
	return dispatcher, func() {
		once.Do(func() {
			cancel()
			<-done
			closeSink()
		})
	}
}
