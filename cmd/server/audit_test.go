package main

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vedran77/huddle/internal/audit"
	"github.com/vedran77/huddle/internal/config"
)

func TestStopAuditFlushesQueuedRecords(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	dispatcher, stop := startAudit(&config.Config{}, zap.New(core))

	for i := 0; i < 3; i++ {
		dispatcher.Record(audit.New(audit.EntityMessage, uuid.New(), uuid.New(), audit.ActionCreate, nil, nil, time.Now()))
	}
	stop()
	stop()

	assert.Equal(t, 3, logs.FilterMessage("audit").Len())
}
