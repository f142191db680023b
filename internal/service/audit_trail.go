package service

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/utldo-dev/im-review-api/internal/models"
	"github.com/utldo-dev/im-review-api/pkg/jobs"
)

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// AuditTrail writes audit records through a background queue so request
// handlers never wait on the audit table. Entries survive transient database
// errors via the queue's retry policy; when the queue is not running the
// write falls through synchronously.
type AuditTrail struct {
	store  auditLogger
	queue  *jobs.Queue
	logger *zap.Logger
	seq    atomic.Uint64
}

// NewAuditTrail constructs the trail around the persistent store.
func NewAuditTrail(store auditLogger, logger *zap.Logger) *AuditTrail {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &AuditTrail{store: store, logger: logger}
	t.queue = jobs.NewQueue("audit", t.handle, jobs.QueueConfig{
		Workers: 1,
		Logger:  logger,
	})
	return t
}

// Start launches the queue workers.
func (t *AuditTrail) Start(ctx context.Context) {
	t.queue.Start(ctx)
}

// Stop drains the workers. Entries still buffered at shutdown are reported;
// they were accepted but never reached the audit table.
func (t *AuditTrail) Stop() {
	if depth := t.queue.Depth(); depth > 0 {
		t.logger.Warn("stopping audit trail with buffered entries", zap.Int("pending", depth))
	}
	t.queue.Stop()
}

// CreateAuditLog enqueues the record, satisfying the same interface as the
// direct store so services need not know which one they hold.
func (t *AuditTrail) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	job := jobs.Job{
		ID:      fmt.Sprintf("audit-%d", t.seq.Add(1)),
		Type:    "audit_log",
		Payload: log,
	}
	if err := t.queue.Enqueue(job); err != nil {
		return t.store.CreateAuditLog(ctx, log)
	}
	return nil
}

func (t *AuditTrail) handle(ctx context.Context, job jobs.Job) error {
	log, ok := job.Payload.(*models.AuditLog)
	if !ok {
		t.logger.Warn("dropping audit job with unexpected payload", zap.String("job_id", job.ID))
		return nil
	}
	return t.store.CreateAuditLog(ctx, log)
}
