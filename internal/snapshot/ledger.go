package snapshot

import (
	"context"
	"time"

	"research-agent/internal/common/database"
)

const ledgerKeyPrefix = "snapshot:job:"

// RedisLedger keeps a short-lived record of extraction jobs for operators.
// It stores job state only, never downloaded content.
type RedisLedger struct {
	redis *database.RedisClient
	ttl   time.Duration
}

func NewRedisLedger(redis *database.RedisClient, ttl time.Duration) *RedisLedger {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisLedger{redis: redis, ttl: ttl}
}

func (l *RedisLedger) Record(ctx context.Context, job Job) error {
	return l.redis.HSetWithTTL(ctx, LedgerKey(job.ID), map[string]interface{}{
		"status":     string(job.Status),
		"operation":  job.Operation,
		"checks":     job.Checks,
		"created_at": job.CreatedAt.Format(time.RFC3339Nano),
		"updated_at": job.UpdatedAt.Format(time.RFC3339Nano),
	}, l.ttl)
}

// Lookup returns the recorded fields for a job id.
func (l *RedisLedger) Lookup(ctx context.Context, jobID string) (map[string]string, error) {
	return l.redis.HGetAll(ctx, LedgerKey(jobID))
}

func LedgerKey(jobID string) string {
	return ledgerKeyPrefix + jobID
}
