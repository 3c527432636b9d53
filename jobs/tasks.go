package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSafeChainAudit replays safe ledgers and halts any safe whose chain is broken.
	TaskSafeChainAudit = "safe:chain_audit"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// ChainAuditPayload scopes a chain audit. StationID zero audits every safe.
type ChainAuditPayload struct {
	StationID int64 `json:"station_id"`
}

// NewChainAuditTask constructs an Asynq task auditing one station, or all when stationID is zero.
func NewChainAuditTask(stationID int64) (*asynq.Task, error) {
	data, err := json.Marshal(ChainAuditPayload{StationID: stationID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSafeChainAudit, data, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}

// IdempotencyCleanupPayload configures how long processed keys are retained.
type IdempotencyCleanupPayload struct {
	Retention string `json:"retention"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	data, err := json.Marshal(IdempotencyCleanupPayload{Retention: retention.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, data, asynq.Queue(QueueDefault)), nil
}
