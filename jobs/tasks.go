package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskBatchPost posts a set of documents in the background.
	TaskBatchPost = "posting:batch"
	// TaskAuditSeal marks audit entries past the cooling period immutable.
	TaskAuditSeal = "audit:seal"
	// TaskLedgerIntegrity recomputes account balances from the ledger and
	// flags drift against the cached balances.
	TaskLedgerIntegrity = "ledger:integrity"
)

// BatchPostPayload identifies the documents to post and who asked.
type BatchPostPayload struct {
	OrgID       int64   `json:"org_id"`
	DocumentIDs []int64 `json:"document_ids"`
	ActorID     int64   `json:"actor_id"`
}

// NewBatchPostTask constructs an Asynq task for background batch posting.
func NewBatchPostTask(payload BatchPostPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBatchPost, body, asynq.Queue(QueueDefault)), nil
}

// AuditSealPayload carries scheduling metadata for the sealing run.
type AuditSealPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAuditSealTask constructs an Asynq task for audit sealing.
func NewAuditSealTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(AuditSealPayload{ScheduledFor: at})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAuditSeal, body, asynq.Queue(QueueDefault)), nil
}

// LedgerIntegrityPayload scopes the integrity sweep.
type LedgerIntegrityPayload struct {
	OrgID int64 `json:"org_id"` // zero sweeps all organizations
}

// NewLedgerIntegrityTask constructs an Asynq task for the integrity sweep.
func NewLedgerIntegrityTask(orgID int64) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerIntegrityPayload{OrgID: orgID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerIntegrity, body, asynq.Queue(QueueDefault)), nil
}
