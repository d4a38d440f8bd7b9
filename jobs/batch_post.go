package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/batch"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// BatchPostJob runs queued batch postings through the batch worker.
type BatchPostJob struct {
	Worker  *batch.Worker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewBatchPostJob initialises the batch posting handler.
func NewBatchPostJob(worker *batch.Worker, logger *slog.Logger, metrics *jobmetrics.Metrics) *BatchPostJob {
	return &BatchPostJob{Worker: worker, Logger: logger, Metrics: metrics}
}

// Handle executes one queued batch. Item failures are part of the summary,
// not task failures; the task only fails when the payload is unusable.
func (j *BatchPostJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Worker == nil {
		return errors.New("batch post: handler not configured")
	}
	var payload BatchPostPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.OrgID == 0 || len(payload.DocumentIDs) == 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskBatchPost)
	actor := shared.Actor{ID: payload.ActorID, OrgID: payload.OrgID}
	summary := j.Worker.Run(ctx, payload.OrgID, payload.DocumentIDs, actor)
	j.metrics().AddPosted("succeeded", summary.Succeeded)
	j.metrics().AddPosted("failed", len(summary.Failed))

	logger := j.logger().With(
		slog.Int64("org_id", payload.OrgID),
		slog.Int("documents", len(payload.DocumentIDs)),
	)
	for _, failure := range summary.Failed {
		logger.Warn("batch item failed",
			slog.Int64("document_id", failure.DocumentID),
			slog.String("reason", failure.Reason),
		)
	}
	logger.Info("batch posting task finished",
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", len(summary.Failed)),
	)
	return tracker.End(nil)
}

func (j *BatchPostJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}

func (j *BatchPostJob) metrics() *jobmetrics.Metrics {
	return j.Metrics
}
