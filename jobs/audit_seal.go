package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/audit"
	jobmetrics "github.com/meridian-erp/meridian-erp/internal/jobs"
)

// AuditSealJob marks audit entries older than the cooling period immutable.
type AuditSealJob struct {
	Service       *audit.Service
	CoolingPeriod time.Duration
	BatchSize     int
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// NewAuditSealJob initialises the sealing handler.
func NewAuditSealJob(service *audit.Service, coolingPeriod time.Duration, batchSize int, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditSealJob {
	return &AuditSealJob{
		Service:       service,
		CoolingPeriod: coolingPeriod,
		BatchSize:     batchSize,
		Logger:        logger,
		Metrics:       metrics,
	}
}

// Handle runs one sealing sweep. A tampered entry fails the task loudly;
// sealing must never bless a broken chain.
func (j *AuditSealJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("audit seal: handler not configured")
	}
	var payload AuditSealPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskAuditSeal)
	result, err := j.Service.Seal(ctx, j.CoolingPeriod, j.BatchSize)
	if err != nil {
		j.logger().Error("audit sealing failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Metrics.AddSealed(result.Sealed)
	j.logger().Info("audit sealing finished",
		slog.Int("sealed", result.Sealed),
		slog.Int("skipped", result.Skipped),
	)
	return tracker.End(nil)
}

func (j *AuditSealJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
