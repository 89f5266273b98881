package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/buildmat/buildmat/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TaskDeliveryStatusSweep re-derives every delivery status from its items.
const TaskDeliveryStatusSweep = "delivery:status_sweep"

// StatusSweepPayload carries scheduling metadata.
type StatusSweepPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewStatusSweepTask constructs an Asynq task for the status sweep.
func NewStatusSweepTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskDeliveryStatusSweep, StatusSweepPayload{ScheduledFor: at})
}

// DeliverySweeper recomputes persisted delivery statuses.
type DeliverySweeper interface {
	SweepStatuses(ctx context.Context) (int, error)
}

// StatusSweepJob repairs status drift between delivery rows and their item
// checklists. Statuses are normally maintained transactionally on every
// reconciliation; the sweep exists so manual data fixes cannot leave a row
// stuck outside the goods-received projection.
type StatusSweepJob struct {
	Deliveries DeliverySweeper
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewStatusSweepJob wires dependencies for the sweep handler.
func NewStatusSweepJob(deliveries DeliverySweeper, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusSweepJob {
	return &StatusSweepJob{Deliveries: deliveries, Logger: logger, Metrics: metrics}
}

// Handle processes status sweep tasks.
func (j *StatusSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Deliveries == nil {
		return errors.New("status sweep: handler not configured")
	}
	var payload StatusSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskDeliveryStatusSweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	fixed, err := j.Deliveries.SweepStatuses(ctx)
	if err != nil {
		resultErr = err
		j.logger().Error("status sweep", slog.Any("error", err), slog.Int("repaired", fixed))
		return resultErr
	}
	j.metrics().AddRepairs(fixed)
	j.logger().Info("completed status sweep", slog.Int("repaired", fixed), slog.Duration("duration", time.Since(start)))
	return resultErr
}

func (j *StatusSweepJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskDeliveryStatusSweep))
	}
	return slog.Default().With(slog.String("job", TaskDeliveryStatusSweep))
}

func (j *StatusSweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
