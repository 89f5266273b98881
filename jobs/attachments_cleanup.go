package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/buildmat/buildmat/internal/jobs"
)

// TaskAttachmentsCleanup removes stored objects no attachment row references.
const TaskAttachmentsCleanup = "attachments:cleanup"

// AttachmentsCleanupPayload carries scheduling metadata.
type AttachmentsCleanupPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewAttachmentsCleanupTask constructs an Asynq task for the orphan sweep.
func NewAttachmentsCleanupTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskAttachmentsCleanup, AttachmentsCleanupPayload{ScheduledFor: at})
}

// ObjectStore lists and removes stored attachment objects.
type ObjectStore interface {
	ListKeys(ctx context.Context, prefix string) ([]string, error)
	Remove(ctx context.Context, key string) error
}

// KeySource reports the object keys a domain still references.
type KeySource interface {
	AttachmentKeys(ctx context.Context) ([]string, error)
}

// AttachmentsCleanupJob deletes objects that survive in storage after their
// attachment row is gone. Row deletion commits before the object delete, so
// a crash or a storage outage in that window leaves an orphan behind; this
// job is the matching cleanup pass.
type AttachmentsCleanupJob struct {
	Store    ObjectStore
	Sources  []KeySource
	Prefixes []string
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewAttachmentsCleanupJob wires dependencies for the cleanup handler. One
// prefix per attachment-owning domain, e.g. "intent/", "transfer/",
// "delivery/".
func NewAttachmentsCleanupJob(store ObjectStore, sources []KeySource, prefixes []string, logger *slog.Logger, metrics *jobmetrics.Metrics) *AttachmentsCleanupJob {
	return &AttachmentsCleanupJob{Store: store, Sources: sources, Prefixes: prefixes, Logger: logger, Metrics: metrics}
}

// Handle processes attachment cleanup tasks.
func (j *AttachmentsCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Store == nil {
		return errors.New("attachments cleanup: handler not configured")
	}
	var payload AttachmentsCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAttachmentsCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	referenced := make(map[string]struct{})
	for _, src := range j.Sources {
		keys, err := src.AttachmentKeys(ctx)
		if err != nil {
			resultErr = err
			j.logger().Error("load referenced keys", slog.Any("error", err))
			return resultErr
		}
		for _, key := range keys {
			referenced[key] = struct{}{}
		}
	}

	var stored []string
	for _, prefix := range j.Prefixes {
		keys, err := j.Store.ListKeys(ctx, prefix)
		if err != nil {
			resultErr = err
			j.logger().Error("list stored objects", slog.String("prefix", prefix), slog.Any("error", err))
			return resultErr
		}
		stored = append(stored, keys...)
	}

	removed := 0
	for _, key := range orphanKeys(referenced, stored) {
		if err := j.Store.Remove(ctx, key); err != nil {
			resultErr = err
			j.logger().Error("remove orphan", slog.String("key", key), slog.Any("error", err))
			return resultErr
		}
		removed++
	}

	j.metrics().AddOrphans(removed)
	j.logger().Info("completed attachments cleanup",
		slog.Int("referenced", len(referenced)),
		slog.Int("stored", len(stored)),
		slog.Int("removed", removed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

// orphanKeys returns stored keys with no referencing row, sorted for stable
// log output.
func orphanKeys(referenced map[string]struct{}, stored []string) []string {
	var orphans []string
	for _, key := range stored {
		if _, ok := referenced[key]; !ok {
			orphans = append(orphans, key)
		}
	}
	sort.Strings(orphans)
	return orphans
}

func (j *AttachmentsCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAttachmentsCleanup))
	}
	return slog.Default().With(slog.String("job", TaskAttachmentsCleanup))
}

func (j *AttachmentsCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
