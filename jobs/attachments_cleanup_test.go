package jobs

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/buildmat/buildmat/internal/jobs"
)

type fakeStore struct {
	objects map[string]struct{}
}

func (s *fakeStore) ListKeys(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *fakeStore) Remove(_ context.Context, key string) error {
	delete(s.objects, key)
	return nil
}

type fakeKeySource []string

func (s fakeKeySource) AttachmentKeys(_ context.Context) ([]string, error) {
	return s, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestAttachmentsCleanupRemovesOnlyOrphans(t *testing.T) {
	store := &fakeStore{objects: map[string]struct{}{
		"intent/1/a.pdf":   {},
		"intent/1/b.pdf":   {},
		"transfer/4/c.pdf": {},
		"delivery/9/d.pdf": {},
	}}
	sources := []KeySource{
		fakeKeySource{"intent/1/a.pdf"},
		fakeKeySource{"delivery/9/d.pdf"},
	}
	job := NewAttachmentsCleanupJob(store, sources, []string{"intent/", "transfer/", "delivery/"}, testLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewAttachmentsCleanupTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Contains(t, store.objects, "intent/1/a.pdf")
	require.Contains(t, store.objects, "delivery/9/d.pdf")
	require.NotContains(t, store.objects, "intent/1/b.pdf")
	require.NotContains(t, store.objects, "transfer/4/c.pdf")
}

type fakeSweeper struct {
	fixed int
	calls int
}

func (s *fakeSweeper) SweepStatuses(_ context.Context) (int, error) {
	s.calls++
	return s.fixed, nil
}

func TestStatusSweepHandle(t *testing.T) {
	sweeper := &fakeSweeper{fixed: 3}
	job := NewStatusSweepJob(sweeper, testLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))

	task, err := NewStatusSweepTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, sweeper.calls)
}
