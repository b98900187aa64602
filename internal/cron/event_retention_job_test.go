package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/edulink-io/crm-bridge/pkg/logger"
)

type fakeEventRetentionRepo struct {
	lastCutoff time.Time
	called     int
	err        error
}

func (f *fakeEventRetentionRepo) DeleteSentBefore(_ context.Context, _ *gorm.DB, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	if f.err != nil {
		return 0, f.err
	}
	return 4, nil
}

type retentionTxRunner struct{}

func (retentionTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func newEventRetentionJob(t *testing.T, repo *fakeEventRetentionRepo) *eventRetentionJob {
	t.Helper()
	jobIface, err := NewEventRetentionJob(EventRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard}),
		DB:         retentionTxRunner{},
		Repository: repo,
	})
	if err != nil {
		t.Fatalf("NewEventRetentionJob: %v", err)
	}
	job, ok := jobIface.(*eventRetentionJob)
	if !ok {
		t.Fatalf("expected eventRetentionJob, got %T", jobIface)
	}
	return job
}

func TestEventRetentionJobSweepsWithDefaultHorizon(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo := &fakeEventRetentionRepo{}
	job := newEventRetentionJob(t, repo)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	expectedCutoff := now.Add(-eventRetentionDays * 24 * time.Hour)
	if !repo.lastCutoff.Equal(expectedCutoff) {
		t.Fatalf("expected cutoff %s, got %s", expectedCutoff, repo.lastCutoff)
	}
	if repo.called != 1 {
		t.Fatalf("expected one sweep, got %d", repo.called)
	}
}

func TestEventRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeEventRetentionRepo{err: errors.New("boom")}
	job := newEventRetentionJob(t, repo)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
