package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/edulink-io/crm-bridge/pkg/logger"
)

const eventRetentionDays = 30

// txRunner executes a function inside a database transaction.
type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventRetentionRepo interface {
	DeleteSentBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// EventRetentionJobParams configure the sent-event sweep.
type EventRetentionJobParams struct {
	Logger     *logger.Logger
	DB         txRunner
	Repository eventRetentionRepo
	Retention  int
}

// NewEventRetentionJob builds the job that deletes sent events older than the
// retention horizon. Failed events are never swept; they stay visible for
// manual inspection.
func NewEventRetentionJob(params EventRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("event repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = eventRetentionDays
	}
	return &eventRetentionJob{
		logg:      params.Logger,
		db:        params.DB,
		repo:      params.Repository,
		retention: retention,
		now:       time.Now,
	}, nil
}

type eventRetentionJob struct {
	logg      *logger.Logger
	db        txRunner
	repo      eventRetentionRepo
	retention int
	now       func() time.Time
}

func (j *eventRetentionJob) Name() string { return "event-retention" }

func (j *eventRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-time.Duration(j.retention) * 24 * time.Hour)
	var deleted int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeleteSentBefore(ctx, tx, cutoff)
		if err != nil {
			return err
		}
		deleted = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("event retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"retention_days": j.retention,
		"rows_deleted":   deleted,
	})
	j.logg.Info(logCtx, "event retention cleanup complete")
	return nil
}
