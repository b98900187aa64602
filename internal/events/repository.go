package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/enums"
)

// retryCandidatePageSize bounds a single candidate scan to keep batch latency
// predictable.
const retryCandidatePageSize = 100

var ErrNotFound = errors.New("event not found")

// Repository is the event store: the single durable record of delivery intent.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create persists a new pending event. The caller mints the ID; the write must
// land before any network activity so a crash mid-send loses nothing.
func (r *Repository) Create(ctx context.Context, event models.CRMEvent) error {
	if event.ID == uuid.Nil {
		return errors.New("event id is required")
	}
	if !event.EventType.IsValid() {
		return fmt.Errorf("invalid event type %q", event.EventType)
	}
	if event.Status == "" {
		event.Status = enums.EventStatusPending
	}
	return r.db.WithContext(ctx).Create(&event).Error
}

// Get returns a single event by ID.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*models.CRMEvent, error) {
	var event models.CRMEvent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&event).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &event, nil
}

// MarkSent records a successful delivery. Sent is terminal: next_retry_at is
// cleared and the last error wiped.
func (r *Repository) MarkSent(ctx context.Context, id uuid.UUID, httpStatus int, action *enums.EventAction) error {
	updates := map[string]any{
		"status":        enums.EventStatusSent,
		"http_status":   httpStatus,
		"next_retry_at": nil,
		"last_error":    nil,
	}
	if action != nil {
		updates["action"] = *action
	}
	return r.updateByID(ctx, id, updates)
}

// MarkFailed records a delivery failure, increments the retry counter, and
// schedules the next attempt. status must be a retryable status (failed for a
// first attempt, retrying for redeliveries).
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, status enums.EventStatus, httpStatus *int, sendErr error, nextRetryAt time.Time) error {
	if !status.Retryable() {
		return fmt.Errorf("status %q is not a failure status", status)
	}
	updates := map[string]any{
		"status":        status,
		"retry_count":   gorm.Expr("retry_count + 1"),
		"next_retry_at": nextRetryAt.UTC(),
	}
	if httpStatus != nil {
		updates["http_status"] = *httpStatus
	}
	if sendErr != nil {
		updates["last_error"] = sendErr.Error()
	}
	return r.updateByID(ctx, id, updates)
}

// ListRetryCandidates returns events eligible for another delivery attempt:
// retryable status, retry budget remaining, and either no schedule or a
// schedule that has come due. Oldest first, capped at the page size. This
// predicate is the sole gate against retry storms.
func (r *Repository) ListRetryCandidates(ctx context.Context, maxRetries int, now time.Time, limit int) ([]models.CRMEvent, error) {
	if limit <= 0 || limit > retryCandidatePageSize {
		limit = retryCandidatePageSize
	}
	var rows []models.CRMEvent
	err := r.db.WithContext(ctx).
		Where("status IN ?", []enums.EventStatus{enums.EventStatusFailed, enums.EventStatusRetrying}).
		Where("retry_count < ?", maxRetries).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now.UTC()).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ListByStatus pages through events in a given status, newest first. Serves
// the operational API.
func (r *Repository) ListByStatus(ctx context.Context, status enums.EventStatus, limit, offset int) ([]models.CRMEvent, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("invalid event status %q", status)
	}
	if limit <= 0 || limit > retryCandidatePageSize {
		limit = retryCandidatePageSize
	}
	var rows []models.CRMEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}

// ResetForManualRetry puts an exhausted event back into the retry cycle:
// retry_count zeroed, schedule cleared so the next candidate scan picks it up.
func (r *Repository) ResetForManualRetry(ctx context.Context, id uuid.UUID) error {
	return r.updateByID(ctx, id, map[string]any{
		"status":        enums.EventStatusRetrying,
		"retry_count":   0,
		"next_retry_at": nil,
		"last_error":    nil,
	})
}

// DeleteSentBefore removes terminal sent rows older than the cutoff. Only
// sent rows are swept; failures stay visible for manual inspection.
func (r *Repository) DeleteSentBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	conn := tx
	if conn == nil {
		conn = r.db
	}
	result := conn.WithContext(ctx).
		Where("status = ?", enums.EventStatusSent).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.CRMEvent{})
	return result.RowsAffected, result.Error
}

func (r *Repository) updateByID(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	result := r.db.WithContext(ctx).
		Model(&models.CRMEvent{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
