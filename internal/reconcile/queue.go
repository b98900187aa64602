package reconcile

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/edulink-io/crm-bridge/pkg/db"
	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/enums"
)

// QueueRepository persists Grade Queue entries, the idempotency ledger of the
// reconciliation job.
type QueueRepository struct {
	db *gorm.DB
}

func NewQueueRepository(gdb *gorm.DB) *QueueRepository {
	return &QueueRepository{db: gdb}
}

// Get returns the entry for a key, or nil when none exists. Absence means the
// key has never been processed.
func (r *QueueRepository) Get(ctx context.Context, key GradeKey) (*models.GradeQueueEntry, error) {
	var entry models.GradeQueueEntry
	err := r.db.WithContext(ctx).
		Where("student_id = ? AND course_id = ? AND assignment_id = ?",
			key.StudentID, key.CourseID, key.AssignmentID).
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// MarkFCreated inserts a new F_CREATED entry. A concurrent or repeated insert
// for the same key surfaces as a unique violation, which callers treat as
// already-processed.
func (r *QueueRepository) MarkFCreated(ctx context.Context, key GradeKey, remoteRecordID *string) error {
	entry := models.GradeQueueEntry{
		ID:             uuid.New(),
		StudentID:      key.StudentID,
		CourseID:       key.CourseID,
		AssignmentID:   key.AssignmentID,
		Status:         enums.GradeQueueFCreated,
		RemoteRecordID: remoteRecordID,
	}
	err := r.db.WithContext(ctx).Create(&entry).Error
	if err != nil && db.IsUniqueViolation(err, "ux_grade_queue_composite") {
		return ErrAlreadyQueued
	}
	return err
}

// UpsertRRCreated moves a key to RR_CREATED, updating a Phase-1 row when one
// exists for the same composite key and inserting otherwise.
func (r *QueueRepository) UpsertRRCreated(ctx context.Context, key GradeKey, remoteRecordID *string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]any{"status": enums.GradeQueueRRCreated}
		if remoteRecordID != nil {
			updates["remote_record_id"] = *remoteRecordID
		}
		result := tx.Model(&models.GradeQueueEntry{}).
			Where("student_id = ? AND course_id = ? AND assignment_id = ?",
				key.StudentID, key.CourseID, key.AssignmentID).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected > 0 {
			return nil
		}
		entry := models.GradeQueueEntry{
			ID:             uuid.New(),
			StudentID:      key.StudentID,
			CourseID:       key.CourseID,
			AssignmentID:   key.AssignmentID,
			Status:         enums.GradeQueueRRCreated,
			RemoteRecordID: remoteRecordID,
		}
		return tx.Create(&entry).Error
	})
}

// ErrAlreadyQueued marks a key that already holds an entry.
var ErrAlreadyQueued = errors.New("grade queue entry already exists")
