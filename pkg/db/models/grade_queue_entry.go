package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/edulink-io/crm-bridge/pkg/enums"
)

// GradeQueueEntry is the idempotency and audit record for one
// (student, course, assignment) reconciliation outcome. At most one row exists
// per composite key; the unique index is the durable fence preventing
// duplicate synthesized grades across job runs.
type GradeQueueEntry struct {
	ID             uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	StudentID      int64                  `gorm:"column:student_id;not null;uniqueIndex:ux_grade_queue_composite"`
	CourseID       int64                  `gorm:"column:course_id;not null;uniqueIndex:ux_grade_queue_composite"`
	AssignmentID   int64                  `gorm:"column:assignment_id;not null;uniqueIndex:ux_grade_queue_composite"`
	Status         enums.GradeQueueStatus `gorm:"column:status;not null"`
	RemoteRecordID *string                `gorm:"column:remote_record_id"`
	CreatedAt      time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName keeps the historical table name.
func (GradeQueueEntry) TableName() string { return "grade_queue_entries" }
