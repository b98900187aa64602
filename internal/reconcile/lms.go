package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Assignment is the read-side view of one gradable assignment.
type Assignment struct {
	ID                 int64
	CourseID           int64
	Name               string
	DueDate            time.Time
	AllowsResubmission bool
}

// LMSReader is the read-only view of host grading state the reconciliation
// job scans. All methods are pure reads.
type LMSReader interface {
	ListPastDueAssignments(ctx context.Context, now time.Time) ([]Assignment, error)
	ListEnrolledStudents(ctx context.Context, courseID int64) ([]int64, error)
	HasSubmission(ctx context.Context, assignmentID, studentID int64) (bool, error)
	HasGrade(ctx context.Context, assignmentID, studentID int64) (bool, error)
	AttemptGrade(ctx context.Context, assignmentID, studentID int64, attempt int) (AttemptGrade, error)
}

// notGradedSentinel is how the host marks an attempt row that exists but has
// not been graded yet.
var notGradedSentinel = decimal.NewFromInt(-1)

type lmsAssignmentRow struct {
	ID                 int64     `gorm:"column:id"`
	CourseID           int64     `gorm:"column:course_id"`
	Name               string    `gorm:"column:name"`
	DueDate            time.Time `gorm:"column:due_date"`
	AllowsResubmission bool      `gorm:"column:allows_resubmission"`
}

func (lmsAssignmentRow) TableName() string { return "lms_assignments" }

type lmsEnrollmentRow struct {
	StudentID int64 `gorm:"column:student_id"`
	CourseID  int64 `gorm:"column:course_id"`
}

func (lmsEnrollmentRow) TableName() string { return "lms_enrollments" }

type lmsSubmissionRow struct {
	AssignmentID int64 `gorm:"column:assignment_id"`
	StudentID    int64 `gorm:"column:student_id"`
}

func (lmsSubmissionRow) TableName() string { return "lms_submissions" }

type lmsAttemptGradeRow struct {
	AssignmentID int64           `gorm:"column:assignment_id"`
	StudentID    int64           `gorm:"column:student_id"`
	Attempt      int             `gorm:"column:attempt"`
	Grade        decimal.Decimal `gorm:"column:grade;type:numeric"`
}

func (lmsAttemptGradeRow) TableName() string { return "lms_attempt_grades" }

// GormLMSReader reads the host platform's grading views.
type GormLMSReader struct {
	db *gorm.DB
}

func NewGormLMSReader(gdb *gorm.DB) *GormLMSReader {
	return &GormLMSReader{db: gdb}
}

func (r *GormLMSReader) ListPastDueAssignments(ctx context.Context, now time.Time) ([]Assignment, error) {
	var rows []lmsAssignmentRow
	err := r.db.WithContext(ctx).
		Where("due_date < ?", now.UTC()).
		Order("due_date ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	assignments := make([]Assignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, Assignment{
			ID:                 row.ID,
			CourseID:           row.CourseID,
			Name:               row.Name,
			DueDate:            row.DueDate,
			AllowsResubmission: row.AllowsResubmission,
		})
	}
	return assignments, nil
}

func (r *GormLMSReader) ListEnrolledStudents(ctx context.Context, courseID int64) ([]int64, error) {
	var ids []int64
	err := r.db.WithContext(ctx).
		Model(&lmsEnrollmentRow{}).
		Where("course_id = ?", courseID).
		Order("student_id ASC").
		Pluck("student_id", &ids).Error
	return ids, err
}

func (r *GormLMSReader) HasSubmission(ctx context.Context, assignmentID, studentID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&lmsSubmissionRow{}).
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		Count(&count).Error
	return count > 0, err
}

func (r *GormLMSReader) HasGrade(ctx context.Context, assignmentID, studentID int64) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&lmsAttemptGradeRow{}).
		Where("assignment_id = ? AND student_id = ?", assignmentID, studentID).
		Where("grade <> ?", notGradedSentinel).
		Count(&count).Error
	return count > 0, err
}

// AttemptGrade returns the grade state of one attempt, folding both host
// encodings of "not graded" (sentinel grade, missing row) into the explicit
// union.
func (r *GormLMSReader) AttemptGrade(ctx context.Context, assignmentID, studentID int64, attempt int) (AttemptGrade, error) {
	var row lmsAttemptGradeRow
	err := r.db.WithContext(ctx).
		Where("assignment_id = ? AND student_id = ? AND attempt = ?", assignmentID, studentID, attempt).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return AbsentAttempt(), nil
	}
	if err != nil {
		return AttemptGrade{}, err
	}
	if row.Grade.Equal(notGradedSentinel) {
		return NotGradedAttempt(), nil
	}
	return GradedAttempt(row.Grade), nil
}
