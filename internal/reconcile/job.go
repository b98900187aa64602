package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/edulink-io/crm-bridge/internal/dispatch"
	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

// JobName identifies the reconciliation job in the scheduler and in metrics.
const JobName = "grade-reconcile"

const (
	gradeFailedToSubmit = "F"
	gradeDoubleRefer    = "RR"

	statusFailedToSubmit = "Failed to Submit"
	statusDoubleRefer    = "Double Refer"

	firstAttempt  = 0
	secondAttempt = 1
)

// GradePayload is the synthesized grade event body.
type GradePayload struct {
	StudentID      int64  `json:"student"`
	CourseID       int64  `json:"course"`
	AssignmentID   int64  `json:"assignment"`
	Grade          string `json:"grade"`
	Attempt        int    `json:"attempt"`
	Status         string `json:"status"`
	AssignmentName string `json:"assignment_name,omitempty"`
}

// GradeQueue is the idempotency ledger the job writes through.
type GradeQueue interface {
	Get(ctx context.Context, key GradeKey) (*models.GradeQueueEntry, error)
	MarkFCreated(ctx context.Context, key GradeKey, remoteRecordID *string) error
	UpsertRRCreated(ctx context.Context, key GradeKey, remoteRecordID *string) error
}

// Dispatcher is the event pipeline the job feeds synthesized grades into.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType enums.EventType, payload any, opts ...dispatch.Option) (*dispatch.Outcome, error)
}

// JobParams configure the reconciliation job.
type JobParams struct {
	Logger       *logger.Logger
	LMS          LMSReader
	Queue        GradeQueue
	Dispatcher   Dispatcher
	ReferBandMax decimal.Decimal
	Now          func() time.Time
}

// Job scans past-due assignments and synthesizes grade events for missing
// submissions (F) and doubly-referred work (RR). Both phases are idempotent:
// the Grade Queue fences every key, so re-running the job is always safe.
type Job struct {
	logg         *logger.Logger
	lms          LMSReader
	queue        GradeQueue
	dispatcher   Dispatcher
	referBandMax decimal.Decimal
	now          func() time.Time
}

// NewJob builds the reconciliation job.
func NewJob(params JobParams) (*Job, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.LMS == nil {
		return nil, errors.New("lms reader is required")
	}
	if params.Queue == nil {
		return nil, errors.New("grade queue is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	referBandMax := params.ReferBandMax
	if referBandMax.LessThanOrEqual(decimal.Zero) {
		referBandMax = decimal.NewFromInt(2)
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Job{
		logg:         params.Logger,
		lms:          params.LMS,
		queue:        params.Queue,
		dispatcher:   params.Dispatcher,
		referBandMax: referBandMax,
		now:          now,
	}, nil
}

func (j *Job) Name() string { return JobName }

// Run executes both phases. Unit failures are collected, logged, and never
// abort the scan; a partial run is picked up by the next scheduled one.
func (j *Job) Run(ctx context.Context) error {
	logCtx := j.logg.WithJob(ctx, JobName)
	now := j.now()

	assignments, err := j.lms.ListPastDueAssignments(logCtx, now)
	if err != nil {
		return fmt.Errorf("list past-due assignments: %w", err)
	}
	j.logg.Info(j.logg.WithField(logCtx, "assignments", len(assignments)), "reconciliation scan started")

	var errs error
	errs = multierr.Append(errs, j.runMissingSubmissionPhase(logCtx, assignments))
	errs = multierr.Append(errs, j.runDoubleReferPhase(logCtx, assignments))
	return errs
}

type phaseStats struct {
	students    int
	synthesized int
	skipped     int
	failed      int
}

// runMissingSubmissionPhase synthesizes an F grade for every enrolled student
// with no submission, no grade, and no prior queue entry on a past-due
// assignment. The queue entry is the durable fence against duplicate F's.
func (j *Job) runMissingSubmissionPhase(ctx context.Context, assignments []Assignment) error {
	var stats phaseStats
	var errs error

	for _, assignment := range assignments {
		assignCtx := j.logg.WithField(ctx, "assignment_id", assignment.ID)

		students, err := j.lms.ListEnrolledStudents(assignCtx, assignment.CourseID)
		if err != nil {
			stats.failed++
			errs = multierr.Append(errs, fmt.Errorf("assignment %d: list enrolled students: %w", assignment.ID, err))
			j.logg.Error(assignCtx, "skipping assignment, enrollment read failed", err)
			continue
		}

		for _, studentID := range students {
			stats.students++
			if err := j.reconcileMissingSubmission(assignCtx, assignment, studentID, &stats); err != nil {
				stats.failed++
				errs = multierr.Append(errs, fmt.Errorf("assignment %d student %d: %w", assignment.ID, studentID, err))
				j.logg.Error(j.logg.WithField(assignCtx, "student_id", studentID), "missing-submission check failed", err)
			}
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"phase":       "missing_submission",
		"students":    stats.students,
		"synthesized": stats.synthesized,
		"skipped":     stats.skipped,
		"failed":      stats.failed,
	}), "reconciliation phase finished")
	return errs
}

func (j *Job) reconcileMissingSubmission(ctx context.Context, assignment Assignment, studentID int64, stats *phaseStats) error {
	key := GradeKey{StudentID: studentID, CourseID: assignment.CourseID, AssignmentID: assignment.ID}

	entry, err := j.queue.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read grade queue: %w", err)
	}
	if entry != nil {
		stats.skipped++
		return nil
	}

	hasSubmission, err := j.lms.HasSubmission(ctx, assignment.ID, studentID)
	if err != nil {
		return fmt.Errorf("check submission: %w", err)
	}
	if hasSubmission {
		stats.skipped++
		return nil
	}

	hasGrade, err := j.lms.HasGrade(ctx, assignment.ID, studentID)
	if err != nil {
		return fmt.Errorf("check grade: %w", err)
	}
	if hasGrade {
		stats.skipped++
		return nil
	}

	payload := GradePayload{
		StudentID:      studentID,
		CourseID:       assignment.CourseID,
		AssignmentID:   assignment.ID,
		Grade:          gradeFailedToSubmit,
		Attempt:        firstAttempt,
		Status:         statusFailedToSubmit,
		AssignmentName: assignment.Name,
	}
	outcome, err := j.dispatcher.Dispatch(ctx, enums.EventGradeUpdated, payload,
		dispatch.WithRelatedEntityName(assignment.Name))
	if err != nil {
		return fmt.Errorf("dispatch F grade: %w", err)
	}

	// The event is durable even when delivery failed; the retry cycle owns
	// it now, so the fence is written either way.
	if err := j.queue.MarkFCreated(ctx, key, outcome.RemoteRecordID); err != nil {
		if errors.Is(err, ErrAlreadyQueued) {
			stats.skipped++
			return nil
		}
		return fmt.Errorf("record queue entry: %w", err)
	}
	stats.synthesized++
	return nil
}

// runDoubleReferPhase synthesizes an RR grade for students whose first
// attempt landed in the refer band and whose second attempt was never graded,
// on past-due assignments that permit resubmission.
func (j *Job) runDoubleReferPhase(ctx context.Context, assignments []Assignment) error {
	var stats phaseStats
	var errs error

	for _, assignment := range assignments {
		if !assignment.AllowsResubmission {
			continue
		}
		assignCtx := j.logg.WithField(ctx, "assignment_id", assignment.ID)

		students, err := j.lms.ListEnrolledStudents(assignCtx, assignment.CourseID)
		if err != nil {
			stats.failed++
			errs = multierr.Append(errs, fmt.Errorf("assignment %d: list enrolled students: %w", assignment.ID, err))
			j.logg.Error(assignCtx, "skipping assignment, enrollment read failed", err)
			continue
		}

		for _, studentID := range students {
			stats.students++
			if err := j.reconcileDoubleRefer(assignCtx, assignment, studentID, &stats); err != nil {
				stats.failed++
				errs = multierr.Append(errs, fmt.Errorf("assignment %d student %d: %w", assignment.ID, studentID, err))
				j.logg.Error(j.logg.WithField(assignCtx, "student_id", studentID), "double-refer check failed", err)
			}
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"phase":       "double_refer",
		"students":    stats.students,
		"synthesized": stats.synthesized,
		"skipped":     stats.skipped,
		"failed":      stats.failed,
	}), "reconciliation phase finished")
	return errs
}

func (j *Job) reconcileDoubleRefer(ctx context.Context, assignment Assignment, studentID int64, stats *phaseStats) error {
	key := GradeKey{StudentID: studentID, CourseID: assignment.CourseID, AssignmentID: assignment.ID}

	entry, err := j.queue.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("read grade queue: %w", err)
	}
	if entry != nil && entry.Status == enums.GradeQueueRRCreated {
		stats.skipped++
		return nil
	}

	first, err := j.lms.AttemptGrade(ctx, assignment.ID, studentID, firstAttempt)
	if err != nil {
		return fmt.Errorf("read first attempt: %w", err)
	}
	if !first.InReferBand(j.referBandMax) {
		stats.skipped++
		return nil
	}

	second, err := j.lms.AttemptGrade(ctx, assignment.ID, studentID, secondAttempt)
	if err != nil {
		return fmt.Errorf("read second attempt: %w", err)
	}
	if !second.Ungraded() {
		stats.skipped++
		return nil
	}

	payload := GradePayload{
		StudentID:      studentID,
		CourseID:       assignment.CourseID,
		AssignmentID:   assignment.ID,
		Grade:          gradeDoubleRefer,
		Attempt:        2,
		Status:         statusDoubleRefer,
		AssignmentName: assignment.Name,
	}
	outcome, err := j.dispatcher.Dispatch(ctx, enums.EventGradeUpdated, payload,
		dispatch.WithRelatedEntityName(assignment.Name))
	if err != nil {
		return fmt.Errorf("dispatch RR grade: %w", err)
	}

	if err := j.queue.UpsertRRCreated(ctx, key, outcome.RemoteRecordID); err != nil {
		return fmt.Errorf("record queue entry: %w", err)
	}
	stats.synthesized++
	return nil
}
