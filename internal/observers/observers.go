package observers

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/edulink-io/crm-bridge/internal/dispatch"
	"github.com/edulink-io/crm-bridge/pkg/config"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

// UserRecord is the extracted payload for user events.
type UserRecord struct {
	UserID    int64  `json:"user_id"`
	Username  string `json:"username"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
}

// EnrollmentRecord is the extracted payload for enrollment events.
type EnrollmentRecord struct {
	UserID      int64  `json:"user_id"`
	CourseID    int64  `json:"course_id"`
	CourseName  string `json:"course_name"`
	Status      string `json:"status"`
	TimeStarted int64  `json:"time_started"`
}

// GradeRecord is the extracted payload for grade events.
type GradeRecord struct {
	StudentID      int64           `json:"student_id"`
	CourseID       int64           `json:"course_id"`
	AssignmentID   int64           `json:"assignment_id"`
	AssignmentName string          `json:"assignment_name"`
	Grade          decimal.Decimal `json:"grade"`
	GradedAt       int64           `json:"graded_at"`
}

// DataExtractor reads structured records out of the host platform. A nil
// record with a nil error means the data is not available yet; that is a
// valid signal, not a failure.
type DataExtractor interface {
	ExtractUser(ctx context.Context, userID int64) (*UserRecord, error)
	ExtractEnrollment(ctx context.Context, userID, courseID int64) (*EnrollmentRecord, error)
	ExtractGrade(ctx context.Context, gradeID int64) (*GradeRecord, error)
}

// Dispatcher is the downstream event pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, eventType enums.EventType, payload any, opts ...dispatch.Option) (*dispatch.Outcome, error)
}

// ServiceParams configure the observer set.
type ServiceParams struct {
	Logger     *logger.Logger
	Extractor  DataExtractor
	Dispatcher Dispatcher
	Flags      config.SyncConfig
}

// Service holds one handler per domain occurrence. Each handler checks its
// category flag, extracts a payload, and hands it to the dispatcher. An
// unextractable occurrence is logged and skipped; nothing is created for it.
type Service struct {
	logg       *logger.Logger
	extractor  DataExtractor
	dispatcher Dispatcher
	flags      config.SyncConfig
}

// NewService builds the observer set.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Extractor == nil {
		return nil, errors.New("data extractor is required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	return &Service{
		logg:       params.Logger,
		extractor:  params.Extractor,
		dispatcher: params.Dispatcher,
		flags:      params.Flags,
	}, nil
}

// UserCreated handles a new user account.
func (s *Service) UserCreated(ctx context.Context, userID, moodleEventID int64) error {
	return s.handleUser(ctx, enums.EventUserCreated, userID, moodleEventID)
}

// UserUpdated handles a profile change.
func (s *Service) UserUpdated(ctx context.Context, userID, moodleEventID int64) error {
	return s.handleUser(ctx, enums.EventUserUpdated, userID, moodleEventID)
}

func (s *Service) handleUser(ctx context.Context, eventType enums.EventType, userID, moodleEventID int64) error {
	if !s.flags.Users {
		return nil
	}
	record, err := s.extractor.ExtractUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("extract user %d: %w", userID, err)
	}
	if record == nil {
		s.logSkip(ctx, eventType, "user_id", userID)
		return nil
	}
	_, err = s.dispatcher.Dispatch(ctx, eventType, record,
		dispatch.WithMoodleEventID(moodleEventID),
		dispatch.WithRelatedEntityName(fullName(record)))
	return err
}

// EnrollmentCreated handles a new course enrollment.
func (s *Service) EnrollmentCreated(ctx context.Context, userID, courseID, moodleEventID int64) error {
	return s.handleEnrollment(ctx, enums.EventEnrollmentCreated, userID, courseID, moodleEventID)
}

// EnrollmentUpdated handles an enrollment status change.
func (s *Service) EnrollmentUpdated(ctx context.Context, userID, courseID, moodleEventID int64) error {
	return s.handleEnrollment(ctx, enums.EventEnrollmentUpdated, userID, courseID, moodleEventID)
}

func (s *Service) handleEnrollment(ctx context.Context, eventType enums.EventType, userID, courseID, moodleEventID int64) error {
	if !s.flags.Enrollments {
		return nil
	}
	record, err := s.extractor.ExtractEnrollment(ctx, userID, courseID)
	if err != nil {
		return fmt.Errorf("extract enrollment user=%d course=%d: %w", userID, courseID, err)
	}
	if record == nil {
		s.logSkip(ctx, eventType, "course_id", courseID)
		return nil
	}
	_, err = s.dispatcher.Dispatch(ctx, eventType, record,
		dispatch.WithMoodleEventID(moodleEventID),
		dispatch.WithRelatedEntityName(record.CourseName))
	return err
}

// GradeUpdated handles a grade write, including the synthesized grades the
// reconciliation job produces.
func (s *Service) GradeUpdated(ctx context.Context, gradeID, moodleEventID int64) error {
	if !s.flags.Grades {
		return nil
	}
	record, err := s.extractor.ExtractGrade(ctx, gradeID)
	if err != nil {
		return fmt.Errorf("extract grade %d: %w", gradeID, err)
	}
	if record == nil {
		s.logSkip(ctx, enums.EventGradeUpdated, "grade_id", gradeID)
		return nil
	}
	_, err = s.dispatcher.Dispatch(ctx, enums.EventGradeUpdated, record,
		dispatch.WithMoodleEventID(moodleEventID),
		dispatch.WithRelatedEntityName(record.AssignmentName))
	return err
}

func (s *Service) logSkip(ctx context.Context, eventType enums.EventType, idKey string, id int64) {
	logCtx := s.logg.WithEventType(ctx, string(eventType))
	logCtx = s.logg.WithField(logCtx, idKey, id)
	s.logg.Warn(logCtx, "no extractable data for occurrence, skipping")
}

func fullName(record *UserRecord) string {
	name := record.FirstName
	if record.LastName != "" {
		if name != "" {
			name += " "
		}
		name += record.LastName
	}
	return name
}
