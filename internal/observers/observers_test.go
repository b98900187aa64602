package observers

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/edulink-io/crm-bridge/internal/dispatch"
	"github.com/edulink-io/crm-bridge/pkg/config"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

type fakeExtractor struct {
	user       *UserRecord
	enrollment *EnrollmentRecord
	grade      *GradeRecord
	err        error
}

func (f *fakeExtractor) ExtractUser(context.Context, int64) (*UserRecord, error) {
	return f.user, f.err
}

func (f *fakeExtractor) ExtractEnrollment(context.Context, int64, int64) (*EnrollmentRecord, error) {
	return f.enrollment, f.err
}

func (f *fakeExtractor) ExtractGrade(context.Context, int64) (*GradeRecord, error) {
	return f.grade, f.err
}

type dispatchCall struct {
	eventType enums.EventType
	payload   any
}

type fakeDispatcher struct {
	calls []dispatchCall
}

func (f *fakeDispatcher) Dispatch(_ context.Context, eventType enums.EventType, payload any, _ ...dispatch.Option) (*dispatch.Outcome, error) {
	f.calls = append(f.calls, dispatchCall{eventType: eventType, payload: payload})
	return &dispatch.Outcome{Success: true}, nil
}

func allFlags() config.SyncConfig {
	return config.SyncConfig{Users: true, Enrollments: true, Grades: true}
}

func newTestObservers(t *testing.T, extractor DataExtractor, dispatcher Dispatcher, flags config.SyncConfig) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:     logger.New(logger.Options{ServiceName: "observers-test", Output: io.Discard}),
		Extractor:  extractor,
		Dispatcher: dispatcher,
		Flags:      flags,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestUserCreatedDispatchesExtractedRecord(t *testing.T) {
	extractor := &fakeExtractor{user: &UserRecord{UserID: 7, FirstName: "Ada", LastName: "Byron", Email: "ada@example.org"}}
	dispatcher := &fakeDispatcher{}
	svc := newTestObservers(t, extractor, dispatcher, allFlags())

	if err := svc.UserCreated(context.Background(), 7, 100); err != nil {
		t.Fatalf("UserCreated: %v", err)
	}
	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected 1 dispatch, got %d", len(dispatcher.calls))
	}
	if dispatcher.calls[0].eventType != enums.EventUserCreated {
		t.Fatalf("unexpected event type %s", dispatcher.calls[0].eventType)
	}
	record, ok := dispatcher.calls[0].payload.(*UserRecord)
	if !ok || record.UserID != 7 {
		t.Fatalf("expected user record payload, got %#v", dispatcher.calls[0].payload)
	}
}

func TestDisabledFlagIsNoOp(t *testing.T) {
	extractor := &fakeExtractor{user: &UserRecord{UserID: 7}}
	dispatcher := &fakeDispatcher{}
	flags := allFlags()
	flags.Users = false
	svc := newTestObservers(t, extractor, dispatcher, flags)

	if err := svc.UserUpdated(context.Background(), 7, 100); err != nil {
		t.Fatalf("disabled category must be a silent no-op, got %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("no dispatch expected with the flag off, got %d", len(dispatcher.calls))
	}
}

func TestNilRecordSkipsWithoutDispatching(t *testing.T) {
	extractor := &fakeExtractor{}
	dispatcher := &fakeDispatcher{}
	svc := newTestObservers(t, extractor, dispatcher, allFlags())

	if err := svc.GradeUpdated(context.Background(), 42, 100); err != nil {
		t.Fatalf("unextractable data must not be an error, got %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("no dispatch expected for nil record, got %d", len(dispatcher.calls))
	}
}

func TestExtractorErrorPropagates(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("db read failed")}
	dispatcher := &fakeDispatcher{}
	svc := newTestObservers(t, extractor, dispatcher, allFlags())

	if err := svc.EnrollmentCreated(context.Background(), 1, 2, 100); err == nil {
		t.Fatal("expected extractor error to propagate")
	}
	if len(dispatcher.calls) != 0 {
		t.Fatal("no dispatch expected when extraction fails")
	}
}

func TestEnrollmentUpdatedDispatches(t *testing.T) {
	extractor := &fakeExtractor{enrollment: &EnrollmentRecord{UserID: 1, CourseID: 2, CourseName: "Algebra", Status: "active"}}
	dispatcher := &fakeDispatcher{}
	svc := newTestObservers(t, extractor, dispatcher, allFlags())

	if err := svc.EnrollmentUpdated(context.Background(), 1, 2, 100); err != nil {
		t.Fatalf("EnrollmentUpdated: %v", err)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].eventType != enums.EventEnrollmentUpdated {
		t.Fatalf("expected one enrollment_updated dispatch, got %+v", dispatcher.calls)
	}
}

func TestGradeUpdatedCarriesDecimalGrade(t *testing.T) {
	grade := decimal.RequireFromString("1.5")
	extractor := &fakeExtractor{grade: &GradeRecord{StudentID: 1, CourseID: 2, AssignmentID: 3, AssignmentName: "Essay", Grade: grade}}
	dispatcher := &fakeDispatcher{}
	svc := newTestObservers(t, extractor, dispatcher, allFlags())

	if err := svc.GradeUpdated(context.Background(), 9, 100); err != nil {
		t.Fatalf("GradeUpdated: %v", err)
	}
	record, ok := dispatcher.calls[0].payload.(*GradeRecord)
	if !ok {
		t.Fatalf("expected grade record payload, got %#v", dispatcher.calls[0].payload)
	}
	if !record.Grade.Equal(grade) {
		t.Fatalf("expected grade 1.5, got %s", record.Grade)
	}
}
