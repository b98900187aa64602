package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/edulink-io/crm-bridge/internal/dispatch"
	"github.com/edulink-io/crm-bridge/pkg/db/models"
	"github.com/edulink-io/crm-bridge/pkg/enums"
	"github.com/edulink-io/crm-bridge/pkg/logger"
)

type attemptKey struct {
	assignmentID int64
	studentID    int64
	attempt      int
}

type pairKey struct {
	assignmentID int64
	studentID    int64
}

type fakeLMS struct {
	assignments []Assignment
	enrolled    map[int64][]int64
	submissions map[pairKey]bool
	grades      map[pairKey]bool
	attempts    map[attemptKey]AttemptGrade

	enrollErr error
}

func (f *fakeLMS) ListPastDueAssignments(context.Context, time.Time) ([]Assignment, error) {
	return f.assignments, nil
}

func (f *fakeLMS) ListEnrolledStudents(_ context.Context, courseID int64) ([]int64, error) {
	if f.enrollErr != nil {
		return nil, f.enrollErr
	}
	return f.enrolled[courseID], nil
}

func (f *fakeLMS) HasSubmission(_ context.Context, assignmentID, studentID int64) (bool, error) {
	return f.submissions[pairKey{assignmentID, studentID}], nil
}

func (f *fakeLMS) HasGrade(_ context.Context, assignmentID, studentID int64) (bool, error) {
	return f.grades[pairKey{assignmentID, studentID}], nil
}

func (f *fakeLMS) AttemptGrade(_ context.Context, assignmentID, studentID int64, attempt int) (AttemptGrade, error) {
	if grade, ok := f.attempts[attemptKey{assignmentID, studentID, attempt}]; ok {
		return grade, nil
	}
	return AbsentAttempt(), nil
}

type fakeQueue struct {
	entries map[GradeKey]*models.GradeQueueEntry
	getErr  map[GradeKey]error
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{entries: map[GradeKey]*models.GradeQueueEntry{}}
}

func (f *fakeQueue) Get(_ context.Context, key GradeKey) (*models.GradeQueueEntry, error) {
	if err := f.getErr[key]; err != nil {
		return nil, err
	}
	return f.entries[key], nil
}

func (f *fakeQueue) MarkFCreated(_ context.Context, key GradeKey, remoteRecordID *string) error {
	if _, exists := f.entries[key]; exists {
		return ErrAlreadyQueued
	}
	f.entries[key] = &models.GradeQueueEntry{
		ID:             uuid.New(),
		StudentID:      key.StudentID,
		CourseID:       key.CourseID,
		AssignmentID:   key.AssignmentID,
		Status:         enums.GradeQueueFCreated,
		RemoteRecordID: remoteRecordID,
	}
	return nil
}

func (f *fakeQueue) UpsertRRCreated(_ context.Context, key GradeKey, remoteRecordID *string) error {
	entry, exists := f.entries[key]
	if !exists {
		entry = &models.GradeQueueEntry{
			ID:           uuid.New(),
			StudentID:    key.StudentID,
			CourseID:     key.CourseID,
			AssignmentID: key.AssignmentID,
		}
		f.entries[key] = entry
	}
	entry.Status = enums.GradeQueueRRCreated
	if remoteRecordID != nil {
		entry.RemoteRecordID = remoteRecordID
	}
	return nil
}

type recordedDispatch struct {
	eventType enums.EventType
	payload   GradePayload
}

type fakeGradeDispatcher struct {
	calls    []recordedDispatch
	recordID *string
}

func (f *fakeGradeDispatcher) Dispatch(_ context.Context, eventType enums.EventType, payload any, _ ...dispatch.Option) (*dispatch.Outcome, error) {
	grade, ok := payload.(GradePayload)
	if !ok {
		return nil, errors.New("unexpected payload type")
	}
	f.calls = append(f.calls, recordedDispatch{eventType: eventType, payload: grade})
	return &dispatch.Outcome{EventID: uuid.New(), Success: true, RemoteRecordID: f.recordID}, nil
}

func newTestJob(t *testing.T, lms *fakeLMS, queue *fakeQueue, dispatcher *fakeGradeDispatcher) *Job {
	t.Helper()
	job, err := NewJob(JobParams{
		Logger:       logger.New(logger.Options{ServiceName: "reconcile-test", Output: io.Discard}),
		LMS:          lms,
		Queue:        queue,
		Dispatcher:   dispatcher,
		ReferBandMax: decimal.NewFromInt(2),
		Now:          func() time.Time { return time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewJob: %v", err)
	}
	return job
}

func pastDueAssignment(id, courseID int64, resubmission bool) Assignment {
	return Assignment{
		ID:                 id,
		CourseID:           courseID,
		Name:               "Essay",
		DueDate:            time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		AllowsResubmission: resubmission,
	}
}

func TestMissingSubmissionSynthesizesF(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, false)},
		enrolled:    map[int64][]int64{7: {1}},
		submissions: map[pairKey]bool{},
		grades:      map[pairKey]bool{},
	}
	queue := newFakeQueue()
	recordID := "zoho-9"
	dispatcher := &fakeGradeDispatcher{recordID: &recordID}
	job := newTestJob(t, lms, queue, dispatcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected 1 dispatched grade, got %d", len(dispatcher.calls))
	}
	call := dispatcher.calls[0]
	if call.eventType != enums.EventGradeUpdated {
		t.Fatalf("unexpected event type %s", call.eventType)
	}
	if call.payload.Grade != "F" || call.payload.Attempt != 0 || call.payload.Status != "Failed to Submit" {
		t.Fatalf("unexpected F payload %+v", call.payload)
	}
	if call.payload.StudentID != 1 || call.payload.AssignmentID != 42 {
		t.Fatalf("unexpected payload identifiers %+v", call.payload)
	}

	key := GradeKey{StudentID: 1, CourseID: 7, AssignmentID: 42}
	entry := queue.entries[key]
	if entry == nil || entry.Status != enums.GradeQueueFCreated {
		t.Fatalf("expected F_CREATED queue entry, got %+v", entry)
	}
	if entry.RemoteRecordID == nil || *entry.RemoteRecordID != "zoho-9" {
		t.Fatalf("expected remote record id on entry, got %v", entry.RemoteRecordID)
	}
}

func TestSecondRunIsNoOp(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, false)},
		enrolled:    map[int64][]int64{7: {1}},
		submissions: map[pairKey]bool{},
		grades:      map[pairKey]bool{},
	}
	queue := newFakeQueue()
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	for i := 0; i < 2; i++ {
		if err := job.Run(context.Background()); err != nil {
			t.Fatalf("Run %d: %v", i, err)
		}
	}

	if len(dispatcher.calls) != 1 {
		t.Fatalf("second run must be a no-op, got %d dispatches", len(dispatcher.calls))
	}
	if len(queue.entries) != 1 {
		t.Fatalf("expected exactly one queue entry, got %d", len(queue.entries))
	}
}

func TestSubmissionOrGradeBlocksF(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, false)},
		enrolled:    map[int64][]int64{7: {1, 2}},
		submissions: map[pairKey]bool{{42, 1}: true},
		grades:      map[pairKey]bool{{42, 2}: true},
	}
	queue := newFakeQueue()
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("students with a submission or grade must not get an F, got %d dispatches", len(dispatcher.calls))
	}
}

func TestDoubleReferOnAbsentSecondAttempt(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, true)},
		enrolled:    map[int64][]int64{7: {1}},
		submissions: map[pairKey]bool{{42, 1}: true},
		grades:      map[pairKey]bool{{42, 1}: true},
		attempts: map[attemptKey]AttemptGrade{
			{42, 1, 0}: GradedAttempt(decimal.RequireFromString("1.0")),
		},
	}
	queue := newFakeQueue()
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(dispatcher.calls) != 1 {
		t.Fatalf("expected 1 RR dispatch, got %d", len(dispatcher.calls))
	}
	payload := dispatcher.calls[0].payload
	if payload.Grade != "RR" || payload.Attempt != 2 || payload.Status != "Double Refer" {
		t.Fatalf("unexpected RR payload %+v", payload)
	}

	key := GradeKey{StudentID: 1, CourseID: 7, AssignmentID: 42}
	entry := queue.entries[key]
	if entry == nil || entry.Status != enums.GradeQueueRRCreated {
		t.Fatalf("expected RR_CREATED queue entry, got %+v", entry)
	}
}

func TestDoubleReferOnSentinelSecondAttempt(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, true)},
		enrolled:    map[int64][]int64{7: {1}},
		submissions: map[pairKey]bool{{42, 1}: true},
		grades:      map[pairKey]bool{{42, 1}: true},
		attempts: map[attemptKey]AttemptGrade{
			{42, 1, 0}: GradedAttempt(decimal.RequireFromString("1.5")),
			{42, 1, 1}: NotGradedAttempt(),
		},
	}
	queue := newFakeQueue()
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].payload.Grade != "RR" {
		t.Fatalf("sentinel second attempt must qualify for RR, got %+v", dispatcher.calls)
	}
}

func TestNoDoubleReferWhenSecondAttemptGraded(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, true)},
		enrolled:    map[int64][]int64{7: {1}},
		submissions: map[pairKey]bool{{42, 1}: true},
		grades:      map[pairKey]bool{{42, 1}: true},
		attempts: map[attemptKey]AttemptGrade{
			{42, 1, 0}: GradedAttempt(decimal.RequireFromString("1.0")),
			{42, 1, 1}: GradedAttempt(decimal.RequireFromString("3.0")),
		},
	}
	queue := newFakeQueue()
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("graded second attempt must not produce RR, got %+v", dispatcher.calls)
	}
}

func TestNoDoubleReferOutsideReferBand(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, true)},
		enrolled:    map[int64][]int64{7: {1, 2}},
		submissions: map[pairKey]bool{{42, 1}: true, {42, 2}: true},
		grades:      map[pairKey]bool{{42, 1}: true, {42, 2}: true},
		attempts: map[attemptKey]AttemptGrade{
			{42, 1, 0}: GradedAttempt(decimal.Zero),
			{42, 2, 0}: GradedAttempt(decimal.NewFromInt(2)),
		},
	}
	queue := newFakeQueue()
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("band boundaries are exclusive, got %+v", dispatcher.calls)
	}
}

func TestDoubleReferSkipsNonResubmissionAssignment(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, false)},
		enrolled:    map[int64][]int64{7: {1}},
		submissions: map[pairKey]bool{{42, 1}: true},
		grades:      map[pairKey]bool{{42, 1}: true},
		attempts: map[attemptKey]AttemptGrade{
			{42, 1, 0}: GradedAttempt(decimal.RequireFromString("1.0")),
		},
	}
	queue := newFakeQueue()
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(dispatcher.calls) != 0 {
		t.Fatalf("assignments without resubmission are out of RR scope, got %+v", dispatcher.calls)
	}
}

func TestUnitFailureDoesNotAbortBatch(t *testing.T) {
	lms := &fakeLMS{
		assignments: []Assignment{pastDueAssignment(42, 7, false)},
		enrolled:    map[int64][]int64{7: {1, 2}},
		submissions: map[pairKey]bool{},
		grades:      map[pairKey]bool{},
	}
	queue := newFakeQueue()
	queue.getErr = map[GradeKey]error{
		{StudentID: 1, CourseID: 7, AssignmentID: 42}: errors.New("ledger read failed"),
	}
	dispatcher := &fakeGradeDispatcher{}
	job := newTestJob(t, lms, queue, dispatcher)

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated unit error")
	}
	if len(dispatcher.calls) != 1 || dispatcher.calls[0].payload.StudentID != 2 {
		t.Fatalf("remaining students must still be processed, got %+v", dispatcher.calls)
	}
}
