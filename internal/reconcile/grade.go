package reconcile

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// GradeKey identifies one reconciliation outcome. It replaces the host's
// stringly concatenated key with typed fields while preserving the same
// uniqueness semantics.
type GradeKey struct {
	StudentID    int64
	CourseID     int64
	AssignmentID int64
}

func (k GradeKey) String() string {
	return fmt.Sprintf("%d:%d:%d", k.StudentID, k.CourseID, k.AssignmentID)
}

type attemptState int

const (
	attemptAbsent attemptState = iota
	attemptNotGraded
	attemptGraded
)

// AttemptGrade is the state of one grading attempt. The host records "not
// graded yet" two ways, a sentinel grade and no row at all; both collapse
// into the explicit not-graded states here so callers never compare against
// a magic number.
type AttemptGrade struct {
	state attemptState
	grade decimal.Decimal
}

// AbsentAttempt reports that no attempt row exists.
func AbsentAttempt() AttemptGrade {
	return AttemptGrade{state: attemptAbsent}
}

// NotGradedAttempt reports an attempt row carrying the not-graded sentinel.
func NotGradedAttempt() AttemptGrade {
	return AttemptGrade{state: attemptNotGraded}
}

// GradedAttempt reports a real grade.
func GradedAttempt(grade decimal.Decimal) AttemptGrade {
	return AttemptGrade{state: attemptGraded, grade: grade}
}

// Graded reports whether a real grade exists.
func (a AttemptGrade) Graded() bool {
	return a.state == attemptGraded
}

// Ungraded reports whether the attempt is absent or carries the sentinel.
// Both mean the same thing to the reconciliation rules.
func (a AttemptGrade) Ungraded() bool {
	return a.state != attemptGraded
}

// Grade returns the grade when one exists.
func (a AttemptGrade) Grade() (decimal.Decimal, bool) {
	if a.state != attemptGraded {
		return decimal.Decimal{}, false
	}
	return a.grade, true
}

// InReferBand reports whether a graded attempt falls in the
// below-passing-but-attempted band (0, max) exclusive on both ends.
func (a AttemptGrade) InReferBand(max decimal.Decimal) bool {
	grade, ok := a.Grade()
	if !ok {
		return false
	}
	return grade.GreaterThan(decimal.Zero) && grade.LessThan(max)
}
