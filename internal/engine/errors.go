package engine

import (
	"errors"
	"fmt"
)

var errNoStudents = errors.New("no enrolled students in snapshot")

// ValidationError reports a shape or range violation on an assignment or
// score. The offending field and value are carried so callers can surface
// them without parsing the message.
type ValidationError struct {
	Field  string
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %g: %s", e.Field, e.Value, e.Reason)
}

// WeightError reports that a course's active assignment weights do not form a
// valid partition. Sum is the actual computed sum.
type WeightError struct {
	CourseID string
	Sum      float64
}

func (e *WeightError) Error() string {
	return fmt.Sprintf("course %s: assignment weights sum to %.6f, want 1.0", e.CourseID, e.Sum)
}

// IncompleteSetupError reports a course with no active assignments. This is a
// distinct state from an invalid weight sum.
type IncompleteSetupError struct {
	CourseID string
}

func (e *IncompleteSetupError) Error() string {
	return fmt.Sprintf("course %s has no active assignments", e.CourseID)
}

// AggregationErrorCode classifies aggregation failures.
type AggregationErrorCode string

// Aggregation failure codes.
const (
	AggInvalidWeights   AggregationErrorCode = "InvalidWeights"
	AggInsufficientData AggregationErrorCode = "InsufficientData"
)

// AggregationError reports a failed final-grade or report computation.
type AggregationError struct {
	Code      AggregationErrorCode
	CourseID  string
	StudentID string
	Err       error
}

func (e *AggregationError) Error() string {
	msg := fmt.Sprintf("aggregation failed (%s) for course %s", e.Code, e.CourseID)
	if e.StudentID != "" {
		msg += fmt.Sprintf(", student %s", e.StudentID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AggregationError) Unwrap() error { return e.Err }
