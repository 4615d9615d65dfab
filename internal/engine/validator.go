// Package engine implements the grade computation and validation core. Every
// function operates on a caller-supplied snapshot of courses, assignments and
// grade records; the package never reads storage and holds no state between
// calls.
package engine

import "github.com/noah-isme/gradebook-api/internal/models"

// ValidateAssignment checks the shape constraints of a single assignment:
// max_score must be positive and the weight must lie in (0, 1].
func ValidateAssignment(a models.Assignment) error {
	if a.MaxScore <= 0 {
		return &ValidationError{Field: "max_score", Value: a.MaxScore, Reason: "must be greater than zero"}
	}
	if a.Weight <= 0 {
		return &ValidationError{Field: "weight", Value: a.Weight, Reason: "must be greater than zero"}
	}
	if a.Weight > 1 {
		return &ValidationError{Field: "weight", Value: a.Weight, Reason: "must not exceed 1"}
	}
	return nil
}

// ValidateScore checks a raw score against the assignment maximum. Scores
// above max are rejected rather than clamped; extra credit is not supported.
func ValidateScore(score, maxScore float64) error {
	if score < 0 {
		return &ValidationError{Field: "score", Value: score, Reason: "must not be negative"}
	}
	if score > maxScore {
		return &ValidationError{Field: "score", Value: score, Reason: "exceeds assignment max score"}
	}
	return nil
}
