package models

import "time"

// Letter is a final letter grade on the fixed A–F scale.
type Letter string

// Letter grade values.
const (
	LetterA Letter = "A"
	LetterB Letter = "B"
	LetterC Letter = "C"
	LetterD Letter = "D"
	LetterF Letter = "F"
)

// FlagKind classifies an outlier flag.
type FlagKind string

// Outlier flag kinds.
const (
	FlagMissing     FlagKind = "MISSING"
	FlagOutOfRange  FlagKind = "OUT_OF_RANGE"
	FlagStatistical FlagKind = "STATISTICAL"
)

// GradeRecord is a single raw score for a (student, assignment) pair.
// RawScore is nil when the score was explicitly marked missing; the absence
// of a record altogether means the same thing.
type GradeRecord struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	AssignmentID string    `db:"assignment_id" json:"assignment_id"`
	RawScore     *float64  `db:"raw_score" json:"raw_score"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// GradeFilter allows querying of grade records.
type GradeFilter struct {
	StudentID    string
	AssignmentID string
	CourseID     string
}

// OutlierFlag marks a score as missing, out of range, or statistically unusual.
type OutlierFlag struct {
	Kind         FlagKind `json:"kind"`
	StudentID    string   `json:"student_id"`
	AssignmentID string   `json:"assignment_id"`
	Detail       string   `json:"detail"`
}

// FinalGrade is the weighted result for one student in one course. It is
// derived on demand from the grade records and is never the source of truth.
type FinalGrade struct {
	StudentID    string        `json:"student_id"`
	CourseID     string        `json:"course_id"`
	NumericTotal float64       `json:"numeric_total"`
	Letter       Letter        `json:"letter"`
	Records      []GradeRecord `json:"records,omitempty"`
	Flags        []OutlierFlag `json:"flags,omitempty"`
	ComputedAt   time.Time     `json:"computed_at,omitempty"`
}

// StudentGradeError captures a per-student failure inside a bulk computation.
type StudentGradeError struct {
	StudentID string `json:"student_id"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

// CourseReport aggregates final grades and class statistics for a course.
type CourseReport struct {
	CourseID     string              `json:"course_id"`
	Finals       []FinalGrade        `json:"finals"`
	Errors       []StudentGradeError `json:"errors,omitempty"`
	Flags        []OutlierFlag       `json:"flags,omitempty"`
	ClassMean    float64             `json:"class_mean"`
	ClassMedian  float64             `json:"class_median"`
	ClassStdDev  float64             `json:"class_std_dev"`
	LetterCounts map[Letter]int      `json:"letter_counts"`
	GeneratedAt  time.Time           `json:"generated_at,omitempty"`
}

// GradeImportRow is a parsed line of a grade CSV import.
type GradeImportRow struct {
	StudentID       string
	AssignmentTitle string
	Score           float64
}

// GradeImportResult summarises a CSV import outcome.
type GradeImportResult struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Reasons  []string `json:"reasons,omitempty"`
}
