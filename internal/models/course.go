package models

import "time"

// Course groups assignments and enrolled students under a single grading scope.
type Course struct {
	ID        string    `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      string    `db:"name" json:"name"`
	Semester  string    `db:"semester" json:"semester"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	Assignments []Assignment `json:"assignments,omitempty"`
}

// ActiveAssignments returns the assignments counted toward the weight partition.
func (c Course) ActiveAssignments() []Assignment {
	active := make([]Assignment, 0, len(c.Assignments))
	for _, a := range c.Assignments {
		if a.Active {
			active = append(active, a)
		}
	}
	return active
}

// CourseFilter captures filtering criteria for listing courses.
type CourseFilter struct {
	Search    string
	Semester  string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}

// Assignment is a weighted, gradable unit owned by exactly one course.
type Assignment struct {
	ID        string    `db:"id" json:"id"`
	CourseID  string    `db:"course_id" json:"course_id"`
	Title     string    `db:"title" json:"title"`
	MaxScore  float64   `db:"max_score" json:"max_score"`
	Weight    float64   `db:"weight" json:"weight"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// AssignmentWeight pairs an assignment with its replacement weight for atomic
// weight-set updates.
type AssignmentWeight struct {
	AssignmentID string  `json:"assignment_id" validate:"required"`
	Weight       float64 `json:"weight" validate:"required"`
}
