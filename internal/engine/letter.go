package engine

import "github.com/noah-isme/gradebook-api/internal/models"

// LetterFor maps a numeric total in [0,100] to a letter grade. Lower bounds
// are inclusive: 90 is an A, 60 is a D. Inputs outside [0,100] violate the
// caller contract; this function neither clamps nor validates them.
func LetterFor(total float64) models.Letter {
	switch {
	case total >= 90:
		return models.LetterA
	case total >= 80:
		return models.LetterB
	case total >= 70:
		return models.LetterC
	case total >= 60:
		return models.LetterD
	default:
		return models.LetterF
	}
}
