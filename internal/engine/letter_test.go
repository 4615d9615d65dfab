package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/gradebook-api/internal/models"
)

func TestLetterFor(t *testing.T) {
	tests := []struct {
		total float64
		want  models.Letter
	}{
		{100, models.LetterA},
		{90, models.LetterA},
		{89.999, models.LetterB},
		{80, models.LetterB},
		{79.999, models.LetterC},
		{70, models.LetterC},
		{69.999, models.LetterD},
		{60, models.LetterD},
		{59.999, models.LetterF},
		{0, models.LetterF},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LetterFor(tt.total), "total %v", tt.total)
	}
}
