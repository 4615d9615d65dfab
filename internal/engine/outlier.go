package engine

import (
	"fmt"
	"math"
	"sort"

	"github.com/noah-isme/gradebook-api/internal/models"
)

// statisticalZThreshold flags scores further than this many population
// standard deviations from the assignment mean.
const statisticalZThreshold = 2.0

// minScoredForStats is the minimum number of scored students required before
// the statistical check runs for an assignment.
const minScoredForStats = 3

// DetectOutliers runs the three outlier checks over a course snapshot and
// returns all flags. A single score can trigger more than one flag. Output is
// deterministic regardless of input order: each check emits flags sorted by
// assignment ID then student ID.
func DetectOutliers(course models.Course, studentIDs []string, records []models.GradeRecord) []models.OutlierFlag {
	active := course.ActiveAssignments()
	sort.Slice(active, func(i, j int) bool { return active[i].ID < active[j].ID })

	students := append([]string(nil), studentIDs...)
	sort.Strings(students)

	// scores[assignmentID][studentID] -> raw score, only for present scores.
	scores := make(map[string]map[string]float64, len(active))
	activeSet := make(map[string]models.Assignment, len(active))
	for _, a := range active {
		scores[a.ID] = make(map[string]float64)
		activeSet[a.ID] = a
	}
	for _, rec := range records {
		if _, ok := activeSet[rec.AssignmentID]; !ok {
			continue
		}
		if rec.RawScore == nil {
			continue
		}
		scores[rec.AssignmentID][rec.StudentID] = *rec.RawScore
	}

	var flags []models.OutlierFlag
	flags = append(flags, missingFlags(active, students, scores)...)
	flags = append(flags, rangeFlags(active, students, scores)...)
	flags = append(flags, statisticalFlags(active, scores)...)
	return flags
}

func missingFlags(active []models.Assignment, students []string, scores map[string]map[string]float64) []models.OutlierFlag {
	var flags []models.OutlierFlag
	for _, a := range active {
		for _, sid := range students {
			if _, ok := scores[a.ID][sid]; ok {
				continue
			}
			flags = append(flags, models.OutlierFlag{
				Kind:         models.FlagMissing,
				StudentID:    sid,
				AssignmentID: a.ID,
				Detail:       fmt.Sprintf("no score recorded for %s", a.Title),
			})
		}
	}
	return flags
}

// rangeFlags re-checks score bounds even though entry validation should have
// rejected bad values; data imported through a bypassed path still gets caught.
func rangeFlags(active []models.Assignment, students []string, scores map[string]map[string]float64) []models.OutlierFlag {
	var flags []models.OutlierFlag
	for _, a := range active {
		for _, sid := range students {
			score, ok := scores[a.ID][sid]
			if !ok {
				continue
			}
			if score < 0 || score > a.MaxScore {
				flags = append(flags, models.OutlierFlag{
					Kind:         models.FlagOutOfRange,
					StudentID:    sid,
					AssignmentID: a.ID,
					Detail:       fmt.Sprintf("score %.2f outside [0, %.2f]", score, a.MaxScore),
				})
			}
		}
	}
	return flags
}

func statisticalFlags(active []models.Assignment, scores map[string]map[string]float64) []models.OutlierFlag {
	var flags []models.OutlierFlag
	for _, a := range active {
		byStudent := scores[a.ID]
		if len(byStudent) < minScoredForStats {
			continue
		}

		scored := make([]string, 0, len(byStudent))
		values := make([]float64, 0, len(byStudent))
		for sid := range byStudent {
			scored = append(scored, sid)
		}
		sort.Strings(scored)
		for _, sid := range scored {
			values = append(values, byStudent[sid])
		}

		mean := meanOf(values)
		stddev := populationStdDev(values, mean)
		if stddev == 0 {
			continue
		}

		for _, sid := range scored {
			z := math.Abs(byStudent[sid]-mean) / stddev
			if z > statisticalZThreshold {
				flags = append(flags, models.OutlierFlag{
					Kind:         models.FlagStatistical,
					StudentID:    sid,
					AssignmentID: a.ID,
					Detail:       fmt.Sprintf("score %.2f deviates %.2f std devs from mean %.2f", byStudent[sid], z, mean),
				})
			}
		}
	}
	return flags
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func populationStdDev(values []float64, mean float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(values)))
}
