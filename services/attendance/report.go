package attendance

import (
	"math"
	"time"

	"attendease-backend/lib/scrapers/portal"
)

type Status string

const (
	StatusSafe     Status = "safe"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
)

// percentage thresholds the status buckets hinge on
const (
	SafeThreshold    = 75.0
	WarningThreshold = 65.0
)

type Student struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type SubjectAttendance struct {
	Subject    string  `json:"subject"`
	Attended   int     `json:"attended"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
	Status     Status  `json:"status"`
	// CanSkip is how many upcoming classes can be missed while staying
	// at or above the safe threshold.
	CanSkip int `json:"canSkip"`
	// MustAttend is how many consecutive classes are needed to climb
	// back to the safe threshold.
	MustAttend int `json:"mustAttend"`
}

type Summary struct {
	TotalSubjects     int     `json:"totalSubjects"`
	Attended          int     `json:"attended"`
	Total             int     `json:"total"`
	OverallPercentage float64 `json:"overallPercentage"`
	OverallStatus     Status  `json:"overallStatus"`
	Safe              int     `json:"safe"`
	Warning           int     `json:"warning"`
	Critical          int     `json:"critical"`
}

type Report struct {
	Student    Student             `json:"student"`
	Attendance []SubjectAttendance `json:"attendance"`
	Summary    Summary             `json:"summary"`
	FetchedAt  time.Time           `json:"fetchedAt"`
}

func StatusFor(percentage float64) Status {
	switch {
	case percentage >= SafeThreshold:
		return StatusSafe
	case percentage >= WarningThreshold:
		return StatusWarning
	default:
		return StatusCritical
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// mustAttendCount solves (attended+x)/(total+x) >= safe for the
// smallest non-negative integer x.
func mustAttendCount(attended, total int) int {
	ratio := SafeThreshold / 100
	need := (ratio*float64(total) - float64(attended)) / (1 - ratio)
	if need <= 0 {
		return 0
	}
	return int(math.Ceil(need))
}

// canSkipCount solves attended/(total+x) >= safe for the largest
// non-negative integer x.
func canSkipCount(attended, total int) int {
	ratio := SafeThreshold / 100
	slack := float64(attended)/ratio - float64(total)
	if slack <= 0 {
		return 0
	}
	return int(math.Floor(slack))
}

// BuildReport turns scraped rows into the report the dashboard renders.
func BuildReport(student Student, rows []portal.Row, now time.Time) Report {
	report := Report{
		Student:   student,
		FetchedAt: now,
	}

	var sumAttended, sumTotal int
	var sumPercentage float64

	for _, row := range rows {
		subject := SubjectAttendance{
			Subject:    row.Subject,
			Attended:   row.Attended,
			Total:      row.Total,
			Percentage: round2(row.Percentage),
			Status:     StatusFor(row.Percentage),
		}
		if row.Total > 0 {
			if subject.Status == StatusSafe {
				subject.CanSkip = canSkipCount(row.Attended, row.Total)
			} else {
				subject.MustAttend = mustAttendCount(row.Attended, row.Total)
			}
			sumAttended += row.Attended
			sumTotal += row.Total
		}
		sumPercentage += row.Percentage

		switch subject.Status {
		case StatusSafe:
			report.Summary.Safe++
		case StatusWarning:
			report.Summary.Warning++
		default:
			report.Summary.Critical++
		}
		report.Attendance = append(report.Attendance, subject)
	}

	report.Summary.TotalSubjects = len(rows)
	report.Summary.Attended = sumAttended
	report.Summary.Total = sumTotal

	// some portal layouts only expose percentages, fall back to their
	// mean when class counts are missing
	if sumTotal > 0 {
		report.Summary.OverallPercentage = round2(float64(sumAttended) / float64(sumTotal) * 100)
	} else if len(rows) > 0 {
		report.Summary.OverallPercentage = round2(sumPercentage / float64(len(rows)))
	}
	report.Summary.OverallStatus = StatusFor(report.Summary.OverallPercentage)

	return report
}
