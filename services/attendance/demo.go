package attendance

import (
	"time"

	"attendease-backend/lib/scrapers/portal"

	"github.com/bxcodec/faker/v4"
)

// Demo dataset served when live scraping fails. The numbers are fixed
// so the dashboard demo always shows every status bucket.
func demoRows() []portal.Row {
	rows := []portal.Row{
		{Subject: "Mathematics III", Attended: 34, Total: 40},
		{Subject: "Data Structures", Attended: 28, Total: 40},
		{Subject: "Database Management Systems", Attended: 33, Total: 42},
		{Subject: "Operating Systems", Attended: 25, Total: 40},
		{Subject: "Computer Networks", Attended: 36, Total: 44},
		{Subject: "Software Engineering Lab", Attended: 21, Total: 24},
	}
	for i := range rows {
		rows[i].Percentage = float64(rows[i].Attended) / float64(rows[i].Total) * 100
	}
	return rows
}

func demoStudent(studentId string) Student {
	return Student{
		ID:   studentId,
		Name: faker.Name(),
	}
}

// DemoReport builds a report off the demo dataset without touching a
// portal, for the CLI and for local frontend work.
func DemoReport(studentId string) Report {
	return BuildReport(demoStudent(studentId), demoRows(), time.Now())
}
