package portal

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const ratioLayoutPage = `
<html><body>
<table class="sidebar"><tr><td>Total credits</td><td>24</td></tr></table>
<table id="attendance">
	<tr><th>Subject</th><th>Attendance</th><th>Percentage</th></tr>
	<tr><td>Mathematics III</td><td>34 / 40</td><td>85%</td></tr>
	<tr><td>Data Structures</td><td>28/40</td><td>70%</td></tr>
	<tr><td>Operating Systems</td><td>25 / 40</td><td>62.5%</td></tr>
</table>
</body></html>`

const columnLayoutPage = `
<html><body>
<table>
	<tr><th>Course</th><th>Attended</th><th>Held</th></tr>
	<tr><td>Computer Networks</td><td>36</td><td>44</td></tr>
	<tr><td>Software Engineering Lab</td><td>24</td><td>21</td></tr>
</table>
</body></html>`

const percentOnlyPage = `
<html><body>
<table>
	<tr><th>Subject</th><th>Attendance %</th></tr>
	<tr><td>Database Management Systems</td><td>78.57</td></tr>
	<tr><td>Operating Systems</td><td>62.5</td></tr>
</table>
</body></html>`

func TestExtractRatioLayout(t *testing.T) {
	rows, err := ExtractAttendance(ratioLayoutPage)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	require.Equal(t, "Mathematics III", rows[0].Subject)
	require.Equal(t, 34, rows[0].Attended)
	require.Equal(t, 40, rows[0].Total)
	require.InDelta(t, 85, rows[0].Percentage, 0.01)

	require.Equal(t, "Operating Systems", rows[2].Subject)
	require.InDelta(t, 62.5, rows[2].Percentage, 0.01)
}

func TestExtractColumnLayout(t *testing.T) {
	rows, err := ExtractAttendance(columnLayoutPage)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, 36, rows[0].Attended)
	require.Equal(t, 44, rows[0].Total)
	require.InDelta(t, 81.81, rows[0].Percentage, 0.01)

	// attended/total were listed backwards, the larger count is the total
	require.Equal(t, 21, rows[1].Attended)
	require.Equal(t, 24, rows[1].Total)
}

func TestExtractPercentOnlyLayout(t *testing.T) {
	rows, err := ExtractAttendance(percentOnlyPage)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, "Database Management Systems", rows[0].Subject)
	require.Equal(t, 0, rows[0].Total)
	require.InDelta(t, 78.57, rows[0].Percentage, 0.01)
	require.InDelta(t, 62.5, rows[1].Percentage, 0.01)
}

func TestExtractMergesDuplicateSubjects(t *testing.T) {
	page := `
<table>
	<tr><th>Subject</th><th>Attended</th><th>Total</th></tr>
	<tr><td>Data Structures</td><td>10</td><td>12</td></tr>
	<tr><td>Data Structure</td><td>28</td><td>40</td></tr>
	<tr><td>Computer Networks</td><td>36</td><td>44</td></tr>
</table>`
	rows, err := ExtractAttendance(page)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// the row with the larger class count wins
	require.Equal(t, 40, rows[0].Total)
	require.Equal(t, 28, rows[0].Attended)
	require.Equal(t, "Computer Networks", rows[1].Subject)
}

func TestExtractNoData(t *testing.T) {
	_, err := ExtractAttendance(`<html><body><p>Welcome!</p></body></html>`)
	require.ErrorIs(t, err, ErrNoData)

	// a lone "total" hit must not qualify a table
	_, err = ExtractAttendance(`
<table>
	<tr><th>Item</th><th>Total</th></tr>
	<tr><td>Library fines</td><td>120</td></tr>
</table>`)
	require.ErrorIs(t, err, ErrNoData)
}

func TestExtractStudentName(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><div class="student-name"> Priya&nbsp;Sharma </div></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "Priya Sharma", ExtractStudentName(doc))

	doc, err = goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><p>Welcome, John Doe</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "John Doe", ExtractStudentName(doc))

	doc, err = goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><p>nothing here</p></body></html>`))
	require.NoError(t, err)
	require.Equal(t, "", ExtractStudentName(doc))
}
