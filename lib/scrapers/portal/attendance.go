package portal

import (
	"regexp"
	"strconv"
	"strings"

	"attendease-backend/lib/htmlutil"
	"attendease-backend/lib/textutil"

	"github.com/PuerkitoBio/goquery"
	"github.com/antzucaro/matchr"
)

// There is no single authoritative selector for attendance tables, the
// portal has been observed serving at least three different layouts.
// Tables are scored by header keywords and the best match is parsed
// with regex heuristics.

var ratioRegex = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
var percentRegex = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
var integerRegex = regexp.MustCompile(`^\d+$`)
var floatRegex = regexp.MustCompile(`^\d+(?:\.\d+)?$`)

var headerKeywords = []string{
	"subject",
	"course",
	"attendance",
	"attended",
	"present",
	"total",
	"held",
	"conducted",
	"percentage",
	"%",
}

// names closer than this are considered the same subject listed twice
const duplicateNameSimilarity = 0.93

func ExtractAttendance(html string) ([]Row, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	table := findAttendanceTable(doc)
	if table == nil {
		return nil, ErrNoData
	}

	var rows []Row
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		if tr.Find("th").Length() > 0 {
			return
		}
		row, ok := parseRow(tr)
		if !ok {
			return
		}
		rows = append(rows, row)
	})

	rows = mergeDuplicates(rows)
	if len(rows) == 0 {
		return nil, ErrNoData
	}
	return rows, nil
}

func findAttendanceTable(doc *goquery.Document) *goquery.Selection {
	var best *goquery.Selection
	bestScore := 0

	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		header := table.Find("th").Text()
		if header == "" {
			header = table.Find("tr").First().Text()
		}
		score := scoreHeader(header)
		if score > bestScore {
			bestScore = score
			best = table
		}
	})

	// a single keyword hit is too weak, random layout tables mention
	// "total" all the time
	if bestScore < 2 {
		return nil
	}
	return best
}

func scoreHeader(header string) int {
	score := 0
	for _, kw := range headerKeywords {
		if textutil.MatchName(header, []string{kw}) {
			score++
		}
	}
	return score
}

func parseRow(tr *goquery.Selection) (Row, bool) {
	var cells []string
	tr.Find("td").Each(func(_ int, td *goquery.Selection) {
		cells = append(cells, htmlutil.CleanText(td.Text()))
	})
	if len(cells) < 2 {
		return Row{}, false
	}

	row := Row{
		Subject:    findSubject(cells),
		Percentage: -1,
	}
	if row.Subject == "" {
		return Row{}, false
	}

	findCounts(cells, &row)
	findPercentage(cells, &row)

	if row.Total <= 0 && row.Percentage < 0 {
		return Row{}, false
	}
	if row.Percentage < 0 && row.Total > 0 {
		row.Percentage = float64(row.Attended) / float64(row.Total) * 100
	}
	return row, true
}

// the subject is the first cell that carries letters and isn't itself
// a ratio or percentage
func findSubject(cells []string) string {
	for _, cell := range cells {
		if cell == "" {
			continue
		}
		if ratioRegex.MatchString(cell) || percentRegex.MatchString(cell) {
			continue
		}
		if !strings.ContainsFunc(cell, isLetter) {
			continue
		}
		return cell
	}
	return ""
}

func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

func findCounts(cells []string, row *Row) {
	// layout A: a single "attended/total" cell
	for _, cell := range cells {
		groups := ratioRegex.FindStringSubmatch(cell)
		if len(groups) == 3 {
			row.Attended, _ = strconv.Atoi(groups[1])
			row.Total, _ = strconv.Atoi(groups[2])
			return
		}
	}

	// layout B: separate numeric columns, attended before total
	var ints []int
	for _, cell := range cells {
		if percentRegex.MatchString(cell) {
			continue
		}
		if !integerRegex.MatchString(cell) {
			continue
		}
		n, err := strconv.Atoi(cell)
		if err != nil {
			continue
		}
		ints = append(ints, n)
	}
	if len(ints) < 2 {
		return
	}
	attended, total := ints[0], ints[1]
	if attended > total {
		attended, total = total, attended
	}
	row.Attended = attended
	row.Total = total
}

func findPercentage(cells []string, row *Row) {
	for _, cell := range cells {
		groups := percentRegex.FindStringSubmatch(cell)
		if len(groups) == 2 {
			pct, err := strconv.ParseFloat(groups[1], 64)
			if err == nil {
				row.Percentage = pct
				return
			}
		}
	}

	// layout C: a bare float column, only plausible as a percentage
	for _, cell := range cells {
		if integerRegex.MatchString(cell) || !floatRegex.MatchString(cell) {
			continue
		}
		pct, err := strconv.ParseFloat(cell, 64)
		if err == nil && pct <= 100 {
			row.Percentage = pct
			return
		}
	}
}

// mergeDuplicates collapses rows whose subject names are near-identical,
// the portal repeats subjects across sections with slightly different
// labels. The row with the larger class count wins.
func mergeDuplicates(rows []Row) []Row {
	var out []Row
	for _, row := range rows {
		merged := false
		for i, existing := range out {
			left := textutil.NormalizeName(existing.Subject)
			right := textutil.NormalizeName(row.Subject)
			if matchr.JaroWinkler(left, right, false) < duplicateNameSimilarity {
				continue
			}
			if row.Total > existing.Total {
				out[i] = row
			}
			merged = true
			break
		}
		if !merged {
			out = append(out, row)
		}
	}
	return out
}

var welcomeRegex = regexp.MustCompile(`(?i)welcome,?\s+([A-Za-z][A-Za-z .]+)`)

var studentNameSelectors = []string{
	".student-name",
	"#studentName",
	"#student-name",
	".profile-name",
	"span.username",
	"div.user-info strong",
}

// ExtractStudentName probes a cascade of selectors for the logged-in
// student's display name, falling back to a "Welcome, X" text match.
// Returns "" when nothing plausible is found.
func ExtractStudentName(doc *goquery.Document) string {
	for _, sel := range studentNameSelectors {
		name := htmlutil.CleanText(doc.Find(sel).First().Text())
		if name != "" {
			return name
		}
	}

	groups := welcomeRegex.FindStringSubmatch(doc.Text())
	if len(groups) == 2 {
		return htmlutil.CleanText(groups[1])
	}
	return ""
}
