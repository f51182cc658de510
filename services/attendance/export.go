package attendance

import (
	"bytes"
	"database/sql"
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"attendease-backend/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/xuri/excelize/v2"
)

const (
	ExportFormatCsv  = "csv"
	ExportFormatXlsx = "xlsx"
	ExportFormatText = "txt"
)

var exportHeader = []string{"Subject", "Attended", "Total", "Percentage", "Status"}

func exportRow(a SubjectAttendance) []string {
	return []string{
		a.Subject,
		strconv.Itoa(a.Attended),
		strconv.Itoa(a.Total),
		fmt.Sprintf("%.2f%%", a.Percentage),
		string(a.Status),
	}
}

func exportCsv(report Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(exportHeader); err != nil {
		return nil, err
	}
	for _, a := range report.Attendance {
		if err := w.Write(exportRow(a)); err != nil {
			return nil, err
		}
	}
	if err := w.Write([]string{
		"Overall",
		strconv.Itoa(report.Summary.Attended),
		strconv.Itoa(report.Summary.Total),
		fmt.Sprintf("%.2f%%", report.Summary.OverallPercentage),
		string(report.Summary.OverallStatus),
	}); err != nil {
		return nil, err
	}

	w.Flush()
	return buf.Bytes(), w.Error()
}

func exportXlsx(report Report) ([]byte, error) {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}

	for i, a := range report.Attendance {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		row := []interface{}{a.Subject, a.Attended, a.Total, a.Percentage, string(a.Status)}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return nil, err
		}
	}

	summaryCell, err := excelize.CoordinatesToCellName(1, len(report.Attendance)+2)
	if err != nil {
		return nil, err
	}
	summary := []interface{}{
		"Overall",
		report.Summary.Attended,
		report.Summary.Total,
		report.Summary.OverallPercentage,
		string(report.Summary.OverallStatus),
	}
	if err := f.SetSheetRow(sheet, summaryCell, &summary); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// RenderText renders the report the same way the CLI prints it.
func RenderText(report Report) []byte {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("Attendance report for %s", studentLabel(report.Student)))
	t.AppendHeader(table.Row{"Subject", "Attended", "Total", "Percentage", "Status"})
	for _, a := range report.Attendance {
		t.AppendRow(table.Row{
			a.Subject,
			a.Attended,
			a.Total,
			fmt.Sprintf("%.2f%%", a.Percentage),
			string(a.Status),
		})
	}
	t.AppendFooter(table.Row{
		"Overall",
		report.Summary.Attended,
		report.Summary.Total,
		fmt.Sprintf("%.2f%%", report.Summary.OverallPercentage),
		string(report.Summary.OverallStatus),
	})
	return []byte(t.Render() + "\n")
}

func studentLabel(student Student) string {
	if student.Name != "" {
		return student.Name
	}
	return student.ID
}

func (s *Service) handleExport(c *gin.Context) {
	studentId := auth.StudentId(c)

	report, err := s.loadReport(c.Request.Context(), studentId)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "No report to export yet, fetch attendance first.",
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to load the cached report.",
		})
		return
	}

	format := c.DefaultQuery("format", ExportFormatCsv)
	var payload []byte
	var contentType string
	switch format {
	case ExportFormatCsv:
		payload, err = exportCsv(report)
		contentType = "text/csv"
	case ExportFormatXlsx:
		payload, err = exportXlsx(report)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExportFormatText:
		payload = RenderText(report)
		contentType = "text/plain; charset=utf-8"
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": fmt.Sprintf("unknown export format %q", format),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to render the export.",
		})
		return
	}

	filename := fmt.Sprintf("attendance-%s.%s", studentId, format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}
