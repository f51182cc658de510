package attendance

import (
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/smtp"
	"strings"

	"attendease-backend/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/jordan-wright/email"
)

type notifyRequest struct {
	Email string `json:"email" binding:"required"`
}

func (s *Service) handleNotify(c *gin.Context) {
	if s.cfg.Smtp.Server == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"success": false,
			"message": "Email delivery is not configured.",
		})
		return
	}

	var req notifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "email is required",
		})
		return
	}

	studentId := auth.StudentId(c)
	report, err := s.loadReport(c.Request.Context(), studentId)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"message": "No report to send yet, fetch attendance first.",
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

	err = s.sendReportMail(req.Email, report)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "send report mail", "err", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"message": "Failed to send the report.",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Service) sendReportMail(to string, report Report) error {
	mail := email.NewEmail()
	mail.From = fmt.Sprintf("AttendEase <%s>", s.cfg.Smtp.EmailAddress)
	mail.To = []string{to}
	mail.Subject = "Your attendance report"

	var body strings.Builder
	fmt.Fprintf(&body, "Attendance report for %s\n\n", studentLabel(report.Student))
	body.Write(RenderText(report))
	if report.Summary.Critical > 0 {
		fmt.Fprintf(&body,
			"\n%d subject(s) are below %.0f%% attendance, attend the listed classes to recover.\n",
			report.Summary.Critical, WarningThreshold)
	}
	mail.Text = []byte(body.String())

	addr := fmt.Sprintf("%s:%d", s.cfg.Smtp.Server, s.cfg.Smtp.Port)
	err := mail.Send(addr, smtp.PlainAuth("", s.cfg.Smtp.EmailAddress, s.cfg.Smtp.Password, s.cfg.Smtp.Server))
	if err != nil && strings.Contains(err.Error(), "server doesn't support AUTH") {
		return mail.Send(addr, nil)
	}
	return err
}
