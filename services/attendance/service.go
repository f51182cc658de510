package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"attendease-backend/lib/attendancestore"
	"attendease-backend/lib/scrapers/portal"
	"attendease-backend/services/attendance/db"
	"attendease-backend/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/attendance")

const (
	SourcePortal = "portal"
	SourceCache  = "cache"
	SourceDemo   = "demo"
)

type SmtpConfig struct {
	Server       string `json:"server"`
	Port         int    `json:"port"`
	EmailAddress string `json:"email_address"`
	Password     string `json:"password"`
}

type Config struct {
	Portal portal.Config `json:"portal"`
	// CacheTtlMinutes bounds how long a scraped report is served
	// without hitting the portal again.
	CacheTtlMinutes int        `json:"cache_ttl_minutes"`
	DemoFallback    bool       `json:"demo_fallback"`
	Smtp            SmtpConfig `json:"smtp"`
}

func (c Config) cacheTtl() time.Duration {
	if c.CacheTtlMinutes <= 0 {
		return time.Minute * 30
	}
	return time.Duration(c.CacheTtlMinutes) * time.Minute
}

type Service struct {
	cfg     Config
	auth    auth.Service
	qry     *db.Queries
	history attendancestore.Store
	// logged-in portal sessions, so fetch doesn't re-login every time.
	// headless clients are never cached, they hold a live browser.
	sessions *expirable.LRU[string, *portal.Client]
	started  time.Time
}

func NewService(database *sql.DB, authService auth.Service, cfg Config) *Service {
	sessions := expirable.NewLRU(
		1024,
		func(_ string, client *portal.Client) { client.Close() },
		time.Minute*15,
	)
	return &Service{
		cfg:      cfg,
		auth:     authService,
		qry:      db.New(database),
		history:  attendancestore.NewStore(database),
		sessions: sessions,
		started:  time.Now(),
	}
}

func (s *Service) RegisterRoutes(router *gin.Engine, limiter gin.HandlerFunc) {
	api := router.Group("/api")
	api.POST("/auth/login", limiter, s.handleLogin)

	att := api.Group("/attendance")
	att.GET("/status", s.handleStatus)

	authed := att.Group("", s.auth.Middleware())
	authed.POST("/fetch", limiter, s.handleFetch)
	authed.GET("/history", s.handleHistory)
	authed.GET("/export", s.handleExport)
	authed.POST("/notify", s.handleNotify)

	router.GET("/health", s.handleHealth)
}

// login performs a live portal login and returns the session client.
// The caller owns the client.
func (s *Service) login(ctx context.Context, userId, password string) (*portal.Client, error) {
	ctx, span := tracer.Start(ctx, "login")
	defer span.End()

	client, err := portal.NewClient(s.cfg.Portal)
	if err != nil {
		return nil, err
	}
	err = client.Login(ctx, userId, password)
	if err != nil {
		client.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "portal login failed")
		return nil, err
	}
	return client, nil
}

// keepSession caches the logged-in client for reuse. Headless clients
// are closed instead, their browser must not outlive the request.
func (s *Service) keepSession(studentId string, client *portal.Client) {
	if client.UsesHeadless() {
		client.Close()
		return
	}
	s.sessions.Add(studentId, client)
}

// dropSession disposes of a client whose session went bad. Cached
// clients are evicted (which closes them), fresh ones closed directly.
func (s *Service) dropSession(studentId string, client *portal.Client, cached bool) {
	if cached {
		s.sessions.Remove(studentId)
		return
	}
	client.Close()
}

type errorResponse struct {
	status  int
	message string
}

// classifyError maps scraping failures onto the HTTP contract: 401 for
// rejected credentials, 429 for portal lockout, 504 for navigation
// timeout, 503 for everything else.
func classifyError(err error) errorResponse {
	switch {
	case errors.Is(err, portal.ErrLoginFailed):
		return errorResponse{http.StatusUnauthorized, "Invalid user id or password."}
	case errors.Is(err, portal.ErrRateLimited):
		return errorResponse{http.StatusTooManyRequests, "The portal is rate limiting login attempts, try again later."}
	case errors.Is(err, context.DeadlineExceeded):
		return errorResponse{http.StatusGatewayTimeout, "The portal took too long to respond."}
	default:
		return errorResponse{http.StatusServiceUnavailable, "Could not reach the portal."}
	}
}

type loginRequest struct {
	UserId   string `json:"userId" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (s *Service) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "userId and password are required",
		})
		return
	}

	// the token subject is normalized, key everything the same way so
	// the fetch handler finds the session cached here
	studentId := auth.NormalizeStudentId(req.UserId)

	client, err := s.login(c.Request.Context(), studentId, req.Password)
	if err != nil {
		res := classifyError(err)

		// credential rejection and lockout are real answers, only
		// infrastructure failures may fall back to demo mode
		if s.cfg.DemoFallback &&
			res.status != http.StatusUnauthorized &&
			res.status != http.StatusTooManyRequests {
			slog.WarnContext(c.Request.Context(), "portal unreachable, issuing demo session", "err", err)
			s.respondLoginSuccess(c, demoStudent(studentId), SourceDemo)
			return
		}

		c.JSON(res.status, gin.H{"success": false, "message": res.message})
		return
	}

	student := Student{ID: studentId, Name: client.Student().Name}
	s.keepSession(studentId, client)
	s.respondLoginSuccess(c, student, SourcePortal)
}

func (s *Service) respondLoginSuccess(c *gin.Context, student Student, source string) {
	token, err := s.auth.IssueToken(student.ID)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "issue token", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to create a session.",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"student": student,
		"source":  source,
	})
}

type fetchRequest struct {
	// Password is optional while a cached portal session is alive.
	Password string `json:"password"`
}

func (s *Service) handleFetch(c *gin.Context) {
	ctx := c.Request.Context()
	studentId := auth.StudentId(c)

	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"message": "malformed request body",
		})
		return
	}

	if cached, err := s.getCachedReport(ctx, studentId); err == nil {
		slog.DebugContext(ctx, "report cache hit", "student_id", studentId)
		c.Header("cache-control", "max-age=600")
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"source":  SourceCache,
			"data":    cached,
		})
		return
	}

	report, source, errRes := s.scrape(ctx, studentId, req.Password)
	if errRes != nil {
		c.JSON(errRes.status, gin.H{"success": false, "message": errRes.message})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"source":  source,
		"data":    report,
	})
}

// scrape runs the live portal workflow for a student, falling back to
// the demo dataset when enabled.
func (s *Service) scrape(ctx context.Context, studentId, password string) (Report, string, *errorResponse) {
	ctx, span := tracer.Start(ctx, "scrape")
	defer span.End()

	demoFallback := func(err error) (Report, string, *errorResponse) {
		res := classifyError(err)
		if !s.cfg.DemoFallback ||
			res.status == http.StatusUnauthorized ||
			res.status == http.StatusTooManyRequests {
			return Report{}, "", &res
		}
		slog.WarnContext(ctx, "scrape failed, substituting demo data", "err", err)
		report := BuildReport(demoStudent(studentId), demoRows(), time.Now())
		s.cacheReport(ctx, studentId, report, SourceDemo)
		return report, SourceDemo, nil
	}

	client, cached := s.sessions.Get(studentId)
	if !cached {
		if password == "" {
			return Report{}, "", &errorResponse{
				http.StatusUnauthorized,
				"Session expired, provide the portal password again.",
			}
		}
		var err error
		client, err = s.login(ctx, studentId, password)
		if err != nil {
			return demoFallback(err)
		}
	}

	report, err := s.scrapeSession(ctx, studentId, client, cached)
	if err != nil && cached && password != "" {
		// the portal may have expired the cached session on its side,
		// retry once over a fresh login before giving up
		span.AddEvent("cached session failed, retrying with a fresh login")
		client, err = s.login(ctx, studentId, password)
		if err != nil {
			return demoFallback(err)
		}
		report, err = s.scrapeSession(ctx, studentId, client, false)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attendance scrape failed")
		return demoFallback(err)
	}

	s.cacheReport(ctx, studentId, report, SourcePortal)
	s.recordHistory(ctx, studentId, report)

	return report, SourcePortal, nil
}

// scrapeSession fetches and parses the attendance page over an
// established portal session. The client is disposed of on failure and
// kept for reuse on success.
func (s *Service) scrapeSession(ctx context.Context, studentId string, client *portal.Client, cached bool) (Report, error) {
	html, err := client.FetchAttendanceHTML(ctx)
	if err != nil {
		s.dropSession(studentId, client, cached)
		return Report{}, err
	}

	rows, err := portal.ExtractAttendance(html)
	if err != nil {
		s.dropSession(studentId, client, cached)
		return Report{}, err
	}

	student := Student{ID: studentId, Name: client.Student().Name}
	report := BuildReport(student, rows, time.Now())
	if !cached {
		s.keepSession(studentId, client)
	}
	return report, nil
}

func (s *Service) getCachedReport(ctx context.Context, studentId string) (Report, error) {
	row, err := s.qry.GetReport(ctx, studentId)
	if err != nil {
		return Report{}, err
	}
	if time.Since(time.Unix(row.LastUpdated, 0)) > s.cfg.cacheTtl() {
		return Report{}, errors.New("cached report is stale")
	}

	var report Report
	err = json.Unmarshal(row.Report, &report)
	return report, err
}

// loadReport returns the cached report regardless of age, for export
// and notify which should work off the last known data.
func (s *Service) loadReport(ctx context.Context, studentId string) (Report, error) {
	row, err := s.qry.GetReport(ctx, studentId)
	if err != nil {
		return Report{}, err
	}
	var report Report
	err = json.Unmarshal(row.Report, &report)
	return report, err
}

func (s *Service) cacheReport(ctx context.Context, studentId string, report Report, source string) {
	marshaled, err := json.Marshal(report)
	if err != nil {
		slog.WarnContext(ctx, "marshal report for cache", "err", err)
		return
	}
	err = s.qry.UpsertReport(ctx, db.UpsertReportParams{
		Student: studentId,
		Report:  marshaled,
		Source:  source,
	})
	if err != nil {
		slog.WarnContext(ctx, "cache report", "err", err)
	}
}

// recordHistory pushes percentage snapshots, best effort.
func (s *Service) recordHistory(ctx context.Context, studentId string, report Report) {
	subjects := make([]attendancestore.SubjectSnapshot, len(report.Attendance))
	for i, a := range report.Attendance {
		subjects[i] = attendancestore.SubjectSnapshot{
			Subject:    a.Subject,
			Attended:   a.Attended,
			Total:      a.Total,
			Percentage: a.Percentage,
		}
	}
	err := s.history.Push(ctx, attendancestore.PushRequest{
		Time:     time.Now(),
		Student:  studentId,
		Subjects: subjects,
	})
	if err != nil {
		slog.WarnContext(ctx, "record attendance history", "err", err)
	}
}

func (s *Service) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"portalConfigured": s.cfg.Portal.BaseUrl != "",
		"headless":         s.cfg.Portal.Headless,
		"demoFallback":     s.cfg.DemoFallback,
		"cacheTtlMinutes":  int(s.cfg.cacheTtl().Minutes()),
	})
}

func (s *Service) handleHistory(c *gin.Context) {
	studentId := auth.StudentId(c)

	series, err := s.history.Pull(c.Request.Context(), studentId)
	if err != nil {
		slog.ErrorContext(c.Request.Context(), "pull attendance history", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "Failed to load attendance history.",
		})
		return
	}

	type snapshotJson struct {
		Time       int64   `json:"time"`
		Attended   int     `json:"attended"`
		Total      int     `json:"total"`
		Percentage float64 `json:"percentage"`
	}
	type seriesJson struct {
		Subject   string         `json:"subject"`
		Snapshots []snapshotJson `json:"snapshots"`
	}

	out := make([]seriesJson, len(series))
	for i, subject := range series {
		snapshots := make([]snapshotJson, len(subject.Snapshots))
		for j, snap := range subject.Snapshots {
			snapshots[j] = snapshotJson{
				Time:       snap.Time.Unix(),
				Attended:   snap.Attended,
				Total:      snap.Total,
				Percentage: snap.Percentage,
			}
		}
		out[i] = seriesJson{Subject: subject.Subject, Snapshots: snapshots}
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": out})
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.started).Round(time.Second).String(),
	})
}
