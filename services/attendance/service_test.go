package attendance

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"attendease-backend/lib/attendancestore"
	"attendease-backend/lib/ginutil"
	"attendease-backend/lib/scrapers/portal"
	"attendease-backend/lib/testutil"
	"attendease-backend/services/attendance/db"
	"attendease-backend/services/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type testService struct {
	service *Service
	router  *gin.Engine
	auth    auth.Service
	db      *sql.DB
}

func setupTestService(t *testing.T, cfg Config) testService {
	setup, cleanup := testutil.SetupService(t, testutil.ServiceParams{
		Name:     "services/attendance",
		DbSchema: db.Schema + attendancestore.Schema,
	})
	t.Cleanup(cleanup)

	gin.SetMode(gin.TestMode)
	authService := auth.NewService(auth.Options{Secret: "test-secret"})
	service := NewService(setup.DB, authService, cfg)

	router := gin.New()
	service.RegisterRoutes(router, ginutil.RateLimit(ginutil.RateLimitConfig{
		RequestsPerMinute: 6000,
		Burst:             6000,
	}))

	return testService{
		service: service,
		router:  router,
		auth:    authService,
		db:      setup.DB,
	}
}

func postJson(t *testing.T, router *gin.Engine, path, token string, body any) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("content-type", "application/json")
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func getJson(t *testing.T, router *gin.Engine, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

const testAttendancePage = `
<html><body>
<table>
	<tr><th>Subject</th><th>Attended</th><th>Total</th></tr>
	<tr><td>Data Structures</td><td>28</td><td>40</td></tr>
	<tr><td>Computer Networks</td><td>36</td><td>44</td></tr>
</table>
</body></html>`

// acceptingPortal logs every credential in and expires its sessions
// when told to. Logins are counted so tests can assert session reuse.
type acceptingPortal struct {
	server   *httptest.Server
	logins   atomic.Int32
	loggedIn atomic.Bool
}

func newAcceptingPortal(t *testing.T) *acceptingPortal {
	p := &acceptingPortal{}

	loginPage := `<html><body>
		<form action="/login" method="post">
			<input type="text" name="username"/>
			<input type="password" name="password"/>
		</form>
	</body></html>`

	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		p.logins.Add(1)
		p.loggedIn.Store(true)
		fmt.Fprint(w, `<html><body>
			<div class="student-name">Priya Sharma</div>
			<a href="/logout">Logout</a>
		</body></html>`)
	})
	mux.HandleFunc("GET /student/attendance", func(w http.ResponseWriter, r *http.Request) {
		if !p.loggedIn.Load() {
			fmt.Fprint(w, loginPage)
			return
		}
		fmt.Fprint(w, testAttendancePage)
	})

	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func TestFetchReusesLoginSession(t *testing.T) {
	p := newAcceptingPortal(t)
	ts := setupTestService(t, Config{Portal: portal.Config{BaseUrl: p.server.URL}})

	// mixed-case ids must land on the same session key the token carries
	w := postJson(t, ts.router, "/api/auth/login", "", gin.H{
		"userId":   "21BCE1234",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Token   string  `json:"token"`
		Source  string  `json:"source"`
		Student Student `json:"student"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, SourcePortal, res.Source)
	require.Equal(t, "21bce1234", res.Student.ID)

	// no password, the session cached at login must carry the fetch
	w = postJson(t, ts.router, "/api/attendance/fetch", res.Token, gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	var fetch struct {
		Source string `json:"source"`
		Data   Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetch))
	require.Equal(t, SourcePortal, fetch.Source)
	require.Len(t, fetch.Data.Attendance, 2)
	require.Equal(t, int32(1), p.logins.Load())
}

func TestFetchRetriesExpiredPortalSession(t *testing.T) {
	p := newAcceptingPortal(t)
	ts := setupTestService(t, Config{Portal: portal.Config{BaseUrl: p.server.URL}})

	w := postJson(t, ts.router, "/api/auth/login", "", gin.H{
		"userId":   "21bce1234",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))

	// the portal drops the session behind our back, the fetch carries
	// the password so it must re-login instead of falling back
	p.loggedIn.Store(false)

	w = postJson(t, ts.router, "/api/attendance/fetch", res.Token, gin.H{
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var fetch struct {
		Source string `json:"source"`
		Data   Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetch))
	require.Equal(t, SourcePortal, fetch.Source)
	require.Len(t, fetch.Data.Attendance, 2)
	require.Equal(t, int32(2), p.logins.Load())
}

func TestReportCache(t *testing.T) {
	ts := setupTestService(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	report := BuildReport(
		Student{ID: "21bce1234", Name: "Priya Sharma"},
		[]portal.Row{{Subject: "Computer Networks", Attended: 36, Total: 44, Percentage: 81.82}},
		time.Now(),
	)
	ts.service.cacheReport(ctx, "21bce1234", report, SourcePortal)

	got, err := ts.service.getCachedReport(ctx, "21bce1234")
	require.NoError(t, err)
	require.Equal(t, report.Student, got.Student)
	require.Equal(t, report.Summary, got.Summary)

	// once past the ttl the cache misses but export/notify still load it
	_, err = ts.db.Exec(`UPDATE report_cache SET last_updated = unixepoch() - 86400`)
	require.NoError(t, err)

	_, err = ts.service.getCachedReport(ctx, "21bce1234")
	require.Error(t, err)

	got, err = ts.service.loadReport(ctx, "21bce1234")
	require.NoError(t, err)
	require.Equal(t, report.Summary, got.Summary)

	_, err = ts.service.getCachedReport(ctx, "someone-else")
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestLoginDemoFallback(t *testing.T) {
	ts := setupTestService(t, Config{
		Portal:       portal.Config{BaseUrl: "http://127.0.0.1:1"},
		DemoFallback: true,
	})

	w := postJson(t, ts.router, "/api/auth/login", "", gin.H{
		"userId":   "21bce1234",
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res struct {
		Success bool    `json:"success"`
		Token   string  `json:"token"`
		Source  string  `json:"source"`
		Student Student `json:"student"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Success)
	require.Equal(t, SourceDemo, res.Source)
	require.NotEmpty(t, res.Token)
	require.Equal(t, "21bce1234", res.Student.ID)

	// fetch with the issued token, the portal is still unreachable so
	// the demo dataset comes back
	w = postJson(t, ts.router, "/api/attendance/fetch", res.Token, gin.H{
		"password": "hunter2",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var fetch struct {
		Success bool   `json:"success"`
		Source  string `json:"source"`
		Data    Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetch))
	require.Equal(t, SourceDemo, fetch.Source)
	require.NotEmpty(t, fetch.Data.Attendance)
	require.Positive(t, fetch.Data.Summary.Critical)
}

func TestLoginRejectedSkipsDemoFallback(t *testing.T) {
	// a reachable portal that rejects every credential must surface 401
	// even with the demo fallback enabled
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<form action="/login" method="post">
				<input type="text" name="username"/>
				<input type="password" name="password"/>
			</form>
			Invalid username or password.
		</body></html>`)
	}))
	defer server.Close()

	ts := setupTestService(t, Config{
		Portal:       portal.Config{BaseUrl: server.URL},
		DemoFallback: true,
	})

	w := postJson(t, ts.router, "/api/auth/login", "", gin.H{
		"userId":   "21bce1234",
		"password": "wrong",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestFetchServedFromCache(t *testing.T) {
	ts := setupTestService(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	report := BuildReport(
		Student{ID: "21bce1234"},
		[]portal.Row{{Subject: "Data Structures", Attended: 28, Total: 40, Percentage: 70}},
		time.Now(),
	)
	ts.service.cacheReport(ctx, "21bce1234", report, SourcePortal)

	token, err := ts.auth.IssueToken("21bce1234")
	require.NoError(t, err)

	// no password needed, the cached report short-circuits scraping
	w := postJson(t, ts.router, "/api/attendance/fetch", token, gin.H{})
	require.Equal(t, http.StatusOK, w.Code)

	var fetch struct {
		Source string `json:"source"`
		Data   Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetch))
	require.Equal(t, SourceCache, fetch.Source)
	require.Equal(t, report.Summary, fetch.Data.Summary)
}

func TestFetchRequiresToken(t *testing.T) {
	ts := setupTestService(t, Config{})

	w := postJson(t, ts.router, "/api/attendance/fetch", "", gin.H{})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = postJson(t, ts.router, "/api/attendance/fetch", "not-a-token", gin.H{})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExportEndpoint(t *testing.T) {
	ts := setupTestService(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	token, err := ts.auth.IssueToken("21bce1234")
	require.NoError(t, err)

	// nothing cached yet
	w := getJson(t, ts.router, "/api/attendance/export", token)
	require.Equal(t, http.StatusNotFound, w.Code)

	report := BuildReport(
		Student{ID: "21bce1234"},
		[]portal.Row{{Subject: "Data Structures", Attended: 28, Total: 40, Percentage: 70}},
		time.Now(),
	)
	ts.service.cacheReport(ctx, "21bce1234", report, SourcePortal)

	w = getJson(t, ts.router, "/api/attendance/export", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "text/csv", w.Header().Get("content-type"))
	require.Contains(t, w.Body.String(), "Data Structures")

	w = getJson(t, ts.router, "/api/attendance/export?format=txt", token)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Data Structures")

	w = getJson(t, ts.router, "/api/attendance/export?format=pdf", token)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatusAndHealth(t *testing.T) {
	ts := setupTestService(t, Config{
		Portal:       portal.Config{BaseUrl: "https://portal.example.edu", Headless: true},
		DemoFallback: true,
	})

	w := getJson(t, ts.router, "/api/attendance/status", "")
	require.Equal(t, http.StatusOK, w.Code)

	var status struct {
		Success          bool `json:"success"`
		PortalConfigured bool `json:"portalConfigured"`
		Headless         bool `json:"headless"`
		DemoFallback     bool `json:"demoFallback"`
		CacheTtlMinutes  int  `json:"cacheTtlMinutes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.True(t, status.Success)
	require.True(t, status.PortalConfigured)
	require.True(t, status.Headless)
	require.True(t, status.DemoFallback)
	require.Equal(t, 30, status.CacheTtlMinutes)

	w = getJson(t, ts.router, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestHistoryRecordedOnScrape(t *testing.T) {
	ts := setupTestService(t, Config{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	report := BuildReport(
		Student{ID: "21bce1234"},
		[]portal.Row{
			{Subject: "Data Structures", Attended: 28, Total: 40, Percentage: 70},
			{Subject: "Computer Networks", Attended: 36, Total: 44, Percentage: 81.82},
		},
		time.Now(),
	)
	ts.service.recordHistory(ctx, "21bce1234", report)

	token, err := ts.auth.IssueToken("21bce1234")
	require.NoError(t, err)

	w := getJson(t, ts.router, "/api/attendance/history", token)
	require.Equal(t, http.StatusOK, w.Code)

	var history struct {
		Data []struct {
			Subject   string `json:"subject"`
			Snapshots []struct {
				Attended int `json:"attended"`
				Total    int `json:"total"`
			} `json:"snapshots"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &history))
	require.Len(t, history.Data, 2)
	require.Len(t, history.Data[0].Snapshots, 1)
}
