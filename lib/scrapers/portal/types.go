package portal

import "errors"

// Row is one scraped attendance record, straight off the portal page.
type Row struct {
	Subject    string
	Attended   int
	Total      int
	Percentage float64
}

type Student struct {
	ID   string
	Name string
}

var (
	ErrLoginFailed = errors.New("portal rejected the provided credentials")
	ErrRateLimited = errors.New("portal is rate limiting login attempts")
	ErrNoData      = errors.New("no attendance data found on the page")
)

// Config describes the portal being scraped. The markup is third-party
// and unstable, so everything beyond the base url is a best-effort
// default.
type Config struct {
	BaseUrl        string `json:"base_url"`
	LoginPath      string `json:"login_path"`
	AttendancePath string `json:"attendance_path"`
	// Headless switches login/fetch to a chromedp-driven browser for
	// portals that render the login form with javascript.
	Headless          bool `json:"headless"`
	NavTimeoutSeconds int  `json:"nav_timeout_seconds"`
}

func (c Config) loginPath() string {
	if c.LoginPath == "" {
		return "/login"
	}
	return c.LoginPath
}

func (c Config) attendancePath() string {
	if c.AttendancePath == "" {
		return "/student/attendance"
	}
	return c.AttendancePath
}
