package portal

import (
	"bytes"
	"context"
	"fmt"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"time"

	"attendease-backend/lib/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("scrapers/portal")

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36"

// Client drives one logged-in portal session. A client is cheap to
// construct and is torn down after use, there is no shared browser
// state between students.
type Client struct {
	cfg     Config
	baseUrl *url.URL
	http    *resty.Client
	student Student

	// set once a headless browser session has been opened
	headless *headlessSession
}

func NewClient(cfg Config) (*Client, error) {
	baseUrl, err := url.Parse(cfg.BaseUrl)
	if err != nil {
		return nil, err
	}
	if baseUrl.Host == "" {
		return nil, fmt.Errorf("portal base url %q has no host", cfg.BaseUrl)
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseUrl)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", browserUserAgent)
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "scrapers/portal/http")

	return &Client{
		cfg:     cfg,
		baseUrl: baseUrl,
		http:    client,
	}, nil
}

// Student returns whatever profile information login managed to
// extract. The name may be empty, the portal doesn't always render one.
func (c *Client) Student() Student {
	return c.student
}

// Close releases the headless browser, if one was opened.
func (c *Client) Close() {
	if c.headless != nil {
		c.headless.close()
		c.headless = nil
	}
}

// Login authenticates against the portal. Credential rejection comes
// back as ErrLoginFailed, detected lockout text as ErrRateLimited.
func (c *Client) Login(ctx context.Context, userId, password string) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	c.student = Student{ID: userId}

	if c.cfg.Headless {
		return c.loginHeadless(ctx, userId, password)
	}

	err := c.loginStatic(ctx, userId, password)
	if err == errNoLoginForm {
		// the form is likely rendered with javascript, retry in a
		// real browser
		span.AddEvent("static login form not found, retrying headless")
		return c.loginHeadless(ctx, userId, password)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "static login failed")
	}
	return err
}

// FetchAttendanceHTML returns the raw HTML of the attendance page for
// the logged-in session.
func (c *Client) FetchAttendanceHTML(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "client:FetchAttendanceHTML")
	defer span.End()

	if c.headless != nil {
		return c.fetchAttendanceHTMLHeadless(ctx)
	}

	res, err := c.http.R().
		SetContext(ctx).
		Get(c.cfg.attendancePath())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch attendance page")
		return "", err
	}
	return string(res.Body()), nil
}

var errNoLoginForm = fmt.Errorf("could not locate a login form")

// candidate selectors for the user id field, tried in order
var userFieldSelectors = []string{
	"input[name=userid]",
	"input[name=username]",
	"input[name=user_id]",
	"input[name=loginid]",
	"input[name=regno]",
	"input[name=rollno]",
	"input[type=email]",
	"input[type=text]",
}

var passwordFieldSelectors = []string{
	"input[name=password]",
	"input[type=password]",
}

var submitSelectors = []string{
	"button[type=submit]",
	"input[type=submit]",
	"button.login",
	"#login",
}

var loginFailRegex = regexp.MustCompile(
	`(?i)(invalid|incorrect|wrong)\s+(user\s?id|username|password|credentials)` +
		`|login failed|authentication failed`)
var rateLimitRegex = regexp.MustCompile(
	`(?i)too many (failed |login )*attempts|try again (after|later)` +
		`|temporarily (locked|blocked|disabled)|account (is )?locked`)

type loginForm struct {
	action    string
	userField string
	passField string
	hidden    map[string]string
}

func findLoginForm(doc *goquery.Document, fallbackAction string) (loginForm, error) {
	form := loginForm{hidden: map[string]string{}}

	var root *goquery.Selection
	doc.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		if f.Find("input[type=password]").Length() == 0 {
			return true
		}
		root = f
		return false
	})
	if root == nil {
		return form, errNoLoginForm
	}

	for _, sel := range userFieldSelectors {
		input := root.Find(sel).First()
		if input.Length() == 0 {
			continue
		}
		form.userField = input.AttrOr("name", "")
		if form.userField != "" {
			break
		}
	}
	for _, sel := range passwordFieldSelectors {
		input := root.Find(sel).First()
		if input.Length() == 0 {
			continue
		}
		form.passField = input.AttrOr("name", "")
		if form.passField != "" {
			break
		}
	}
	if form.userField == "" || form.passField == "" {
		return form, errNoLoginForm
	}

	// csrf/login tokens and friends ride along unchanged
	root.Find("input[type=hidden]").Each(func(_ int, input *goquery.Selection) {
		name := input.AttrOr("name", "")
		if name == "" {
			return
		}
		form.hidden[name] = input.AttrOr("value", "")
	})

	form.action = root.AttrOr("action", fallbackAction)
	if form.action == "" {
		form.action = fallbackAction
	}
	return form, nil
}

func (c *Client) loginStatic(ctx context.Context, userId, password string) error {
	ctx, span := tracer.Start(ctx, "client:loginStatic")
	defer span.End()

	res, err := c.http.R().
		SetContext(ctx).
		Get(c.cfg.loginPath())
	if err != nil {
		return err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return err
	}

	form, err := findLoginForm(doc, c.cfg.loginPath())
	if err != nil {
		return err
	}

	formData := map[string]string{
		form.userField: userId,
		form.passField: password,
	}
	for name, value := range form.hidden {
		formData[name] = value
	}

	res, err = c.http.R().
		SetContext(ctx).
		SetFormData(formData).
		Post(form.action)
	if err != nil {
		return err
	}
	doc, err = goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return err
	}

	err = classifyLoginOutcome(doc)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if name := ExtractStudentName(doc); name != "" {
		c.student.Name = name
	}
	return nil
}

// classifyLoginOutcome inspects the post-login page. The portal gives
// no structured signal, only error text and whether we were bounced
// back to the form.
func classifyLoginOutcome(doc *goquery.Document) error {
	text := doc.Text()
	if rateLimitRegex.MatchString(text) {
		return ErrRateLimited
	}
	if loginFailRegex.MatchString(text) {
		return ErrLoginFailed
	}
	if doc.Find("a[href*=logout], a[href*=signout]").Length() > 0 {
		return nil
	}
	if doc.Find("input[type=password]").Length() > 0 {
		// still staring at the login form
		return ErrLoginFailed
	}
	return nil
}
