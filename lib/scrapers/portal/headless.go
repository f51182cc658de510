package portal

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/codes"
)

// headlessSession owns one chromedp browser. Sessions are anchored on
// the request context, cancelling the request tears the browser down
// and aborts in-flight navigation.
type headlessSession struct {
	ctx     context.Context
	cancels []context.CancelFunc
}

func (s *headlessSession) close() {
	for i := len(s.cancels) - 1; i >= 0; i-- {
		s.cancels[i]()
	}
}

func (c *Client) navTimeout() time.Duration {
	if c.cfg.NavTimeoutSeconds > 0 {
		return time.Duration(c.cfg.NavTimeoutSeconds) * time.Second
	}
	return time.Second * 45
}

// UsesHeadless reports whether this client holds a live browser.
// Headless clients must not outlive the request that opened them.
func (c *Client) UsesHeadless() bool {
	return c.headless != nil
}

func (c *Client) openBrowser(ctx context.Context) *headlessSession {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.UserAgent(browserUserAgent),
		)...,
	)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	return &headlessSession{
		ctx:     browserCtx,
		cancels: []context.CancelFunc{allocCancel, browserCancel},
	}
}

func (c *Client) absoluteUrl(path string) string {
	ref, err := c.baseUrl.Parse(path)
	if err != nil {
		return c.cfg.BaseUrl + path
	}
	return ref.String()
}

// firstPresent probes a cascade of selectors and returns the first one
// that matches at least one node on the current page.
func firstPresent(ctx context.Context, selectors []string) (string, error) {
	for _, sel := range selectors {
		var nodes []*cdp.Node
		err := chromedp.Run(ctx,
			chromedp.Nodes(sel, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)),
		)
		if err != nil {
			return "", err
		}
		if len(nodes) > 0 {
			return sel, nil
		}
	}
	return "", nil
}

func (c *Client) loginHeadless(ctx context.Context, userId, password string) error {
	ctx, span := tracer.Start(ctx, "client:loginHeadless")
	defer span.End()

	if c.headless == nil {
		c.headless = c.openBrowser(ctx)
	}
	tctx, cancel := context.WithTimeout(c.headless.ctx, c.navTimeout())
	defer cancel()

	err := chromedp.Run(tctx,
		chromedp.Navigate(c.absoluteUrl(c.cfg.loginPath())),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open login page")
		return err
	}

	userSel, err := firstPresent(tctx, userFieldSelectors)
	if err != nil {
		return err
	}
	passSel, err := firstPresent(tctx, passwordFieldSelectors)
	if err != nil {
		return err
	}
	if userSel == "" || passSel == "" {
		span.SetStatus(codes.Error, errNoLoginForm.Error())
		return errNoLoginForm
	}

	err = chromedp.Run(tctx,
		chromedp.SendKeys(userSel, userId, chromedp.ByQuery),
		chromedp.SendKeys(passSel, password, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}

	submitSel, err := firstPresent(tctx, submitSelectors)
	if err != nil {
		return err
	}
	if submitSel != "" {
		err = chromedp.Run(tctx, chromedp.Click(submitSel, chromedp.ByQuery))
	} else {
		err = chromedp.Run(tctx, chromedp.Submit(passSel, chromedp.ByQuery))
	}
	if err != nil {
		return err
	}

	var html string
	err = chromedp.Run(tctx,
		// give post-login redirects a moment to settle
		chromedp.Sleep(time.Millisecond*1500),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return err
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
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

func (c *Client) fetchAttendanceHTMLHeadless(ctx context.Context) (string, error) {
	ctx, span := tracer.Start(ctx, "client:fetchAttendanceHTMLHeadless")
	defer span.End()

	tctx, cancel := context.WithTimeout(c.headless.ctx, c.navTimeout())
	defer cancel()

	var html string
	err := chromedp.Run(tctx,
		chromedp.Navigate(c.absoluteUrl(c.cfg.attendancePath())),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(time.Millisecond*1000),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch attendance page")
		return "", err
	}
	return html, nil
}
