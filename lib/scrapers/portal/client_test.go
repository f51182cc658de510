package portal

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/require"
)

const fakeLoginPage = `
<html><body>
<form action="/login" method="post">
	<input type="hidden" name="csrf_token" value="tok-123"/>
	<input type="text" name="regno" placeholder="Register number"/>
	<input type="password" name="password"/>
	<button type="submit">Sign in</button>
</form>
</body></html>`

// fakePortal mimics the portal's login flow: cookie session, csrf
// token, unstructured error text on failure.
func fakePortal(t *testing.T, password string) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /login", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, fakeLoginPage)
	})
	mux.HandleFunc("POST /login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "tok-123", r.FormValue("csrf_token"))

		switch {
		case r.FormValue("regno") == "locked":
			fmt.Fprint(w, `<html><body>Too many failed attempts, try again later.</body></html>`)
		case r.FormValue("password") != password:
			fmt.Fprint(w, `<html><body>Invalid username or password.`+fakeLoginPage+`</body></html>`)
		default:
			http.SetCookie(w, &http.Cookie{Name: "session", Value: "s-1"})
			fmt.Fprint(w, `<html><body>
				<div class="student-name">Priya Sharma</div>
				<a href="/logout">Logout</a>
			</body></html>`)
		}
	})
	mux.HandleFunc("GET /student/attendance", func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("session")
		if err != nil || cookie.Value != "s-1" {
			fmt.Fprint(w, `<html><body>`+fakeLoginPage+`</body></html>`)
			return
		}
		fmt.Fprint(w, ratioLayoutPage)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestClientLoginAndFetch(t *testing.T) {
	server := fakePortal(t, "hunter2")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	client, err := NewClient(Config{BaseUrl: server.URL})
	require.NoError(t, err)
	defer client.Close()

	err = client.Login(ctx, "21bce1234", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "Priya Sharma", client.Student().Name)

	html, err := client.FetchAttendanceHTML(ctx)
	require.NoError(t, err)

	rows, err := ExtractAttendance(html)
	require.NoError(t, err)
	require.Len(t, rows, 3)
}

func TestClientLoginRejected(t *testing.T) {
	server := fakePortal(t, "hunter2")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	client, err := NewClient(Config{BaseUrl: server.URL})
	require.NoError(t, err)
	defer client.Close()

	err = client.Login(ctx, "21bce1234", "wrong")
	require.ErrorIs(t, err, ErrLoginFailed)
}

func TestClientLoginRateLimited(t *testing.T) {
	server := fakePortal(t, "hunter2")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	client, err := NewClient(Config{BaseUrl: server.URL})
	require.NoError(t, err)
	defer client.Close()

	err = client.Login(ctx, "locked", "hunter2")
	require.ErrorIs(t, err, ErrRateLimited)
}

func TestFindLoginForm(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fakeLoginPage))
	require.NoError(t, err)

	form, err := findLoginForm(doc, "/login")
	require.NoError(t, err)
	require.Equal(t, "/login", form.action)
	require.Equal(t, "regno", form.userField)
	require.Equal(t, "password", form.passField)
	require.Equal(t, map[string]string{"csrf_token": "tok-123"}, form.hidden)

	doc, err = goquery.NewDocumentFromReader(strings.NewReader(
		`<html><body><form><input type="text" name="q"/></form></body></html>`))
	require.NoError(t, err)
	_, err = findLoginForm(doc, "/login")
	require.ErrorIs(t, err, errNoLoginForm)
}

func TestClassifyLoginOutcome(t *testing.T) {
	parse := func(page string) *goquery.Document {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
		require.NoError(t, err)
		return doc
	}

	require.NoError(t, classifyLoginOutcome(parse(
		`<html><body><a href="/logout">Logout</a></body></html>`)))
	require.ErrorIs(t, classifyLoginOutcome(parse(
		`<html><body>Your account is locked.</body></html>`)), ErrRateLimited)
	require.ErrorIs(t, classifyLoginOutcome(parse(
		`<html><body>Authentication failed.</body></html>`)), ErrLoginFailed)
	// bounced straight back to the form with no error text
	require.ErrorIs(t, classifyLoginOutcome(parse(fakeLoginPage)), ErrLoginFailed)
}
