package topviews

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/eringen/topviews/analytics"
)

const testPassword = "correct horse"

func startTestApp(t *testing.T, seed func(*analytics.Store)) (*App, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	base := "http://" + ln.Addr().String()

	a := NewApp(SiteConfig{
		URL:                   base,
		AnalyticsDatabasePath: filepath.Join(t.TempDir(), "analytics.db"),
		AdminPassword:         testPassword,
		SessionSecret:         "0123456789abcdef0123456789abcdef",
		RefreshInterval:       -1,
		Widget: Config{
			Title:           "Popular",
			NumberOfResults: 2,
			Lookback:        24 * time.Hour,
		},
	}, WithLogger(zap.NewNop()))
	if err := a.Setup(context.Background()); err != nil {
		ln.Close()
		t.Fatalf("Setup failed: %v", err)
	}
	if seed != nil {
		seed(a.Store)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		if err := <-errCh; err != nil {
			t.Errorf("Serve: %v", err)
		}
	})
	return a, base
}

func seedViews(t *testing.T) func(*analytics.Store) {
	return func(s *analytics.Store) {
		at := time.Now().UTC().Add(-time.Hour)
		views := map[string]int{"Alpha": 3, "Beta": 1, "Gamma": 2}
		for title, n := range views {
			for i := 0; i < n; i++ {
				err := s.SaveVisit(context.Background(), &analytics.Visit{
					VisitorID:   "v" + title,
					SessionID:   "s",
					IPHash:      "ip",
					Browser:     "Firefox",
					OS:          "Linux",
					Device:      "Desktop",
					Path:        "/" + strings.ToLower(title),
					Title:       title,
					DocumentURL: "https://docs.example.com/" + strings.ToLower(title),
					Timestamp:   at,
				})
				if err != nil {
					t.Fatalf("SaveVisit: %v", err)
				}
			}
		}
	}
}

func waitForRefresh(t *testing.T, w *Widget) Status {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st := w.Status()
		if !st.LastRefresh.IsZero() || st.LastError != nil {
			return st
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("widget did not refresh")
	return Status{}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(b)
}

func TestSetupRequiresSecrets(t *testing.T) {
	a := NewApp(SiteConfig{AdminPassword: "x"}, WithLogger(zap.NewNop()))
	if err := a.Setup(context.Background()); err == nil || !strings.Contains(err.Error(), "SessionSecret") {
		t.Errorf("Setup err = %v, want SessionSecret error", err)
	}
	a = NewApp(SiteConfig{SessionSecret: "x"}, WithLogger(zap.NewNop()))
	if err := a.Setup(context.Background()); err == nil || !strings.Contains(err.Error(), "AdminPassword") {
		t.Errorf("Setup err = %v, want AdminPassword error", err)
	}
}

func TestAppWidgetReadsOwnAnalytics(t *testing.T) {
	a, base := startTestApp(t, seedViews(t))

	st := waitForRefresh(t, a.Widget)
	if st.LastError != nil {
		t.Fatalf("refresh failed: %v", st.LastError)
	}
	if st.Nodes != 2 {
		t.Errorf("Nodes = %d, want 2", st.Nodes)
	}

	resp, err := http.Get(base + "/widgets/top-views/")
	if err != nil {
		t.Fatalf("GET widget: %v", err)
	}
	body := readBody(t, resp)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	alpha, gamma := strings.Index(body, ">Alpha<"), strings.Index(body, ">Gamma<")
	if alpha < 0 || gamma < 0 || alpha > gamma {
		t.Errorf("widget body does not rank Alpha before Gamma:\n%s", body)
	}
	if strings.Contains(body, ">Beta<") {
		t.Errorf("widget shows more than NumberOfResults documents:\n%s", body)
	}
	if !strings.Contains(body, "Popular") {
		t.Errorf("widget body missing title")
	}
	if strings.Contains(body, "Refresh</button>") {
		t.Errorf("anonymous visitors must not see the refresh button")
	}
}

func TestAppServesEmbeddedAssets(t *testing.T) {
	_, base := startTestApp(t, nil)

	for _, name := range []string{"topviews.css", "admin.js", "analytics.js"} {
		resp, err := http.Get(base + "/public/" + name)
		if err != nil {
			t.Fatalf("GET %s: %v", name, err)
		}
		body := readBody(t, resp)
		if resp.StatusCode != http.StatusOK || body == "" {
			t.Errorf("GET %s: status %d, %d bytes", name, resp.StatusCode, len(body))
		}
	}
}

var newKeyPattern = regexp.MustCompile(`<code>(tv_[0-9a-f]+)</code>`)

func TestAdminKeyLifecycle(t *testing.T) {
	a, base := startTestApp(t, nil)
	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar}
	u, _ := url.Parse(base)

	resp, err := client.Get(base + "/admin/")
	if err != nil {
		t.Fatalf("GET admin: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, `name="password"`) {
		t.Fatalf("expected login form, got:\n%s", body)
	}
	csrf := ""
	for _, c := range jar.Cookies(u) {
		if c.Name == "_csrf" {
			csrf = c.Value
		}
	}
	if csrf == "" {
		t.Fatal("no CSRF cookie set")
	}

	resp, err = client.PostForm(base+"/admin/login/", url.Values{"password": {"wrong"}, "_csrf": {csrf}})
	if err != nil {
		t.Fatalf("POST login: %v", err)
	}
	if body := readBody(t, resp); resp.StatusCode != http.StatusUnauthorized || !strings.Contains(body, "Wrong password") {
		t.Errorf("wrong password: status %d", resp.StatusCode)
	}

	resp, err = client.PostForm(base+"/admin/login/", url.Values{"password": {testPassword}, "_csrf": {csrf}})
	if err != nil {
		t.Fatalf("POST login: %v", err)
	}
	if body := readBody(t, resp); !strings.Contains(body, "widget (auto)") {
		t.Fatalf("dashboard does not list the widget key:\n%s", body)
	}

	resp, err = client.PostForm(base+"/admin/keys/", url.Values{"label": {"reporting"}, "_csrf": {csrf}})
	if err != nil {
		t.Fatalf("POST keys: %v", err)
	}
	m := newKeyPattern.FindStringSubmatch(readBody(t, resp))
	if m == nil {
		t.Fatal("new key not shown on dashboard")
	}
	plain := m[1]

	query := func() int {
		req, _ := http.NewRequest(http.MethodGet, base+"/rest/v15/stats/combinedData?d=documentTitle&m=DocumentView", nil)
		req.Header.Set("Authorization", "Bearer "+plain)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET combinedData: %v", err)
		}
		readBody(t, resp)
		return resp.StatusCode
	}
	if code := query(); code != http.StatusOK {
		t.Fatalf("new key: status %d, want 200", code)
	}

	keys, err := a.Store.ListAPIKeys(context.Background())
	if err != nil {
		t.Fatalf("ListAPIKeys: %v", err)
	}
	id := ""
	for _, k := range keys {
		if k.Label == "reporting" {
			id = k.ID
		}
	}
	req, _ := http.NewRequest(http.MethodDelete, base+"/admin/keys/"+id+"/", nil)
	req.Header.Set("X-CSRF-Token", csrf)
	resp, err = client.Do(req)
	if err != nil {
		t.Fatalf("DELETE key: %v", err)
	}
	if body := readBody(t, resp); resp.StatusCode != http.StatusOK || !strings.Contains(body, "Key revoked.") {
		t.Errorf("revoke: status %d", resp.StatusCode)
	}
	if code := query(); code != http.StatusUnauthorized {
		t.Errorf("revoked key: status %d, want 401", code)
	}

	resp, err = client.PostForm(base+"/widgets/top-views/refresh/", url.Values{"_csrf": {csrf}})
	if err != nil {
		t.Fatalf("POST refresh: %v", err)
	}
	body := readBody(t, resp)
	if !strings.Contains(body, "Widget refreshed.") && !strings.Contains(body, "A refresh is already running.") {
		t.Errorf("refresh message missing from dashboard:\n%s", body)
	}
}

func TestAdminRequiresCSRFToken(t *testing.T) {
	_, base := startTestApp(t, nil)

	resp, err := http.PostForm(base+"/admin/keys/", url.Values{"label": {"x"}})
	if err != nil {
		t.Fatalf("POST keys: %v", err)
	}
	readBody(t, resp)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, want 403", resp.StatusCode)
	}
}
