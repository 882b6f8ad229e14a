package endpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

type dim string
type metric string

const (
	docTitle dim    = "documentTitle"
	docURL   dim    = "documentURL"
	views    metric = "DocumentView"
)

const threeRows = `{
  "combinations": [
    {"documentTitle": "Install guide", "documentURL": "https://docs.example.com/install", "DocumentView": 120},
    {"documentTitle": "FAQ", "documentURL": "https://docs.example.com/faq", "DocumentView": 80},
    {"documentTitle": "Release notes", "documentURL": "https://docs.example.com/notes", "DocumentView": 12.5}
  ],
  "totalNumberOfResults": 42,
  "lastUpdated": 1534132799999,
  "cached": true
}`

func TestFetchCombinedDecodesRows(t *testing.T) {
	var gotQuery map[string][]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/v15/stats/combinedData" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotQuery = r.URL.Query()
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(threeRows))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "acme", StaticToken("secret"))
	resp, err := FetchCombined(context.Background(), c, []dim{docTitle, docURL}, []metric{views}, 5)
	if err != nil {
		t.Fatalf("FetchCombined: %v", err)
	}

	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret")
	}
	wantQuery := map[string][]string{
		"org":             {"acme"},
		"from":            {"2018-07-14T00:00:00.000-0400"},
		"to":              {"2018-08-13T23:59:59.999-0400"},
		"f":               {DefaultFilter},
		"p":               {"1"},
		"n":               {"5"},
		"s":               {"DocumentView"},
		"asc":             {"false"},
		"includeMetadata": {"true"},
		"tz":              {"Z"},
		"format":          {"JSON"},
		"d":               {"documentTitle", "documentURL"},
		"m":               {"DocumentView"},
	}
	if diff := cmp.Diff(wantQuery, gotQuery); diff != "" {
		t.Errorf("query mismatch (-want +got):\n%s", diff)
	}

	if len(resp.Combinations) != 3 {
		t.Fatalf("rows = %d, want 3", len(resp.Combinations))
	}
	if got := resp.Combinations[1].Dimension(docURL); got != "https://docs.example.com/faq" {
		t.Errorf("row 1 url = %q", got)
	}
	if got := resp.Combinations[2].Metric(views); got != 12.5 {
		t.Errorf("row 2 views = %v, want 12.5", got)
	}
	if resp.TotalNumberOfResults != 42 {
		t.Errorf("TotalNumberOfResults = %d, want 42", resp.TotalNumberOfResults)
	}
	if !resp.Cached {
		t.Error("Cached should be true")
	}
	if want := time.UnixMilli(1534132799999).UTC(); !resp.LastUpdated.Equal(want) {
		t.Errorf("LastUpdated = %v, want %v", resp.LastUpdated, want)
	}
}

func TestFetchCombinedPreconditions(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()
	c := NewClient(srv.URL, "acme", StaticToken("k"))
	ctx := context.Background()

	for _, limit := range []int{0, -3} {
		if _, err := FetchCombined(ctx, c, []dim{docTitle}, []metric{views}, limit); !errors.Is(err, ErrPrecondition) {
			t.Errorf("limit %d: error = %v, want ErrPrecondition", limit, err)
		}
	}
	if _, err := FetchCombined(ctx, c, []dim{}, []metric{views}, 5); !errors.Is(err, ErrPrecondition) {
		t.Errorf("no dimensions: error = %v, want ErrPrecondition", err)
	}
	if _, err := FetchCombined(ctx, c, []dim{docTitle}, []metric(nil), 5); !errors.Is(err, ErrPrecondition) {
		t.Errorf("no metrics: error = %v, want ErrPrecondition", err)
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("server hit %d times, want 0", n)
	}
}

func TestFetchCombinedNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewClient(url, "acme", StaticToken("k"))
	_, err := FetchCombined(context.Background(), c, []dim{docTitle}, []metric{views}, 5)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
}

func TestFetchCombinedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "acme", StaticToken("k"))
	_, err := FetchCombined(context.Background(), c, []dim{docTitle}, []metric{views}, 5)
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("error = %v, want ErrNetwork", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Errorf("expected StatusError with 502, got %v", err)
	}
}

func TestFetchCombinedUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "acme", StaticToken("bad"))
	_, err := FetchCombined(context.Background(), c, []dim{docTitle}, []metric{views}, 5)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("error = %v, want ErrUnauthorized", err)
	}
	if errors.Is(err, ErrTokenExpired) {
		t.Error("static token must never report expiry")
	}
}

type countingSource struct {
	n int32
}

func (s *countingSource) Token() (*oauth2.Token, error) {
	n := atomic.AddInt32(&s.n, 1)
	return &oauth2.Token{AccessToken: "tok-" + string(rune('0'+n)), Expiry: time.Now().Add(time.Hour)}, nil
}

func TestFetchCombinedTokenExpiredRenews(t *testing.T) {
	var seen []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") == "Bearer tok-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"combinations":[],"totalNumberOfResults":0}`))
	}))
	defer srv.Close()

	tok := NewOAuth2Token(&countingSource{})
	var renewed string
	tok.SubscribeToRenewal(func(s string) { renewed = s })

	c := NewClient(srv.URL, "acme", tok)
	_, err := FetchCombined(context.Background(), c, []dim{docTitle}, []metric{views}, 5)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("first call error = %v, want ErrTokenExpired", err)
	}
	if renewed != "tok-2" {
		t.Errorf("renewed token = %q, want tok-2", renewed)
	}

	if _, err := FetchCombined(context.Background(), c, []dim{docTitle}, []metric{views}, 5); err != nil {
		t.Fatalf("second call: %v", err)
	}
	if diff := cmp.Diff([]string{"Bearer tok-1", "Bearer tok-2"}, seen); diff != "" {
		t.Errorf("auth headers (-want +got):\n%s", diff)
	}
}

func TestFetchCombinedTokenSourceFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))
	defer srv.Close()

	cause := errors.New("token endpoint down")
	tok := NewOAuth2Token(TokenSourceFunc(func() (*oauth2.Token, error) {
		return nil, cause
	}))
	c := NewClient(srv.URL, "acme", tok)

	_, err := FetchCombined(context.Background(), c, []dim{docTitle}, []metric{views}, 5)
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, cause) {
		t.Fatalf("error = %v, want ErrUnauthorized wrapping the token source error", err)
	}
	if !errors.Is(tok.Err(), cause) {
		t.Errorf("Err() = %v, want the token source error", tok.Err())
	}
	if n := atomic.LoadInt32(&hits); n != 0 {
		t.Errorf("server hit %d times without a token, want 0", n)
	}
}

func TestOAuth2TokenRenewDetectsCachedToken(t *testing.T) {
	tok := NewOAuth2Token(TokenSourceFunc(func() (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "same", Expiry: time.Now().Add(time.Hour)}, nil
	}))
	notified := false
	tok.SubscribeToRenewal(func(string) { notified = true })

	if got := tok.Token(); got != "same" {
		t.Fatalf("Token() = %q, want same", got)
	}
	if err := tok.Renew(context.Background()); !errors.Is(err, ErrTokenNotRenewed) {
		t.Errorf("Renew error = %v, want ErrTokenNotRenewed", err)
	}
	if notified {
		t.Error("subscribers must not be notified when the token did not change")
	}
}

func TestFetchCombinedInvalidShape(t *testing.T) {
	bodies := map[string]string{
		"not json":             `<html>oops</html>`,
		"missing combinations": `{"totalNumberOfResults": 3}`,
		"dimension not string": `{"combinations":[{"documentTitle": 7, "DocumentView": 1}]}`,
		"metric not number":    `{"combinations":[{"documentTitle": "x", "DocumentView": "many"}]}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "acme", StaticToken("k"))
			_, err := FetchCombined(context.Background(), c, []dim{docTitle}, []metric{views}, 5)
			if !errors.Is(err, ErrInvalidResponse) {
				t.Errorf("error = %v, want ErrInvalidResponse", err)
			}
		})
	}
}

func TestFetchCombinedTruncatesToLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(threeRows))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "acme", StaticToken("k"))
	resp, err := FetchCombined(context.Background(), c, []dim{docTitle, docURL}, []metric{views}, 2)
	if err != nil {
		t.Fatalf("FetchCombined: %v", err)
	}
	if len(resp.Combinations) != 2 {
		t.Fatalf("rows = %d, want 2", len(resp.Combinations))
	}
	if got := resp.Combinations[1].Dimension(docTitle); got != "FAQ" {
		t.Errorf("row 1 title = %q, want FAQ", got)
	}
}

func TestFetchCombinedDropsUnrequestedKeys(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"combinations":[{"documentTitle":"A","extra":"x","DocumentView":3}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "acme", StaticToken("k"))
	resp, err := FetchCombined(context.Background(), c, []dim{docTitle, docURL}, []metric{views}, 5)
	if err != nil {
		t.Fatalf("FetchCombined: %v", err)
	}
	want := map[string]any{"documentTitle": "A", "DocumentView": float64(3)}
	if diff := cmp.Diff(want, resp.Combinations[0].Fields()); diff != "" {
		t.Errorf("fields (-want +got):\n%s", diff)
	}
}

func TestNewQuerySpecLookback(t *testing.T) {
	now := time.Date(2026, time.October, 16, 12, 0, 0, 0, time.UTC)
	c := NewClient("https://ua.example.com", "acme", nil,
		WithLookback(30*24*time.Hour),
		WithClock(func() time.Time { return now }))

	spec := NewQuerySpec(c, []dim{docTitle}, []metric{views}, 5)
	if !spec.To.Equal(now) {
		t.Errorf("To = %v, want %v", spec.To, now)
	}
	if want := now.AddDate(0, 0, -30); !spec.From.Equal(want) {
		t.Errorf("From = %v, want %v", spec.From, want)
	}
	if spec.SortBy != DefaultSortMetric || spec.Ascending || spec.Page != 1 {
		t.Errorf("unexpected sort/page: %+v", spec)
	}
}

func TestBuildRequestURLAppendsDimensionsThenMetrics(t *testing.T) {
	c := NewClient("https://ua.example.com", "acme", nil, WithVersion("v16"))
	spec := NewQuerySpec(c, []dim{docTitle, docURL}, []metric{views}, 5)
	got, err := BuildRequestURL(c, spec)
	if err != nil {
		t.Fatalf("BuildRequestURL: %v", err)
	}
	const suffix = "&format=JSON&d=documentTitle&d=documentURL&m=DocumentView"
	if len(got) < len(suffix) || got[len(got)-len(suffix):] != suffix {
		t.Errorf("url %q does not end with %q", got, suffix)
	}
	const prefix = "https://ua.example.com/rest/v16/stats/combinedData?org=acme&"
	if got[:len(prefix)] != prefix {
		t.Errorf("url %q does not start with %q", got, prefix)
	}
}
