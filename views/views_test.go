package views

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/a-h/templ"

	"github.com/eringen/topviews/result"
)

func render(t *testing.T, c templ.Component) string {
	t.Helper()
	var buf bytes.Buffer
	if err := c.Render(context.Background(), &buf); err != nil {
		t.Fatalf("Render: %v", err)
	}
	return buf.String()
}

func record(title, uri string, views float64) result.DisplayRecord {
	return result.DisplayRecord{
		URI:          uri,
		ClickURI:     uri,
		PrintableURI: uri,
		Title:        title,
		Index:        2,
		Raw: map[string]any{
			"documentTitle":     title,
			"uri":               uri,
			result.DocumentView: views,
			"averageTimeOnPage": 12.5,
		},
	}
}

func TestCard(t *testing.T) {
	got := render(t, Card(record("Guide <b>", "https://www.example.com/guide", 42), false))

	for _, want := range []string{
		`data-index="2"`,
		`href="https://www.example.com/guide"`,
		`>Guide &lt;b&gt;</a>`,
		`<div class="topviews-card-caption">example.com</div>`,
		`42 views`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("Card output missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "topviews-card-metrics") {
		t.Errorf("plain card must not list metrics")
	}
}

func TestCardRich(t *testing.T) {
	got := render(t, Card(record("Guide", "https://example.com/guide", 3), true))
	want := `<dl class="topviews-card-metrics"><dt>DocumentView</dt><dd>3</dd><dt>averageTimeOnPage</dt><dd>12.5</dd></dl>`
	if !strings.Contains(got, want) {
		t.Errorf("rich card metrics = %s, want %s", got, want)
	}
}

func TestCardFallsBackToURI(t *testing.T) {
	got := render(t, Card(record("", "https://example.com/untitled", 1), false))
	if !strings.Contains(got, `>https://example.com/untitled</a>`) {
		t.Errorf("untitled card should show its URI:\n%s", got)
	}
}

func TestCardSanitizesHref(t *testing.T) {
	got := render(t, Card(record("x", "javascript:alert(1)", 1), false))
	if strings.Contains(got, "javascript:") {
		t.Errorf("unsafe URI rendered:\n%s", got)
	}
	if !strings.Contains(got, `<div class="topviews-card-caption"></div>`) {
		t.Errorf("caption should be empty for a non-http URI:\n%s", got)
	}
}

func TestHostOf(t *testing.T) {
	tests := []struct {
		uri  string
		want string
	}{
		{"https://www.example.com/guide", "example.com"},
		{"http://docs.example.com:8080/x", "docs.example.com:8080"},
		{"javascript:alert(1)", ""},
		{"/relative/path", ""},
		{"ftp://files.example.com/a", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := hostOf(tt.uri); got != tt.want {
			t.Errorf("hostOf(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestListItem(t *testing.T) {
	got := render(t, ListItem(record("Guide", "https://example.com/guide", 1500), false))
	want := `<li class="topviews-item"><a href="https://example.com/guide">Guide</a> <span class="topviews-item-count">1500</span></li>`
	if got != want {
		t.Errorf("ListItem = %q, want %q", got, want)
	}
}

func TestWidgetStates(t *testing.T) {
	tests := []struct {
		name    string
		view    WidgetView
		want    []string
		notWant []string
	}{
		{
			name:    "empty",
			view:    WidgetView{Title: "Top", State: "idle"},
			want:    []string{`data-state="idle"`, `<div class="topviews-title">Top</div>`, "No views recorded yet."},
			notWant: []string{"topviews-updated", "<form"},
		},
		{
			name:    "error without results",
			view:    WidgetView{Title: "Top", State: "idle", Error: "boom"},
			want:    []string{`role="alert"`},
			notWant: []string{"boom", "No views recorded yet."},
		},
		{
			name: "results keep order and hide stale error",
			view: WidgetView{
				Title:       "Top",
				State:       "idle",
				Error:       "boom",
				Items:       []string{`<p>one</p>`, `<p>two</p>`},
				RefreshedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
			},
			want:    []string{`<div class="topviews-results"><p>one</p><p>two</p></div>`, "Updated 2024-05-01T12:00:00Z"},
			notWant: []string{`role="alert"`},
		},
		{
			name: "refresh form",
			view: WidgetView{Title: "Top", BasePath: "/widgets/top-views/", CanRefresh: true, CSRFToken: "tok"},
			want: []string{`action="/widgets/top-views/refresh/"`, `name="_csrf" value="tok"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := render(t, Widget(tt.view))
			for _, s := range tt.want {
				if !strings.Contains(got, s) {
					t.Errorf("missing %q in:\n%s", s, got)
				}
			}
			for _, s := range tt.notWant {
				if strings.Contains(got, s) {
					t.Errorf("unexpected %q in:\n%s", s, got)
				}
			}
		})
	}
}

func TestAdminDashboard(t *testing.T) {
	got := render(t, AdminDashboard(AdminView{
		Keys: []APIKeyView{
			{ID: "k1", Label: "reporting", Prefix: "tv_abc123", CreatedAt: "2024-05-01 12:00:00"},
			{ID: "k2", Label: "old", Prefix: "tv_def456", Revoked: true},
		},
		NewKey:    "tv_abc123full",
		Message:   "Key created.",
		CSRFToken: "tok",
	}))
	for _, want := range []string{
		`<p class="message">Key created.</p>`,
		`<code>tv_abc123full</code>`,
		`data-delete="/admin/keys/k1/" data-csrf="tok"`,
		`<td>revoked</td>`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("dashboard missing %q", want)
		}
	}
	if strings.Contains(got, `data-delete="/admin/keys/k2/"`) {
		t.Errorf("revoked key must not offer a revoke button")
	}
}

func TestFormatCount(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0, "0"},
		{42, "42"},
		{12.5, "12.5"},
		{1.04, "1.0"},
	}
	for _, tt := range tests {
		if got := FormatCount(tt.in); got != tt.want {
			t.Errorf("FormatCount(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildURL(t *testing.T) {
	if got := buildURL("/widgets/top-views/", "refresh"); got != "/widgets/top-views/refresh/" {
		t.Errorf("buildURL = %q", got)
	}
}
