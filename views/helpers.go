package views

import (
	"io"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/a-h/templ"
)

// buildURL joins path segments onto a base URL, ensuring a trailing slash.
func buildURL(base string, pathSegments ...string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	u.Path = path.Join(u.Path, path.Join(pathSegments...))
	if len(pathSegments) > 0 && !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	return u.String()
}

// esc HTML-escapes s.
func esc(s string) string {
	return templ.EscapeString(s)
}

// safeHref sanitizes a link target; unsafe schemes become "about:invalid#TemplFailedSanitizationURL".
func safeHref(s string) string {
	return esc(string(templ.URL(s)))
}

// FormatCount renders a metric value: integers without decimals,
// everything else with one decimal.
func FormatCount(v float64) string {
	if v == float64(int64(v)) {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', 1, 64)
}

// MetricNames returns the numeric keys of raw, sorted, for rich cards.
func MetricNames(raw map[string]any) []string {
	var names []string
	for k, v := range raw {
		if _, ok := v.(float64); ok {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	return names
}

// hostOf returns the host part of an http(s) URI for the card caption,
// or "" for anything else.
func hostOf(uri string) string {
	u, err := url.Parse(uri)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return ""
	}
	return strings.TrimPrefix(u.Host, "www.")
}

// writeAll writes each part to w, stopping at the first error.
func writeAll(w io.Writer, parts ...string) error {
	for _, p := range parts {
		if _, err := io.WriteString(w, p); err != nil {
			return err
		}
	}
	return nil
}
