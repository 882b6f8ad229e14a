// Package analytics is a small self-hosted usage-analytics service. It
// records document views and answers combined-data queries (dimensions ×
// metrics) in the shape the top-views widget consumes.
package analytics

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Dimensions the combined-data endpoint can group by, mapped to visit columns.
var dimensionColumns = map[string]string{
	"documentTitle": "title",
	"documentURL":   "document_url",
	"browser":       "browser",
	"os":            "os",
	"device":        "device",
	"referrer":      "referrer",
}

// Metrics the combined-data endpoint can aggregate, mapped to SQL expressions.
var metricExprs = map[string]string{
	"DocumentView":    "COUNT(*)",
	"UniqueVisitors":  "COUNT(DISTINCT visitor_id)",
	"AverageDuration": "COALESCE(AVG(NULLIF(duration_sec, 0)), 0)",
}

// IsDimension reports whether name is a supported dimension.
func IsDimension(name string) bool {
	_, ok := dimensionColumns[name]
	return ok
}

// IsMetric reports whether name is a supported metric.
func IsMetric(name string) bool {
	_, ok := metricExprs[name]
	return ok
}

// salt holds the per-installation random salt for IP hashing.
var salt struct {
	once  sync.Once
	value string
}

// InitSalt loads or generates the persistent hashing salt.
// Must be called once at startup before any requests are served.
func InitSalt(store *Store) error {
	var initErr error
	salt.once.Do(func() {
		s, err := store.GetSetting("hash_salt")
		if err != nil {
			initErr = fmt.Errorf("read hash salt: %w", err)
			return
		}
		if s == "" {
			b := make([]byte, 32)
			if _, err := rand.Read(b); err != nil {
				initErr = fmt.Errorf("generate salt: %w", err)
				return
			}
			s = hex.EncodeToString(b)
			if err := store.SetSetting("hash_salt", s); err != nil {
				initErr = fmt.Errorf("store hash salt: %w", err)
				return
			}
		}
		salt.value = s
	})
	return initErr
}

// Visit is one recorded document view.
type Visit struct {
	ID          int64
	VisitorID   string // salted fingerprint hash
	SessionID   string
	IPHash      string
	Browser     string
	OS          string
	Device      string
	Path        string
	Title       string
	DocumentURL string
	Referrer    string
	ScreenSize  string
	Timestamp   time.Time
	DurationSec int
}

// BotVisit is one crawler request, kept out of the ranking.
type BotVisit struct {
	ID        int64
	BotName   string
	IPHash    string
	UserAgent string
	Path      string
	Timestamp time.Time
}

// CombinedQuery is a validated combined-data request.
type CombinedQuery struct {
	Dimensions  []string
	Metrics     []string
	From        time.Time
	To          time.Time
	Page        int // 1-based
	PerPage     int
	SortBy      string // one of Metrics
	Ascending   bool
	NonEmptyURL bool
}

// CombinedResult is one page of combinations plus the total group count.
type CombinedResult struct {
	Combinations []map[string]any
	Total        int
}

func hashWithSalt(parts ...string) string {
	h := sha256.New()
	h.Write([]byte(salt.value + strings.Join(parts, "|")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// HashIP creates a salted hash of an IP address.
func HashIP(ip string) string {
	return hashWithSalt(ip)
}

// GenerateVisitorID derives an anonymous visitor id from IP and User-Agent.
func GenerateVisitorID(ip, userAgent string) string {
	return hashWithSalt(ip, userAgent)
}

// sessionID is stable for one visitor for one UTC day.
func sessionID(visitorID string, now time.Time) string {
	h := sha256.New()
	h.Write([]byte(visitorID + "|" + now.UTC().Format("2006-01-02")))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

type uaRule struct {
	name     string
	patterns []string
}

// Order matters: more specific patterns come first (Edge before Chrome,
// Android before Linux, iPad before mobile).
var (
	browserRules = []uaRule{
		{"Firefox", []string{"firefox"}},
		{"Opera", []string{"opera", "opr"}},
		{"Edge", []string{"edg"}},
		{"Chrome", []string{"chrome"}},
		{"Safari", []string{"safari"}},
	}
	osRules = []uaRule{
		{"Windows", []string{"windows"}},
		{"Android", []string{"android"}},
		{"iOS", []string{"iphone", "ipad"}},
		{"macOS", []string{"macintosh", "mac os"}},
		{"Linux", []string{"linux"}},
	}
	deviceRules = []uaRule{
		{"Tablet", []string{"tablet", "ipad"}},
		{"Mobile", []string{"mobile"}},
	}
	botRules = []uaRule{
		{"Googlebot", []string{"googlebot"}},
		{"Bingbot", []string{"bingbot"}},
		{"Yandex", []string{"yandex"}},
		{"Baidu", []string{"baidu"}},
		{"DuckDuckBot", []string{"duckduckbot"}},
		{"Facebook", []string{"facebookexternalhit"}},
		{"Twitterbot", []string{"twitterbot"}},
		{"LinkedIn", []string{"linkedinbot"}},
		{"Ahrefs", []string{"ahrefsbot"}},
		{"SEMrush", []string{"semrushbot"}},
		{"Majestic", []string{"mj12bot"}},
		{"Moz", []string{"dotbot"}},
		{"Yahoo Slurp", []string{"slurp"}},
		{"Generic Crawler", []string{"crawler", "crawl"}},
		{"Generic Spider", []string{"spider"}},
		{"Scraper", []string{"scrape"}},
		{"Other Bot", []string{"bot"}},
	}
)

func matchRule(ua string, rules []uaRule, fallback string) string {
	for _, r := range rules {
		for _, p := range r.patterns {
			if strings.Contains(ua, p) {
				return r.name
			}
		}
	}
	return fallback
}

// ParseUserAgent extracts browser, OS and device class from a User-Agent.
func ParseUserAgent(ua string) (browser, os, device string) {
	ua = strings.ToLower(ua)
	return matchRule(ua, browserRules, "Other"),
		matchRule(ua, osRules, "Other"),
		matchRule(ua, deviceRules, "Desktop")
}

// BotName returns the crawler name for ua, or "" for regular browsers.
func BotName(ua string) string {
	return matchRule(strings.ToLower(ua), botRules, "")
}

var referrerDomainRegex = regexp.MustCompile(`^https?://(?:www\.)?([^/]+)`)

var searchReferrers = []uaRule{
	{"Google", []string{"google."}},
	{"Bing", []string{"bing."}},
	{"DuckDuckGo", []string{"duckduckgo."}},
	{"Yahoo", []string{"yahoo."}},
	{"GitHub", []string{"github."}},
}

// CleanReferrer reduces a referrer URL to a source name or domain.
func CleanReferrer(ref string) string {
	if ref == "" {
		return "Direct"
	}
	if name := matchRule(strings.ToLower(ref), searchReferrers, ""); name != "" {
		return name
	}
	if m := referrerDomainRegex.FindStringSubmatch(ref); len(m) > 1 {
		return m[1]
	}
	return "Other"
}
