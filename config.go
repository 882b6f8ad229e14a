package topviews

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eringen/topviews/endpoint"
)

// Config holds the options of one top-views widget.
type Config struct {
	APIKey          string   // Required: analytics API key
	Title           string   // Header text (default "Top Viewed Documents")
	Template        Template // Result template (default CardTemplate(RichResults))
	NumberOfResults int      // Documents to show (default 5)
	RichResults     bool     // Card lists every metric of the row

	APIVersion string        // Analytics API version (default "v15")
	From       time.Time     // Reporting window start (default 2018-07-14T00:00:00.000-0400)
	To         time.Time     // Reporting window end (default 2018-08-13T23:59:59.999-0400)
	Lookback   time.Duration // When set, the window is [now-Lookback, now] and From/To are ignored
	Timezone   string        // tz parameter (default "Z")
	Filter     string        // f parameter (default non-empty document URL)

	BusyPolicy BusyPolicy // What Refresh does while a cycle runs (default BusyQueue)
}

func (c *Config) setDefaults() {
	if c.Title == "" {
		c.Title = "Top Viewed Documents"
	}
	if c.Template == nil {
		c.Template = CardTemplate(c.RichResults)
	}
	if c.NumberOfResults == 0 {
		c.NumberOfResults = 5
	}
	if c.APIVersion == "" {
		c.APIVersion = endpoint.DefaultVersion
	}
	if c.From.IsZero() && c.To.IsZero() {
		c.From, c.To = endpoint.DefaultFrom, endpoint.DefaultTo
	}
	if c.Timezone == "" {
		c.Timezone = "Z"
	}
	if c.Filter == "" {
		c.Filter = endpoint.DefaultFilter
	}
}

func (c *Config) validate() error {
	switch {
	case c.APIKey == "":
		return fmt.Errorf("%w: APIKey is required", ErrConfiguration)
	case c.NumberOfResults < 1:
		return fmt.Errorf("%w: NumberOfResults must be at least 1, got %d", ErrConfiguration, c.NumberOfResults)
	case c.Lookback < 0:
		return fmt.Errorf("%w: Lookback must not be negative", ErrConfiguration)
	case c.Lookback == 0 && c.To.Before(c.From):
		return fmt.Errorf("%w: To is before From", ErrConfiguration)
	case c.BusyPolicy != BusyQueue && c.BusyPolicy != BusyReject:
		return fmt.Errorf("%w: unknown BusyPolicy %d", ErrConfiguration, c.BusyPolicy)
	}
	return nil
}

// SiteConfig holds all configuration for a topviews site.
type SiteConfig struct {
	Name string // Site name (default "Top views")
	URL  string // Canonical URL (default "http://localhost:3000")

	Addr                  string // Listen address (default ":3000")
	AnalyticsDatabasePath string // Analytics SQLite path (default "data/analytics.db")
	AnalyticsServiceURL   string // Combined-data service the widget queries (default URL)
	Organization          string // org parameter (default "default")
	RetentionDays         int    // Visits older than this are deleted (default 365)

	RefreshInterval time.Duration // Widget refresh period (default 10min, negative disables)

	AdminPassword string // Required: admin login password
	SessionSecret string // Required: session encryption secret
	CookieSecure  bool   // Set true for HTTPS

	Widget Config // Widget options; APIKey is minted at startup when empty
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Top views"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.AnalyticsDatabasePath == "" {
		c.AnalyticsDatabasePath = "data/analytics.db"
	}
	if c.AnalyticsServiceURL == "" {
		c.AnalyticsServiceURL = c.URL
	}
	if c.Organization == "" {
		c.Organization = "default"
	}
	if c.RetentionDays == 0 {
		c.RetentionDays = 365
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = 10 * time.Minute
	}
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for user-owned static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}

// WithLogger replaces the production zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *App) {
		a.Log = l
	}
}

// WithAccessToken makes the widget authenticate with tok instead of the
// configured API key, e.g. an endpoint.OAuth2Token.
func WithAccessToken(tok endpoint.AccessToken) Option {
	return func(a *App) {
		a.token = tok
	}
}

// WithHTTPClient sets the client the widget uses to reach the analytics service.
func WithHTTPClient(hc *http.Client) Option {
	return func(a *App) {
		a.httpClient = hc
	}
}
