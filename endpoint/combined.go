// Package endpoint talks to the usage-analytics service: it builds
// combined-data queries, issues them and decodes the tabular response.
package endpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultVersion is the analytics REST API version used when none is configured.
	DefaultVersion = "v15"

	// CombinedDataPath is the combined-data stats route below the version segment.
	CombinedDataPath = "/stats/combinedData"

	// DefaultSortMetric ranks documents by view count.
	DefaultSortMetric = "DocumentView"

	// DefaultFilter keeps only rows with a document URL.
	DefaultFilter = "(documenturl!='' AND documenturl!=null)"

	// TimeLayout is the ISO-8601 form the service expects for from/to.
	TimeLayout = "2006-01-02T15:04:05.000-0700"

	maxErrorBody = 512
)

// The reporting window used when the caller configures neither a window nor
// a lookback. It is a fixed historical range, kept as the default so that
// callers opt in to a rolling window explicitly.
var (
	DefaultFrom = time.Date(2018, time.July, 14, 0, 0, 0, 0, time.FixedZone("", -4*60*60))
	DefaultTo   = time.Date(2018, time.August, 13, 23, 59, 59, 999_000_000, time.FixedZone("", -4*60*60))
)

// QuerySpec describes one combined-data query. It is built once per refresh
// and passed by value.
type QuerySpec[D, M ~string] struct {
	Dimensions      []D
	Metrics         []M
	Limit           int
	SortBy          string
	Ascending       bool
	From            time.Time
	To              time.Time
	Timezone        string
	IncludeMetadata bool
	Filter          string
	Page            int
}

func (q QuerySpec[D, M]) validate() error {
	if len(q.Dimensions) == 0 {
		return fmt.Errorf("%w: at least one dimension is required", ErrPrecondition)
	}
	if len(q.Metrics) == 0 {
		return fmt.Errorf("%w: at least one metric is required", ErrPrecondition)
	}
	if q.Limit < 1 {
		return fmt.Errorf("%w: limit must be >= 1, got %d", ErrPrecondition, q.Limit)
	}
	for _, d := range q.Dimensions {
		if strings.TrimSpace(string(d)) == "" {
			return fmt.Errorf("%w: empty dimension name", ErrPrecondition)
		}
	}
	for _, m := range q.Metrics {
		if strings.TrimSpace(string(m)) == "" {
			return fmt.Errorf("%w: empty metric name", ErrPrecondition)
		}
	}
	if !q.From.IsZero() && !q.To.IsZero() && q.To.Before(q.From) {
		return fmt.Errorf("%w: window ends before it starts", ErrPrecondition)
	}
	return nil
}

// staticParams returns the fixed query parameters in wire order.
func (q QuerySpec[D, M]) staticParams(org string) []Param {
	page := q.Page
	if page < 1 {
		page = 1
	}
	return []Param{
		{Name: "org", Value: org},
		{Name: "from", Value: q.From.Format(TimeLayout)},
		{Name: "to", Value: q.To.Format(TimeLayout)},
		{Name: "f", Value: q.Filter},
		{Name: "p", Value: page},
		{Name: "n", Value: q.Limit},
		{Name: "s", Value: q.SortBy},
		{Name: "asc", Value: q.Ascending},
		{Name: "includeMetadata", Value: q.IncludeMetadata},
		{Name: "tz", Value: q.Timezone},
		{Name: "format", Value: "JSON"},
	}
}

// Combination is one row of a combined-data response.
type Combination[D, M ~string] struct {
	Dimensions map[D]string
	Metrics    map[M]float64
}

// Dimension returns the value of d, or "" when the row lacks it.
func (c Combination[D, M]) Dimension(d D) string {
	return c.Dimensions[d]
}

// Metric returns the value of m, or 0 when the row lacks it.
func (c Combination[D, M]) Metric(m M) float64 {
	return c.Metrics[m]
}

// Fields flattens the row into a single name-keyed map.
func (c Combination[D, M]) Fields() map[string]any {
	out := make(map[string]any, len(c.Dimensions)+len(c.Metrics))
	for k, v := range c.Dimensions {
		out[string(k)] = v
	}
	for k, v := range c.Metrics {
		out[string(k)] = v
	}
	return out
}

// CombinedDataResponse is the decoded combined-data payload.
type CombinedDataResponse[D, M ~string] struct {
	Combinations         []Combination[D, M]
	TotalNumberOfResults int
	LastUpdated          time.Time
	Cached               bool
}

type wireResponse struct {
	Combinations         []map[string]json.RawMessage `json:"combinations"`
	TotalNumberOfResults int                          `json:"totalNumberOfResults"`
	LastUpdated          int64                        `json:"lastUpdated"`
	Cached               bool                         `json:"cached"`
}

// Client issues combined-data queries against one analytics service.
type Client struct {
	serviceURL   string
	version      string
	organization string
	token        AccessToken
	http         *http.Client
	log          *zap.Logger

	from     time.Time
	to       time.Time
	lookback time.Duration
	timezone string
	filter   string
	now      func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithVersion selects a custom API version.
func WithVersion(v string) ClientOption {
	return func(c *Client) {
		if v != "" {
			c.version = v
		}
	}
}

// WithWindow sets a fixed reporting window.
func WithWindow(from, to time.Time) ClientOption {
	return func(c *Client) {
		c.from, c.to = from, to
	}
}

// WithLookback replaces the fixed window with [now-d, now]. It wins over WithWindow.
func WithLookback(d time.Duration) ClientOption {
	return func(c *Client) {
		c.lookback = d
	}
}

// WithTimezone sets the tz parameter.
func WithTimezone(tz string) ClientOption {
	return func(c *Client) {
		if tz != "" {
			c.timezone = tz
		}
	}
}

// WithFilter sets the f parameter.
func WithFilter(f string) ClientOption {
	return func(c *Client) {
		c.filter = f
	}
}

// WithClock overrides time.Now for lookback windows.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a Client for the service at serviceURL.
func NewClient(serviceURL, organization string, token AccessToken, opts ...ClientOption) *Client {
	c := &Client{
		serviceURL:   serviceURL,
		version:      DefaultVersion,
		organization: organization,
		token:        token,
		http:         &http.Client{Timeout: 15 * time.Second},
		log:          zap.NewNop(),
		from:         DefaultFrom,
		to:           DefaultTo,
		timezone:     "Z",
		filter:       DefaultFilter,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.token == nil {
		c.token = StaticToken("")
	}
	return c
}

// Version returns the resolved API version.
func (c *Client) Version() string {
	return c.version
}

// window returns the reporting window for a query issued now.
func (c *Client) window() (time.Time, time.Time) {
	if c.lookback > 0 {
		now := c.now()
		return now.Add(-c.lookback), now
	}
	return c.from, c.to
}

// NewQuerySpec builds the query FetchCombined issues: the client's window,
// timezone and filter, page 1, sorted by DocumentView descending.
func NewQuerySpec[D, M ~string](c *Client, dims []D, metrics []M, limit int) QuerySpec[D, M] {
	from, to := c.window()
	return QuerySpec[D, M]{
		Dimensions:      append([]D(nil), dims...),
		Metrics:         append([]M(nil), metrics...),
		Limit:           limit,
		SortBy:          DefaultSortMetric,
		Ascending:       false,
		From:            from,
		To:              to,
		Timezone:        c.timezone,
		IncludeMetadata: true,
		Filter:          c.filter,
		Page:            1,
	}
}

// FetchCombined queries the top limit combinations of dims and metrics.
func FetchCombined[D, M ~string](ctx context.Context, c *Client, dims []D, metrics []M, limit int) (*CombinedDataResponse[D, M], error) {
	return Fetch(ctx, c, NewQuerySpec(c, dims, metrics, limit))
}

// Fetch issues spec as a single GET. There is no retry.
func Fetch[D, M ~string](ctx context.Context, c *Client, spec QuerySpec[D, M]) (*CombinedDataResponse[D, M], error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	rawURL, err := BuildRequestURL(c, spec)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrNetwork, err)
	}
	req.Header.Set("Accept", "application/json")
	tok := c.token.Token()
	if tok == "" {
		if te, ok := c.token.(interface{ Err() error }); ok && te.Err() != nil {
			c.log.Warn("no access token", zap.Error(te.Err()))
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, te.Err())
		}
	} else {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("combined data request failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrNetwork, err)
	}
	c.log.Debug("combined data response",
		zap.Int("status", resp.StatusCode),
		zap.Int("bytes", len(body)),
		zap.Duration("latency", time.Since(start)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		statusErr := &StatusError{Kind: ErrUnauthorized, StatusCode: resp.StatusCode, Body: snippet(body)}
		if c.token.IsExpired(statusErr) {
			statusErr.Kind = ErrTokenExpired
			if rerr := c.token.Renew(ctx); rerr != nil {
				c.log.Warn("token renewal failed", zap.Error(rerr))
			}
		}
		return nil, statusErr
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &StatusError{Kind: ErrNetwork, StatusCode: resp.StatusCode, Body: snippet(body)}
	}

	out, err := decodeCombined(body, spec.Dimensions, spec.Metrics)
	if err != nil {
		return nil, err
	}
	if len(out.Combinations) > spec.Limit {
		c.log.Warn("service returned more rows than requested; truncating",
			zap.Int("rows", len(out.Combinations)),
			zap.Int("limit", spec.Limit))
		out.Combinations = out.Combinations[:spec.Limit]
	}
	return out, nil
}

// BuildRequestURL assembles the encoded request URL for spec.
func BuildRequestURL[D, M ~string](c *Client, spec QuerySpec[D, M]) (string, error) {
	parts, err := Normalize(c.serviceURL, c.version, CombinedDataPath, spec.staticParams(c.organization))
	if err != nil {
		return "", err
	}
	query := parts.Query
	for _, d := range spec.Dimensions {
		query = append(query, "d="+string(d))
	}
	for _, m := range spec.Metrics {
		query = append(query, "m="+string(m))
	}
	return parts.Path + "?" + encodeQuery(query), nil
}

func decodeCombined[D, M ~string](body []byte, dims []D, metrics []M) (*CombinedDataResponse[D, M], error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if wire.Combinations == nil {
		return nil, fmt.Errorf("%w: missing combinations", ErrInvalidResponse)
	}

	out := &CombinedDataResponse[D, M]{
		Combinations:         make([]Combination[D, M], 0, len(wire.Combinations)),
		TotalNumberOfResults: wire.TotalNumberOfResults,
		Cached:               wire.Cached,
	}
	if wire.LastUpdated > 0 {
		out.LastUpdated = time.UnixMilli(wire.LastUpdated).UTC()
	}

	for i, row := range wire.Combinations {
		combo := Combination[D, M]{
			Dimensions: make(map[D]string, len(dims)),
			Metrics:    make(map[M]float64, len(metrics)),
		}
		for _, d := range dims {
			raw, ok := row[string(d)]
			if !ok {
				continue
			}
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return nil, fmt.Errorf("%w: row %d dimension %q: %v", ErrInvalidResponse, i, d, err)
			}
			combo.Dimensions[d] = s
		}
		for _, m := range metrics {
			raw, ok := row[string(m)]
			if !ok {
				continue
			}
			var f float64
			if err := json.Unmarshal(raw, &f); err != nil {
				return nil, fmt.Errorf("%w: row %d metric %q: %v", ErrInvalidResponse, i, m, err)
			}
			combo.Metrics[m] = f
		}
		out.Combinations = append(out.Combinations, combo)
	}
	return out, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}
