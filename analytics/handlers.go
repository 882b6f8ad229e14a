package analytics

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/topviews/ratelimit"
)

// Handler handles analytics HTTP requests.
type Handler struct {
	store          *Store
	keys           *KeyCache
	collectLimiter *ratelimit.Limiter
	log            *zap.Logger
	siteURL        string
	now            func() time.Time
}

// NewHandler creates a new analytics handler. siteURL is prefixed to
// collected paths when the client does not report a document URL.
// The collect endpoint is rate-limited to 60 requests per IP per minute.
func NewHandler(store *Store, siteURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:          store,
		keys:           NewKeyCache(store, 30*time.Second),
		collectLimiter: ratelimit.New(60, time.Minute),
		log:            logger,
		siteURL:        strings.TrimRight(siteURL, "/"),
		now:            time.Now,
	}
}

// Keys exposes the API key cache so key management can invalidate it.
func (h *Handler) Keys() *KeyCache {
	return h.keys
}

// Close stops background work owned by the handler.
func (h *Handler) Close() {
	h.collectLimiter.Stop()
}

// CollectRequest is the expected request body for the collect endpoint.
type CollectRequest struct {
	Path        string `json:"path"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Referrer    string `json:"referrer"`
	ScreenSize  string `json:"screen_size"`
	UserAgent   string `json:"user_agent"`
	DurationSec int    `json:"duration_sec"`
}

// Input validation limits for the collect endpoint.
const (
	maxPathLen       = 2048
	maxTitleLen      = 512
	maxReferrerLen   = 2048
	maxScreenSizeLen = 32
	maxUserAgentLen  = 512
	maxDurationSec   = 86400 // 24 hours
)

func validateCollectRequest(req *CollectRequest) error {
	switch {
	case len(req.Path) > maxPathLen:
		return fmt.Errorf("path exceeds maximum length of %d", maxPathLen)
	case len(req.URL) > maxPathLen:
		return fmt.Errorf("url exceeds maximum length of %d", maxPathLen)
	case len(req.Title) > maxTitleLen:
		return fmt.Errorf("title exceeds maximum length of %d", maxTitleLen)
	case len(req.Referrer) > maxReferrerLen:
		return fmt.Errorf("referrer exceeds maximum length of %d", maxReferrerLen)
	case len(req.ScreenSize) > maxScreenSizeLen:
		return fmt.Errorf("screen_size exceeds maximum length of %d", maxScreenSizeLen)
	case len(req.UserAgent) > maxUserAgentLen:
		return fmt.Errorf("user_agent exceeds maximum length of %d", maxUserAgentLen)
	case req.DurationSec < 0:
		return fmt.Errorf("duration_sec must not be negative")
	case req.DurationSec > maxDurationSec:
		return fmt.Errorf("duration_sec exceeds maximum of %d", maxDurationSec)
	}
	return nil
}

// Collect handles incoming page views from clients.
func (h *Handler) Collect(c echo.Context) error {
	if !h.collectLimiter.Allow(c.RealIP()) {
		return c.NoContent(http.StatusTooManyRequests)
	}
	if c.Request().Header.Get("DNT") == "1" {
		return c.NoContent(http.StatusNoContent)
	}

	var req CollectRequest
	if err := c.Bind(&req); err != nil {
		return c.String(http.StatusBadRequest, "Invalid request")
	}
	if err := validateCollectRequest(&req); err != nil {
		return c.String(http.StatusBadRequest, "Invalid request")
	}

	ctx := c.Request().Context()
	userAgent := req.UserAgent
	if userAgent == "" {
		userAgent = c.Request().UserAgent()
	}
	ip := c.RealIP()
	now := h.now().UTC()

	if bot := BotName(userAgent); bot != "" {
		bv := &BotVisit{
			BotName:   bot,
			IPHash:    HashIP(ip),
			UserAgent: userAgent,
			Path:      req.Path,
			Timestamp: now,
		}
		if err := h.store.SaveBotVisit(ctx, bv); err != nil {
			h.log.Error("save bot visit", zap.Error(err))
		}
		return c.NoContent(http.StatusNoContent)
	}

	visitorID := GenerateVisitorID(ip, userAgent)

	// A positive duration is the unload beacon for a view already recorded.
	if req.DurationSec > 0 {
		if err := h.store.UpdateVisitDuration(ctx, visitorID, req.Path, req.DurationSec); err != nil {
			h.log.Error("update visit duration", zap.Error(err))
		}
		return c.NoContent(http.StatusNoContent)
	}

	docURL := req.URL
	if docURL == "" && req.Path != "" && h.siteURL != "" {
		docURL = h.siteURL + "/" + strings.TrimLeft(req.Path, "/")
	}
	browser, os, device := ParseUserAgent(userAgent)
	visit := &Visit{
		VisitorID:   visitorID,
		SessionID:   sessionID(visitorID, now),
		IPHash:      HashIP(ip),
		Browser:     browser,
		OS:          os,
		Device:      device,
		Path:        req.Path,
		Title:       strings.TrimSpace(req.Title),
		DocumentURL: docURL,
		Referrer:    CleanReferrer(req.Referrer),
		ScreenSize:  req.ScreenSize,
		Timestamp:   now,
	}
	if err := h.store.SaveVisit(ctx, visit); err != nil {
		h.log.Error("save visit", zap.Error(err))
	}
	return c.NoContent(http.StatusNoContent)
}

// Query limits for the combined-data endpoint.
const (
	maxPerPage      = 1000
	defaultPerPage  = 10
	defaultLookback = 30 * 24 * time.Hour
)

// timeLayouts are tried in order when parsing from/to.
var timeLayouts = []string{
	"2006-01-02T15:04:05.000-0700",
	time.RFC3339Nano,
	"2006-01-02",
}

// CombinedDataResponse is the JSON body of the combined-data endpoint.
type CombinedDataResponse struct {
	Combinations         []map[string]any `json:"combinations"`
	TotalNumberOfResults int              `json:"totalNumberOfResults"`
	LastUpdated          int64            `json:"lastUpdated"`
	Cached               bool             `json:"cached"`
}

type apiError struct {
	Message string `json:"message"`
}

// CombinedData answers GET /rest/:version/stats/combinedData.
func (h *Handler) CombinedData(c echo.Context) error {
	ctx := c.Request().Context()

	token, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
	if !ok {
		return c.JSON(http.StatusUnauthorized, apiError{"missing bearer token"})
	}
	valid, err := h.keys.Valid(ctx, token)
	if err != nil {
		h.log.Error("lookup api key", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, apiError{"internal server error"})
	}
	if !valid {
		return c.JSON(http.StatusUnauthorized, apiError{"invalid api key"})
	}
	if !strings.HasPrefix(c.Param("version"), "v") {
		return c.JSON(http.StatusNotFound, apiError{"unknown api version"})
	}

	q, err := h.parseCombinedQuery(c)
	if err != nil {
		return c.JSON(http.StatusBadRequest, apiError{err.Error()})
	}
	res, err := h.store.CombinedData(ctx, q)
	if err != nil {
		h.log.Error("combined data", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, apiError{"internal server error"})
	}
	return c.JSON(http.StatusOK, CombinedDataResponse{
		Combinations:         res.Combinations,
		TotalNumberOfResults: res.Total,
		LastUpdated:          h.now().UnixMilli(),
	})
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}

func (h *Handler) parseCombinedQuery(c echo.Context) (CombinedQuery, error) {
	params := c.QueryParams()
	q := CombinedQuery{
		Dimensions: params["d"],
		Metrics:    params["m"],
		Page:       1,
		PerPage:    defaultPerPage,
	}
	if len(q.Dimensions) == 0 {
		return q, fmt.Errorf("at least one dimension (d) is required")
	}
	if len(q.Metrics) == 0 {
		return q, fmt.Errorf("at least one metric (m) is required")
	}
	for _, d := range q.Dimensions {
		if !IsDimension(d) {
			return q, fmt.Errorf("unknown dimension %q", d)
		}
	}
	for _, m := range q.Metrics {
		if !IsMetric(m) {
			return q, fmt.Errorf("unknown metric %q", m)
		}
	}

	if v := params.Get("n"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPerPage {
			return q, fmt.Errorf("n must be between 1 and %d", maxPerPage)
		}
		q.PerPage = n
	}
	if v := params.Get("p"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			return q, fmt.Errorf("p must be a positive integer")
		}
		q.Page = p
	}

	q.SortBy = q.Metrics[0]
	if s := params.Get("s"); s != "" {
		found := false
		for _, m := range q.Metrics {
			if m == s {
				found = true
				break
			}
		}
		if !found {
			return q, fmt.Errorf("sort metric %q is not among the requested metrics", s)
		}
		q.SortBy = s
	}
	if v := params.Get("asc"); v != "" {
		asc, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("asc must be a boolean")
		}
		q.Ascending = asc
	}

	filter, err := parseFilter(params.Get("f"))
	if err != nil {
		return q, err
	}
	q.NonEmptyURL = filter

	now := h.now().UTC()
	q.To = now
	q.From = now.Add(-defaultLookback)
	if v := params.Get("from"); v != "" {
		if q.From, err = parseTime(v); err != nil {
			return q, fmt.Errorf("invalid from: %w", err)
		}
	}
	if v := params.Get("to"); v != "" {
		if q.To, err = parseTime(v); err != nil {
			return q, fmt.Errorf("invalid to: %w", err)
		}
	}
	if q.To.Before(q.From) {
		return q, fmt.Errorf("to is before from")
	}
	return q, nil
}

func parseTime(v string) (time.Time, error) {
	// A literal '+' in an unencoded offset arrives as a space.
	v = strings.Replace(v, " ", "+", 1)
	var firstErr error
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// parseFilter accepts an empty filter or the non-empty document URL filter
// in any case or spacing. It reports whether the filter was present.
func parseFilter(f string) (bool, error) {
	compact := strings.ToLower(strings.Join(strings.Fields(f), ""))
	compact = strings.Trim(compact, "()")
	if compact == "" {
		return false, nil
	}
	for _, clause := range strings.Split(compact, "and") {
		clause = strings.Trim(clause, "()")
		switch clause {
		case "documenturl!=''", `documenturl!=""`, "documenturl!=null":
		default:
			return false, fmt.Errorf("unsupported filter %q", f)
		}
	}
	return true, nil
}

// RegisterRoutes registers analytics routes with the Echo router.
// collectMiddleware (typically CORS) wraps only the public collect endpoint.
func (h *Handler) RegisterRoutes(e *echo.Echo, collectMiddleware ...echo.MiddlewareFunc) {
	e.POST("/api/analytics/collect", h.Collect, collectMiddleware...)
	e.OPTIONS("/api/analytics/collect", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, collectMiddleware...)
	e.GET("/rest/:version/stats/combinedData", h.CombinedData)
}
