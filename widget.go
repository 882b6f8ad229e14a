// Package topviews renders a "Top Viewed Documents" widget: it asks a
// usage-analytics service for the most viewed documents, maps each row to a
// display record and renders the records, in rank order, through a
// pluggable template.
//
// The package also ships App, a small Echo server that hosts the widget,
// the analytics service it reads from and an admin area for API keys.
package topviews

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eringen/topviews/endpoint"
	"github.com/eringen/topviews/result"
	"github.com/eringen/topviews/views"
)

// State is the render pipeline state.
type State int32

const (
	Idle State = iota
	Fetching
	Rendering
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Rendering:
		return "rendering"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// BusyPolicy decides what Refresh does while another cycle is running.
type BusyPolicy int

const (
	// BusyQueue keeps at most one pending refresh that runs right after
	// the current cycle. Further requests get ErrBusy.
	BusyQueue BusyPolicy = iota
	// BusyReject returns ErrBusy immediately.
	BusyReject
)

// Dimension and Metric name the analytics fields the widget requests.
type (
	Dimension string
	Metric    string
)

const (
	DocumentTitle Dimension = result.DocumentTitle
	DocumentURL   Dimension = result.DocumentURL
	DocumentView  Metric    = result.DocumentView
)

var (
	topDimensions = []Dimension{DocumentTitle, DocumentURL}
	topMetrics    = []Metric{DocumentView}
)

// AnalyticsBinding locates the analytics service.
type AnalyticsBinding struct {
	ServiceURL   string
	Organization string
	HTTPClient   *http.Client
}

// Bindings are the host services a widget depends on.
type Bindings struct {
	Analytics *AnalyticsBinding
	// Token overrides the static Config.APIKey token.
	Token  endpoint.AccessToken
	Logger *zap.Logger
}

// ErrorHandler receives fetch failures and per-record render failures.
type ErrorHandler func(error)

// WidgetOption configures a Widget.
type WidgetOption func(*Widget)

// WithErrorHandler routes refresh errors to h.
func WithErrorHandler(h ErrorHandler) WidgetOption {
	return func(w *Widget) {
		w.onError = h
	}
}

// WithClientOptions passes extra options to the combined-data client.
func WithClientOptions(opts ...endpoint.ClientOption) WidgetOption {
	return func(w *Widget) {
		w.clientOpts = append(w.clientOpts, opts...)
	}
}

// Lifecycle is how a host drives a widget.
type Lifecycle interface {
	Initialize(ctx context.Context) error
	OnRefreshSignal(ctx context.Context)
	Dispose()
}

var _ Lifecycle = (*Widget)(nil)

// Widget is the top-views render pipeline.
type Widget struct {
	cfg        Config
	client     *endpoint.Client
	container  *Container
	log        *zap.Logger
	onError    ErrorHandler
	clientOpts []endpoint.ClientOption

	mu          sync.Mutex
	state       State
	pending     bool
	disposed    bool
	lastRefresh time.Time
	lastErr     error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New validates cfg and binds the widget to its analytics service.
func New(cfg Config, b Bindings, opts ...WidgetOption) (*Widget, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if b.Analytics == nil || b.Analytics.ServiceURL == "" {
		return nil, ErrMissingAnalytics
	}

	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "topviews"))

	ctx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		cfg:       cfg,
		container: &Container{},
		log:       logger,
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}

	token := b.Token
	if token == nil {
		token = endpoint.StaticToken(cfg.APIKey)
	}
	copts := []endpoint.ClientOption{
		endpoint.WithLogger(logger),
		endpoint.WithVersion(cfg.APIVersion),
		endpoint.WithWindow(cfg.From, cfg.To),
		endpoint.WithTimezone(cfg.Timezone),
		endpoint.WithFilter(cfg.Filter),
	}
	if cfg.Lookback > 0 {
		copts = append(copts, endpoint.WithLookback(cfg.Lookback))
	}
	if b.Analytics.HTTPClient != nil {
		copts = append(copts, endpoint.WithHTTPClient(b.Analytics.HTTPClient))
	}
	w.client = endpoint.NewClient(b.Analytics.ServiceURL, b.Analytics.Organization, token, append(copts, w.clientOpts...)...)

	token.SubscribeToRenewal(func(string) {
		logger.Info("analytics access token renewed")
	})
	return w, nil
}

// Config returns the resolved widget configuration.
func (w *Widget) Config() Config {
	return w.cfg
}

// Container returns the container holding the rendered nodes.
func (w *Widget) Container() *Container {
	return w.container
}

// Initialize announces the widget. Rendering starts on the first refresh signal.
func (w *Widget) Initialize(ctx context.Context) error {
	if err := w.ctx.Err(); err != nil {
		return fmt.Errorf("topviews: initialize disposed widget: %w", err)
	}
	w.log.Info("widget initialized",
		zap.String("title", w.cfg.Title),
		zap.Int("number_of_results", w.cfg.NumberOfResults),
		zap.String("api_version", w.client.Version()),
	)
	return nil
}

// OnRefreshSignal starts a refresh in the background. Errors go to the
// error handler and the log.
func (w *Widget) OnRefreshSignal(ctx context.Context) {
	go func() {
		if err := w.Refresh(ctx); errors.Is(err, ErrBusy) {
			w.log.Debug("refresh signal ignored, widget busy")
		}
	}()
}

// Dispose cancels any running refresh, waits for it and empties the container.
func (w *Widget) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	w.pending = false
	w.mu.Unlock()

	w.cancel()
	w.wg.Wait()
	w.container.Empty()
}

// Refresh fetches the top documents and re-renders the container. At most
// one cycle runs at a time; see BusyPolicy. A queued request returns nil
// immediately and its cycle runs under the widget's own context.
func (w *Widget) Refresh(ctx context.Context) error {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return fmt.Errorf("topviews: refresh disposed widget: %w", context.Canceled)
	}
	if w.state != Idle {
		if w.cfg.BusyPolicy == BusyReject || w.pending {
			w.mu.Unlock()
			return ErrBusy
		}
		w.pending = true
		w.mu.Unlock()
		return nil
	}
	w.state = Fetching
	w.wg.Add(1)
	w.mu.Unlock()
	defer w.wg.Done()

	err := w.runCycle(ctx)
	for {
		w.mu.Lock()
		if !w.pending {
			w.state = Idle
			w.mu.Unlock()
			return err
		}
		w.pending = false
		w.state = Fetching
		w.mu.Unlock()
		_ = w.runCycle(w.ctx)
	}
}

// runCycle ties ctx to the widget lifetime and runs one cycle.
func (w *Widget) runCycle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()
	return w.cycle(ctx)
}

func (w *Widget) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

func (w *Widget) report(err error) {
	if w.onError != nil {
		w.onError(err)
	}
}

// cycle runs fetch, clear, map, fan-out instantiate and ordered append.
func (w *Widget) cycle(ctx context.Context) error {
	log := w.log.With(zap.String("refresh_id", uuid.NewString()))
	start := time.Now()

	resp, err := endpoint.FetchCombined(ctx, w.client, topDimensions, topMetrics, w.cfg.NumberOfResults)
	if err != nil {
		w.mu.Lock()
		w.lastErr = err
		w.mu.Unlock()
		log.Warn("fetch top views", zap.Error(err))
		w.report(err)
		return err
	}

	w.setState(Rendering)
	w.container.Empty()

	records := result.FromResponse(resp)
	nodes := make([]*Node, len(records))
	errs := make([]error, len(records))

	var wg sync.WaitGroup
	for i, rec := range records {
		i, rec := i, rec
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					nodes[i], errs[i] = nil, fmt.Errorf("template panic: %v", r)
				}
			}()
			nodes[i], errs[i] = w.instantiate(ctx, rec)
		}()
	}
	wg.Wait()

	ordered := make([]*Node, 0, len(nodes))
	for i, n := range nodes {
		if errs[i] != nil {
			rerr := &RenderError{Index: records[i].Index, URI: records[i].URI, Err: errs[i]}
			log.Warn("render record", zap.Int("index", rerr.Index), zap.String("uri", rerr.URI), zap.Error(errs[i]))
			w.report(rerr)
			continue
		}
		ordered = append(ordered, n)
	}

	if err := ctx.Err(); err != nil {
		log.Info("refresh cancelled, discarding rendered nodes", zap.Int("nodes", len(ordered)))
		return err
	}
	w.container.Append(ordered...)

	w.mu.Lock()
	w.lastRefresh = time.Now()
	w.lastErr = nil
	w.mu.Unlock()

	log.Info("top views refreshed",
		zap.Int("rows", len(records)),
		zap.Int("rendered", len(ordered)),
		zap.Int("total", resp.TotalNumberOfResults),
		zap.Bool("cached", resp.Cached),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

func (w *Widget) instantiate(ctx context.Context, rec result.DisplayRecord) (*Node, error) {
	n, err := w.cfg.Template.Instantiate(ctx, rec)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, fmt.Errorf("template returned no node")
	}
	if in, ok := w.cfg.Template.(Initializer); ok {
		if err := in.InitNode(ctx, n); err != nil {
			return nil, fmt.Errorf("init node: %w", err)
		}
	}
	return n, nil
}

// Status is a snapshot of the widget.
type Status struct {
	State       State
	LastRefresh time.Time
	LastError   error
	Nodes       int
	Generation  uint64
}

// Status returns the current widget status.
func (w *Widget) Status() Status {
	w.mu.Lock()
	s := Status{State: w.state, LastRefresh: w.lastRefresh, LastError: w.lastErr}
	w.mu.Unlock()
	s.Nodes = w.container.Len()
	s.Generation = w.container.Generation()
	return s
}

// View builds the fragment view model. basePath is where the widget is mounted.
func (w *Widget) View(basePath string, canRefresh bool, csrfToken string) views.WidgetView {
	st := w.Status()
	v := views.WidgetView{
		Title:       w.cfg.Title,
		BasePath:    basePath,
		Items:       w.container.HTML(),
		State:       st.State.String(),
		RefreshedAt: st.LastRefresh,
		CanRefresh:  canRefresh,
		CSRFToken:   csrfToken,
	}
	if st.LastError != nil {
		v.Error = st.LastError.Error()
	}
	return v
}
