package topviews

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/eringen/topviews/analytics"
	"github.com/eringen/topviews/endpoint"
	"github.com/eringen/topviews/ratelimit"
)

// widgetKeyLabel marks API keys minted at startup for the hosted widget.
const widgetKeyLabel = "widget (auto)"

// widgetBase is where the widget fragment is mounted.
const widgetBase = "/widgets/top-views/"

// App hosts the analytics service, the top-views widget reading from it and
// the admin area.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Log    *zap.Logger
	Store  *analytics.Store
	Widget *Widget

	analytics    *analytics.Handler
	loginLimiter *ratelimit.Limiter
	token        endpoint.AccessToken
	httpClient   *http.Client
	customRoutes []func(*App)
	staticDir    string
	stopJobs     []func()
}

// NewApp creates an App with the given configuration.
func NewApp(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:    cfg,
		Echo:      echo.New(),
		staticDir: "public",
	}
	a.Echo.HideBanner = true
	for _, opt := range opts {
		opt(a)
	}
	if a.Log == nil {
		if l, err := zap.NewProduction(); err == nil {
			a.Log = l
		} else {
			a.Log = zap.NewNop()
		}
	}
	return a
}

// Setup opens the analytics store, provisions the widget and registers
// middleware and routes. Start calls it; tests call it directly.
func (a *App) Setup(ctx context.Context) error {
	if a.Config.AdminPassword == "" {
		return fmt.Errorf("topviews: AdminPassword is required")
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("topviews: SessionSecret is required")
	}

	store, err := analytics.NewStore(a.Config.AnalyticsDatabasePath, a.Log.Named("analytics"))
	if err != nil {
		return fmt.Errorf("topviews: init analytics: %w", err)
	}
	a.Store = store
	if err := analytics.InitSalt(store); err != nil {
		return fmt.Errorf("topviews: init analytics salt: %w", err)
	}
	a.stopJobs = append(a.stopJobs, store.StartCleanupScheduler(a.Config.RetentionDays, 24*time.Hour))

	a.analytics = analytics.NewHandler(store, a.Config.URL, a.Log.Named("analytics"))
	a.loginLimiter = ratelimit.New(5, time.Minute)

	if err := a.ensureWidgetKey(ctx); err != nil {
		return err
	}
	w, err := New(a.Config.Widget, Bindings{
		Analytics: &AnalyticsBinding{
			ServiceURL:   a.Config.AnalyticsServiceURL,
			Organization: a.Config.Organization,
			HTTPClient:   a.httpClient,
		},
		Token:  a.token,
		Logger: a.Log,
	}, WithErrorHandler(func(err error) {
		a.Log.Warn("top views widget error", zap.Error(err))
	}))
	if err != nil {
		return fmt.Errorf("topviews: init widget: %w", err)
	}
	a.Widget = w

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	return nil
}

// ensureWidgetKey mints an API key for the hosted widget when neither a key
// nor a token source was configured. Keys minted on earlier runs are revoked.
func (a *App) ensureWidgetKey(ctx context.Context) error {
	if a.Config.Widget.APIKey != "" {
		return nil
	}
	if a.token != nil {
		// The key only satisfies validation; the token source authenticates.
		a.Config.Widget.APIKey = "external"
		return nil
	}
	n, err := a.Store.RevokeAPIKeysByLabel(ctx, widgetKeyLabel)
	if err != nil {
		return fmt.Errorf("topviews: revoke old widget keys: %w", err)
	}
	plain, key, err := a.Store.CreateAPIKey(ctx, widgetKeyLabel)
	if err != nil {
		return fmt.Errorf("topviews: create widget key: %w", err)
	}
	a.Config.Widget.APIKey = plain
	a.Log.Info("minted widget api key", zap.String("id", key.ID), zap.String("prefix", key.Prefix), zap.Int("revoked", n))
	return nil
}

// Start sets the app up and serves on Config.Addr until the server stops.
func (a *App) Start(ctx context.Context) error {
	if err := a.Setup(ctx); err != nil {
		return err
	}
	ln, err := net.Listen("tcp", a.Config.Addr)
	if err != nil {
		return fmt.Errorf("topviews: listen: %w", err)
	}
	return a.Serve(ln)
}

// Serve serves on ln. The widget gets its first refresh signal once the
// listener is up, so it can query this same server.
func (a *App) Serve(ln net.Listener) error {
	a.Echo.Listener = ln
	if err := a.Widget.Initialize(context.Background()); err != nil {
		return err
	}
	a.Widget.OnRefreshSignal(context.Background())
	if a.Config.RefreshInterval > 0 {
		a.stopJobs = append(a.stopJobs, a.startRefreshTicker(a.Config.RefreshInterval))
	}

	a.Log.Info("serving", zap.String("addr", ln.Addr().String()), zap.String("site", a.Config.Name))
	if err := a.Echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) startRefreshTicker(every time.Duration) func() {
	ticker := time.NewTicker(every)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Widget.OnRefreshSignal(context.Background())
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

func (a *App) setupRoutes() {
	e := a.Echo

	// Embedded assets (topviews.css, admin.js, analytics.js) are served under
	// /public/ and fall through to the user's static dir.
	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	embeddedHandler := echo.WrapHandler(http.StripPrefix("/public/", http.FileServer(http.FS(embeddedFS))))
	for _, name := range []string{"topviews.css", "admin.js", "analytics.js"} {
		e.GET("/public/"+name, embeddedHandler)
	}
	e.Static("/public", a.staticDir)

	// Widget
	e.GET(widgetBase, a.handleWidget)
	e.POST(widgetBase+"refresh/", a.handleWidgetRefresh)

	// Admin
	e.GET("/admin/", a.handleAdmin)
	e.POST("/admin/login/", a.handleAdminLogin)
	e.POST("/admin/logout/", handleAdminLogout)
	e.POST("/admin/keys/", a.handleCreateKey)
	e.DELETE("/admin/keys/:id/", a.handleRevokeKey)

	// Analytics service
	a.analytics.RegisterRoutes(e, middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType},
	}))
}

// Shutdown stops the HTTP server gracefully and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Echo.Shutdown(ctx)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	for _, stop := range a.stopJobs {
		stop()
	}
	a.stopJobs = nil
	if a.Widget != nil {
		a.Widget.Dispose()
	}
	if a.analytics != nil {
		a.analytics.Close()
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	var err error
	if a.Store != nil {
		err = a.Store.Close()
		a.Store = nil
	}
	_ = a.Log.Sync()
	return err
}
