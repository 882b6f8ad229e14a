package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eringen/topviews"
)

// siteConfigFromEnv builds the server configuration from environment variables.
func siteConfigFromEnv() (topviews.SiteConfig, error) {
	password, err := topviews.RequireEnv("ADMIN_PASSWORD")
	if err != nil {
		return topviews.SiteConfig{}, err
	}
	secret, err := topviews.RequireEnv("ADMIN_SESSION_SECRET")
	if err != nil {
		return topviews.SiteConfig{}, err
	}
	secure, err := topviews.EnvBool("COOKIE_SECURE", false)
	if err != nil {
		return topviews.SiteConfig{}, err
	}
	retention, err := topviews.EnvInt("RETENTION_DAYS", 365)
	if err != nil {
		return topviews.SiteConfig{}, err
	}
	interval, err := topviews.EnvDuration("REFRESH_INTERVAL", 10*time.Minute)
	if err != nil {
		return topviews.SiteConfig{}, err
	}
	results, err := topviews.EnvInt("WIDGET_RESULTS", 5)
	if err != nil {
		return topviews.SiteConfig{}, err
	}
	lookback, err := topviews.EnvDuration("WIDGET_LOOKBACK", 30*24*time.Hour)
	if err != nil {
		return topviews.SiteConfig{}, err
	}

	return topviews.SiteConfig{
		Name:                  topviews.EnvOr("SITE_NAME", "Top views"),
		URL:                   strings.TrimSuffix(topviews.EnvOr("SITE_URL", "http://localhost:3000"), "/"),
		Addr:                  topviews.EnvOr("ADDR", ":3000"),
		AnalyticsDatabasePath: topviews.EnvOr("DATABASE_PATH", "data/analytics.db"),
		AnalyticsServiceURL:   os.Getenv("ANALYTICS_SERVICE_URL"),
		RetentionDays:         retention,
		RefreshInterval:       interval,
		AdminPassword:         password,
		SessionSecret:         secret,
		CookieSecure:          secure,
		Widget: topviews.Config{
			APIKey:          os.Getenv("WIDGET_API_KEY"),
			Title:           topviews.EnvOr("WIDGET_TITLE", "Most viewed"),
			NumberOfResults: results,
			Lookback:        lookback,
		},
	}, nil
}

func runServe() error {
	cfg, err := siteConfigFromEnv()
	if err != nil {
		return err
	}
	logger, err := zap.NewProduction()
	if err != nil {
		return err
	}

	app := topviews.NewApp(cfg, topviews.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- app.Start(ctx) }()

	select {
	case err := <-errCh:
		closeErr := app.Close()
		return errors.Join(err, closeErr)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
