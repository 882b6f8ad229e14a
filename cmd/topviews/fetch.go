package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/eringen/topviews"
	"github.com/eringen/topviews/endpoint"
	"github.com/eringen/topviews/result"
	"github.com/eringen/topviews/views"
)

func runFetch(args []string) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	serviceURL := fs.String("url", topviews.EnvOr("ANALYTICS_SERVICE_URL", "http://localhost:3000"), "combined-data service base URL")
	org := fs.String("org", "default", "organization")
	key := fs.String("key", os.Getenv("WIDGET_API_KEY"), "API key sent as the bearer token")
	limit := fs.Int("n", 5, "number of documents")
	apiVersion := fs.String("version", endpoint.DefaultVersion, "API version")
	lookback := fs.Duration("lookback", 30*24*time.Hour, "reporting window ending now; 0 uses the fixed default window")
	tokenURL := fs.String("token-url", "", "OAuth2 token endpoint; with -client-id and -client-secret replaces -key")
	clientID := fs.String("client-id", os.Getenv("OAUTH_CLIENT_ID"), "OAuth2 client id")
	clientSecret := fs.String("client-secret", os.Getenv("OAUTH_CLIENT_SECRET"), "OAuth2 client secret")
	verbose := fs.Bool("v", false, "log requests to stderr")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var token endpoint.AccessToken = endpoint.StaticToken(*key)
	if *tokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     *clientID,
			ClientSecret: *clientSecret,
			TokenURL:     *tokenURL,
		}
		token = endpoint.NewOAuth2Token(endpoint.TokenSourceFunc(func() (*oauth2.Token, error) {
			return cc.Token(ctx)
		}))
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			return err
		}
		logger = l
		defer func() { _ = logger.Sync() }()
	}

	client := endpoint.NewClient(*serviceURL, *org, token,
		endpoint.WithVersion(*apiVersion),
		endpoint.WithLookback(*lookback),
		endpoint.WithLogger(logger),
	)
	resp, err := endpoint.FetchCombined(ctx, client,
		[]topviews.Dimension{topviews.DocumentTitle, topviews.DocumentURL},
		[]topviews.Metric{topviews.DocumentView},
		*limit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tVIEWS\tTITLE\tURL")
	for _, rec := range result.FromResponse(resp) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", rec.Index+1, views.FormatCount(rec.Views()), rec.Title, rec.ClickURI)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Printf("\n%d of %d documents", len(resp.Combinations), resp.TotalNumberOfResults)
	if !resp.LastUpdated.IsZero() {
		fmt.Printf(", updated %s", resp.LastUpdated.Format(time.DateTime))
	}
	fmt.Println()
	return nil
}
