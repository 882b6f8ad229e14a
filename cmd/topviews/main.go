package main

import (
	"fmt"
	"os"
)

// version is set at build time via ldflags.
var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe()
	case "fetch":
		err = runFetch(os.Args[2:])
	case "keys":
		err = runKeys(os.Args[2:])
	case "version":
		fmt.Printf("topviews %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`topviews - page-view analytics with a most-viewed documents widget

Usage:
  topviews <command> [arguments]

Commands:
  serve                 Run the analytics service, widget and admin area
  fetch [flags]         Print the most viewed documents from a combined-data service
  keys list             List analytics API keys
  keys create <label>   Create an analytics API key and print it once
  keys revoke <id>      Revoke an analytics API key
  version               Print the topviews version
  help                  Show this help message

Environment (serve):
  SITE_NAME, SITE_URL, ADDR, DATABASE_PATH, ADMIN_PASSWORD,
  ADMIN_SESSION_SECRET, COOKIE_SECURE, RETENTION_DAYS, REFRESH_INTERVAL,
  WIDGET_TITLE, WIDGET_RESULTS, WIDGET_LOOKBACK, WIDGET_API_KEY

Examples:
  topviews serve
  topviews fetch -url https://analytics.example.com -key tv_... -n 5
  topviews keys create reporting`)
}
