package topviews

import "embed"

// EmbeddedAssets contains static assets shipped with the widget:
// topviews.css, admin.js and the analytics.js page-view tracker.
//
//go:embed embedded/*
var EmbeddedAssets embed.FS
