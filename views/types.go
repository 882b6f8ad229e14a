package views

import "time"

// WidgetView carries everything the top-views fragment renders.
// Items are the already-instantiated result nodes, in display order.
type WidgetView struct {
	Title       string
	BasePath    string   // mount point of the widget routes
	Items       []string // rendered HTML per result
	State       string   // idle, fetching, rendering
	Error       string   // last refresh error, empty when healthy
	RefreshedAt time.Time
	CanRefresh  bool   // show the manual refresh button
	CSRFToken   string // required when CanRefresh is set
}

// APIKeyView is one analytics API key row on the admin page.
type APIKeyView struct {
	ID        string
	Label     string
	Prefix    string // first characters of the key, never the full key
	CreatedAt string
	Revoked   bool
}

// AdminView is the admin dashboard model.
type AdminView struct {
	Widget    WidgetView
	Keys      []APIKeyView
	NewKey    string // full key, shown once right after creation
	Message   string
	CSRFToken string
}
