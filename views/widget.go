package views

import (
	"context"
	"io"
	"time"

	"github.com/a-h/templ"
)

// Header renders the widget title bar.
func Header(title string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return writeAll(w,
			`<div class="topviews-header"><div class="topviews-title">`,
			esc(title),
			`</div></div>`,
		)
	})
}

// Widget renders the full top-views fragment: header, then either the
// results, an error notice, or an empty placeholder.
func Widget(v WidgetView) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := writeAll(w, `<div class="topviews" data-state="`, esc(v.State), `">`); err != nil {
			return err
		}
		if err := Header(v.Title).Render(ctx, w); err != nil {
			return err
		}

		switch {
		case v.Error != "" && len(v.Items) == 0:
			if err := writeAll(w, `<div class="topviews-error" role="alert">Top documents are unavailable right now.</div>`); err != nil {
				return err
			}
		case len(v.Items) == 0:
			if err := writeAll(w, `<div class="topviews-empty">No views recorded yet.</div>`); err != nil {
				return err
			}
		}

		if err := writeAll(w, `<div class="topviews-results">`); err != nil {
			return err
		}
		for _, item := range v.Items {
			if err := templ.Raw(item).Render(ctx, w); err != nil {
				return err
			}
		}
		if err := writeAll(w, `</div>`); err != nil {
			return err
		}

		if !v.RefreshedAt.IsZero() {
			if err := writeAll(w, `<div class="topviews-updated">Updated `, esc(v.RefreshedAt.UTC().Format(time.RFC3339)), `</div>`); err != nil {
				return err
			}
		}
		if v.CanRefresh {
			if err := writeAll(w,
				`<form method="post" action="`, esc(buildURL(v.BasePath, "refresh")), `">`,
				`<input type="hidden" name="_csrf" value="`, esc(v.CSRFToken), `">`,
				`<button type="submit">Refresh</button></form>`,
			); err != nil {
				return err
			}
		}
		return writeAll(w, `</div>`)
	})
}
