package views

import (
	"context"
	"io"
	"strconv"

	"github.com/a-h/templ"

	"github.com/eringen/topviews/result"
)

// Card is the default result template: title link, host caption and the
// view count. With rich set it also lists every metric of the row.
func Card(rec result.DisplayRecord, rich bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		title := rec.Title
		if title == "" {
			title = rec.PrintableURI
		}
		if err := writeAll(w,
			`<div class="topviews-card" data-index="`, strconv.Itoa(rec.Index), `">`,
			`<a class="topviews-link" href="`, safeHref(rec.ClickURI), `">`, esc(title), `</a>`,
			`<div class="topviews-card-caption">`, esc(hostOf(rec.PrintableURI)), `</div>`,
			`<div class="topviews-card-views">`, esc(FormatCount(rec.Views())), ` views</div>`,
		); err != nil {
			return err
		}
		if rich {
			if err := writeAll(w, `<dl class="topviews-card-metrics">`); err != nil {
				return err
			}
			for _, name := range MetricNames(rec.Raw) {
				v, _ := rec.Raw[name].(float64)
				if err := writeAll(w, `<dt>`, esc(name), `</dt><dd>`, esc(FormatCount(v)), `</dd>`); err != nil {
					return err
				}
			}
			if err := writeAll(w, `</dl>`); err != nil {
				return err
			}
		}
		return writeAll(w, `</div>`)
	})
}

// ListItem is a compact alternative template: one line per document.
func ListItem(rec result.DisplayRecord, _ bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return writeAll(w,
			`<li class="topviews-item"><a href="`, safeHref(rec.ClickURI), `">`, esc(rec.Title), `</a> `,
			`<span class="topviews-item-count">`, esc(FormatCount(rec.Views())), `</span></li>`,
		)
	})
}
