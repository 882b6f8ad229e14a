package views

import (
	"context"
	"io"

	"github.com/a-h/templ"
)

// page wraps body in the minimal HTML document shared by admin and error pages.
func page(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := writeAll(w,
			`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`,
			`<meta name="viewport" content="width=device-width, initial-scale=1">`,
			`<title>`, esc(title), `</title>`,
			`<link rel="stylesheet" href="/public/topviews.css">`,
			`<script src="/public/admin.js" defer></script>`,
			`</head><body>`,
		); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		return writeAll(w, `</body></html>`)
	})
}

// AdminLogin renders the password form.
func AdminLogin(showError bool, csrfToken string) templ.Component {
	return page("Admin", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := writeAll(w, `<main class="admin"><h1>Admin</h1>`); err != nil {
			return err
		}
		if showError {
			if err := writeAll(w, `<p class="error">Wrong password.</p>`); err != nil {
				return err
			}
		}
		return writeAll(w,
			`<form method="post" action="/admin/login/">`,
			`<input type="hidden" name="_csrf" value="`, esc(csrfToken), `">`,
			`<input type="password" name="password" autocomplete="current-password" required>`,
			`<button type="submit">Log in</button></form></main>`,
		)
	}))
}

// AdminDashboard renders widget status and analytics API key management.
func AdminDashboard(v AdminView) templ.Component {
	return page("Admin", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if err := writeAll(w, `<main class="admin"><h1>Top views</h1>`); err != nil {
			return err
		}
		if v.Message != "" {
			if err := writeAll(w, `<p class="message">`, esc(v.Message), `</p>`); err != nil {
				return err
			}
		}
		if err := Widget(v.Widget).Render(ctx, w); err != nil {
			return err
		}
		if v.Widget.Error != "" {
			if err := writeAll(w, `<p class="error">Last refresh failed: `, esc(v.Widget.Error), `</p>`); err != nil {
				return err
			}
		}

		if err := writeAll(w, `<h2>API keys</h2>`); err != nil {
			return err
		}
		if v.NewKey != "" {
			if err := writeAll(w, `<p class="new-key">New key (copy it now, it is not shown again): <code>`, esc(v.NewKey), `</code></p>`); err != nil {
				return err
			}
		}
		if err := writeAll(w,
			`<form method="post" action="/admin/keys/">`,
			`<input type="hidden" name="_csrf" value="`, esc(v.CSRFToken), `">`,
			`<input type="text" name="label" placeholder="Label" maxlength="100">`,
			`<button type="submit">Create key</button></form>`,
			`<table class="keys"><thead><tr><th>Label</th><th>Key</th><th>Created</th><th></th></tr></thead><tbody>`,
		); err != nil {
			return err
		}
		for _, k := range v.Keys {
			status := `<button type="button" data-delete="/admin/keys/` + esc(k.ID) + `/" data-csrf="` + esc(v.CSRFToken) + `">Revoke</button>`
			if k.Revoked {
				status = `revoked`
			}
			if err := writeAll(w,
				`<tr><td>`, esc(k.Label), `</td><td><code>`, esc(k.Prefix), `…</code></td><td>`, esc(k.CreatedAt), `</td><td>`, status, `</td></tr>`,
			); err != nil {
				return err
			}
		}
		return writeAll(w,
			`</tbody></table>`,
			`<form method="post" action="/admin/logout/"><input type="hidden" name="_csrf" value="`, esc(v.CSRFToken), `"><button type="submit">Log out</button></form>`,
			`</main>`,
		)
	}))
}

// NotFound renders the 404 page.
func NotFound() templ.Component {
	return page("Not found", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return writeAll(w, `<main><h1>404</h1><p>Page not found.</p></main>`)
	}))
}

// ServerError renders the 5xx page.
func ServerError() templ.Component {
	return page("Error", templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		return writeAll(w, `<main><h1>Something went wrong</h1><p>Please try again later.</p></main>`)
	}))
}
