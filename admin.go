package topviews

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/eringen/topviews/analytics"
	"github.com/eringen/topviews/views"
)

const maxKeyLabelLen = 100

func (a *App) handleAdmin(c echo.Context) error {
	if !IsAdmin(c) {
		return Render(c, views.AdminLogin(false, CsrfToken(c)))
	}
	return a.renderAdminDashboard(c, c.QueryParam("msg"), "")
}

// Only failed attempts count against the login limit.
func (a *App) handleAdminLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		return c.String(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	pass := c.FormValue("password")
	if subtle.ConstantTimeCompare([]byte(pass), []byte(a.Config.AdminPassword)) == 1 {
		if err := setAdminSession(c); err != nil {
			return err
		}
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	a.loginLimiter.Record(ip)
	return RenderStatus(c, http.StatusUnauthorized, views.AdminLogin(true, CsrfToken(c)))
}

func handleAdminLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.Redirect(http.StatusSeeOther, "/admin/")
}

func (a *App) handleCreateKey(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	label := strings.TrimSpace(c.FormValue("label"))
	if len(label) > maxKeyLabelLen {
		return a.renderAdminDashboard(c, "Label is too long.", "")
	}
	plain, _, err := a.Store.CreateAPIKey(c.Request().Context(), label)
	if err != nil {
		return err
	}
	return a.renderAdminDashboard(c, "Key created.", plain)
}

func (a *App) handleRevokeKey(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	err := a.Store.RevokeAPIKey(c.Request().Context(), c.Param("id"))
	if errors.Is(err, analytics.ErrKeyNotFound) {
		return c.NoContent(http.StatusNotFound)
	}
	if err != nil {
		return err
	}
	a.analytics.Keys().Invalidate()
	return a.renderAdminDashboard(c, "Key revoked.", "")
}

func (a *App) renderAdminDashboard(c echo.Context, msg, newKey string) error {
	keys, err := a.Store.ListAPIKeys(c.Request().Context())
	if err != nil {
		return err
	}
	csrf := CsrfToken(c)
	v := views.AdminView{
		Widget:    a.Widget.View(widgetBase, true, csrf),
		Keys:      make([]views.APIKeyView, len(keys)),
		NewKey:    newKey,
		Message:   msg,
		CSRFToken: csrf,
	}
	for i, k := range keys {
		v.Keys[i] = views.APIKeyView{
			ID:        k.ID,
			Label:     k.Label,
			Prefix:    k.Prefix,
			CreatedAt: k.CreatedAt.Format(time.DateTime),
			Revoked:   k.Revoked,
		}
	}
	return Render(c, views.AdminDashboard(v))
}
