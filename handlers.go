package topviews

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/topviews/views"
)

func (a *App) handleWidget(c echo.Context) error {
	admin := IsAdmin(c)
	return Render(c, views.Widget(a.Widget.View(widgetBase, admin, CsrfToken(c))))
}

func (a *App) handleWidgetRefresh(c echo.Context) error {
	if !IsAdmin(c) {
		return c.Redirect(http.StatusSeeOther, "/admin/")
	}
	msg := "Widget refreshed."
	err := a.Widget.Refresh(c.Request().Context())
	switch {
	case errors.Is(err, ErrBusy):
		msg = "A refresh is already running."
	case err != nil:
		msg = "Refresh failed: " + err.Error()
	}
	return c.Redirect(http.StatusSeeOther, "/admin/?msg="+url.QueryEscape(msg))
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he, ok := err.(*echo.HTTPError)
	if ok && he.Code == http.StatusNotFound && !isAPIPath(c.Request().URL.Path) {
		_ = RenderStatus(c, http.StatusNotFound, views.NotFound())
		return
	}
	code := http.StatusInternalServerError
	if ok {
		code = he.Code
	}
	if code >= 500 {
		a.Log.Error("server error",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Error(err))
		_ = RenderStatus(c, code, views.ServerError())
		return
	}
	a.Echo.DefaultHTTPErrorHandler(err, c)
}
