// Package api exposes the magiclink HTTP surface on echo.
//
// Two public routes drive the link lifecycle: GET renders the login
// confirmation page, POST consumes the link and redirects. A small
// authenticated JSON API covers issuance, the kill switch, and the audit
// trail.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/getkayan/magiclink/core/audit"
	"github.com/getkayan/magiclink/core/domain"
	"github.com/getkayan/magiclink/core/flow"
	"github.com/getkayan/magiclink/core/identity"
	"github.com/getkayan/magiclink/core/link"
	"github.com/getkayan/magiclink/core/session"
	"github.com/getkayan/magiclink/logger"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "magiclink_session"

type Handler struct {
	use        flow.LinkFlow // possibly rate-limited
	flow       *flow.UseFlow // issuance, kill switch, audit queries
	sessions   *session.Manager
	identities domain.IdentityStorage
}

func NewHandler(use flow.LinkFlow, f *flow.UseFlow, sm *session.Manager, identities domain.IdentityStorage) *Handler {
	return &Handler{use: use, flow: f, sessions: sm, identities: identities}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/links/:token/", h.HandleShow)
	e.POST("/links/:token/", h.HandleLogin)

	g := e.Group("/api/v1")
	g.Use(h.AuthMiddleware)
	g.POST("/links", h.HandleIssue)
	g.DELETE("/links/:token", h.HandleDisable)
	g.GET("/links/:token/uses", h.HandleUses)
}

// requester resolves the current session cookie to an identity. A missing,
// invalid, or expired cookie is simply an anonymous requester.
func (h *Handler) requester(c echo.Context) (*identity.Identity, string) {
	cookie, err := c.Cookie(SessionCookie)
	if err != nil || cookie.Value == "" {
		return nil, ""
	}
	sess, err := h.sessions.Validate(cookie.Value)
	if err != nil {
		return nil, ""
	}
	ident, err := h.identities.GetIdentity(c.Request().Context(), sess.IdentityID)
	if err != nil {
		return nil, sess.ID
	}
	return ident, sess.ID
}

// HandleShow renders the login confirmation page for a valid link, or the
// error page with a 403 for a rejected one.
func (h *Handler) HandleShow(c echo.Context) error {
	requester, sessionKey := h.requester(c)
	meta := audit.MetaFromRequest(c.Request(), sessionKey)

	l, err := h.use.Peek(c.Request().Context(), c.Param("token"), requester, meta)
	if err != nil {
		return h.usePageError(c, l, err)
	}

	return c.Render(http.StatusOK, "logmein.html", map[string]any{"Link": l})
}

// HandleLogin consumes the link: the session is established as the link's
// owner, the link is disabled, and the user is redirected.
func (h *Handler) HandleLogin(c echo.Context) error {
	requester, sessionKey := h.requester(c)
	meta := audit.MetaFromRequest(c.Request(), sessionKey)

	login, err := h.use.Consume(c.Request().Context(), c.Param("token"), requester, meta)
	if err != nil {
		var l *link.MagicLink
		if login != nil {
			l = login.Link
		}
		return h.usePageError(c, l, err)
	}

	c.SetCookie(&http.Cookie{
		Name:     SessionCookie,
		Value:    login.Session.Token,
		Path:     "/",
		Expires:  login.Session.ExpiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return c.Redirect(http.StatusFound, login.RedirectTo)
}

// usePageError maps a use failure onto the HTML surface: 404 for unresolved
// tokens, 403 with the error page for rejections, 429 for rate limiting,
// and 500 for storage faults.
func (h *Handler) usePageError(c echo.Context, l *link.MagicLink, err error) error {
	switch {
	case errors.Is(err, link.ErrLinkNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "link not found")
	case errors.Is(err, link.ErrRateLimited):
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many requests")
	case link.IsRejection(err):
		return c.Render(http.StatusForbidden, "error.html", map[string]any{
			"Link":  l,
			"Error": err.Error(),
		})
	default:
		logger.Log.Error("link use failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}

// AuthMiddleware guards the JSON API with a bearer session token.
func (h *Handler) AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := strings.TrimPrefix(c.Request().Header.Get("Authorization"), "Bearer ")
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "authorization required")
		}
		sess, err := h.sessions.Validate(token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid session")
		}
		c.Set("session", sess)
		return next(c)
	}
}

// HandleIssue creates a link for an identity.
func (h *Handler) HandleIssue(c echo.Context) error {
	var body struct {
		IdentityID string `json:"identity_id"`
		RedirectTo string `json:"redirect_to"`
		ExpirySecs int    `json:"expiry_seconds"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.IdentityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "identity_id is required")
	}

	l, err := h.flow.Issue(c.Request().Context(), body.IdentityID, body.RedirectTo,
		time.Duration(body.ExpirySecs)*time.Second)
	if err != nil {
		switch {
		case errors.Is(err, flow.ErrUnknownIdentity):
			return echo.NewHTTPError(http.StatusNotFound, "identity not found")
		case errors.Is(err, flow.ErrInactiveIdentity):
			return echo.NewHTTPError(http.StatusConflict, "identity is not active")
		default:
			logger.Log.Error("link issuance failed", zap.Error(err))
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
	}
	return c.JSON(http.StatusCreated, l)
}

// HandleDisable is the administrative kill switch.
func (h *Handler) HandleDisable(c echo.Context) error {
	err := h.flow.Disable(c.Request().Context(), c.Param("token"))
	if err != nil {
		if errors.Is(err, link.ErrLinkNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "link not found")
		}
		logger.Log.Error("link disable failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleUses lists the audit trail for a link, newest first.
func (h *Handler) HandleUses(c echo.Context) error {
	filter := audit.Filter{
		FailuresOnly: c.QueryParam("failures") == "true",
	}
	if limit, err := strconv.Atoi(c.QueryParam("limit")); err == nil {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.QueryParam("offset")); err == nil {
		filter.Offset = offset
	}

	uses, err := h.flow.Uses(c.Request().Context(), c.Param("token"), filter)
	if err != nil {
		if errors.Is(err, link.ErrLinkNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "link not found")
		}
		logger.Log.Error("audit query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
	return c.JSON(http.StatusOK, uses)
}
