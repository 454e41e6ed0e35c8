package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/cinema-live-seats/internal/handler"
	"github.com/iliyamo/cinema-live-seats/internal/middleware"
)

// RegisterReservations registers the reservation endpoints under
// /v1/reservations.  All of them require a valid JWT with the USER or
// ADMIN role.  limiter, when not nil, runs after authentication so the
// bucket can be keyed by user.
func RegisterReservations(e *echo.Echo, h *handler.ReservationHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	mw := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(middleware.RoleUser, middleware.RoleAdmin),
	}
	if limiter != nil {
		mw = append(mw, limiter)
	}
	g := e.Group("/v1/reservations", mw...)

	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.DELETE("/:id", h.Cancel)
}
