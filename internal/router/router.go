package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/cinema-live-seats/internal/handler"
)

// RegisterRoutes registers the operational endpoints: the liveness probe
// and the Prometheus scrape target.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}

// RegisterPublic registers the unauthenticated endpoints.  Guests can read
// the seat map of a show and follow it live over the websocket; holds are
// keyed by the socket's session, not by the user.
func RegisterPublic(e *echo.Echo, seats *handler.SeatHandler, realtime *handler.RealtimeHandler) {
	e.GET("/v1/shows/:id/seats", seats.GetSeats)
	e.GET("/v1/ws", realtime.Serve)
}
