package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/model"
)

// SeatHandler serves the public seat map of a show.
type SeatHandler struct {
	grid SeatGridService
	log  *zap.Logger
}

func NewSeatHandler(grid SeatGridService, log *zap.Logger) *SeatHandler {
	if grid == nil {
		panic("nil seat grid passed to NewSeatHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SeatHandler{grid: grid, log: log}
}

type seatMapResponse struct {
	Show  *model.Show        `json:"show"`
	Seats []model.SeatStatus `json:"seats"`
}

// GetSeats handles GET /v1/shows/:id/seats.  Every seat of the grid is
// listed in row-major order as available, blocked or booked.
func (h *SeatHandler) GetSeats(c echo.Context) error {
	showID, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	show, seats, err := h.grid.Status(c.Request().Context(), showID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, seatMapResponse{Show: show, Seats: seats})
}
