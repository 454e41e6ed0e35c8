package handler

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-live-seats/internal/middleware"
	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/service"
)

// HeaderSessionID carries the buyer's realtime session so its holds on the
// purchased seats are dropped with the commit.
const HeaderSessionID = "X-Session-ID"

// ReservationHandler exposes the reservation committer to authenticated
// users.  JWTAuth and RequireRole run before every method.
type ReservationHandler struct {
	svc ReservationService
	log *zap.Logger
}

func NewReservationHandler(svc ReservationService, log *zap.Logger) *ReservationHandler {
	if svc == nil {
		panic("nil reservation service passed to NewReservationHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReservationHandler{svc: svc, log: log}
}

type createReservationRequest struct {
	ShowID uint64   `json:"show_id" validate:"required,gt=0"`
	Seats  []string `json:"seats" validate:"required"`
}

type createReservationResponse struct {
	ReservationID    uint64   `json:"reservation_id"`
	ShowID           uint64   `json:"show_id"`
	Seats            []string `json:"seats"`
	TotalAmountCents uint32   `json:"total_amount_cents"`
	Status           string   `json:"status"`
}

type reservationResponse struct {
	ID               uint64    `json:"id"`
	ShowID           uint64    `json:"show_id"`
	Seats            []string  `json:"seats"`
	TotalAmountCents uint32    `json:"total_amount_cents"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func toReservationResponse(r *model.Reservation) reservationResponse {
	return reservationResponse{
		ID:               r.ID,
		ShowID:           r.ShowID,
		Seats:            r.Seats,
		TotalAmountCents: r.TotalAmountCents,
		Status:           string(r.Status),
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
	}
}

// Create handles POST /v1/reservations.  201 with the reservation id and
// total on success, 409 with the clashing seats on conflict.
func (h *ReservationHandler) Create(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req createReservationRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	res, err := h.svc.Commit(c.Request().Context(), service.CommitInput{
		UserID:    userID,
		ShowID:    req.ShowID,
		Seats:     req.Seats,
		SessionID: c.Request().Header.Get(HeaderSessionID),
	})
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, createReservationResponse{
		ReservationID:    res.ID,
		ShowID:           res.ShowID,
		Seats:            res.Seats,
		TotalAmountCents: res.TotalAmountCents,
		Status:           string(res.Status),
	})
}

// Cancel handles DELETE /v1/reservations/:id.  Only the owner may cancel.
func (h *ReservationHandler) Cancel(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	if err := h.svc.Cancel(c.Request().Context(), id, userID); err != nil {
		return respondError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// List handles GET /v1/reservations: the caller's reservations, newest
// first, cancelled ones included.
func (h *ReservationHandler) List(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	list, err := h.svc.ListForUser(c.Request().Context(), userID)
	if err != nil {
		return respondError(c, h.log, err)
	}
	out := make([]reservationResponse, 0, len(list))
	for i := range list {
		out = append(out, toReservationResponse(&list[i]))
	}
	return c.JSON(http.StatusOK, echo.Map{"reservations": out})
}

// Get handles GET /v1/reservations/:id.  Admins may read any reservation.
func (h *ReservationHandler) Get(c echo.Context) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	id, ok := pathID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
	}
	res, err := h.svc.GetForUser(c.Request().Context(), id, userID, middleware.IsAdmin(c))
	if err != nil {
		return respondError(c, h.log, err)
	}
	return c.JSON(http.StatusOK, toReservationResponse(res))
}
