package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/cinema-live-seats/internal/handler"
	"github.com/iliyamo/cinema-live-seats/internal/hold"
	"github.com/iliyamo/cinema-live-seats/internal/lock"
	"github.com/iliyamo/cinema-live-seats/internal/metrics"
	"github.com/iliyamo/cinema-live-seats/internal/middleware"
	"github.com/iliyamo/cinema-live-seats/internal/model"
	"github.com/iliyamo/cinema-live-seats/internal/notify"
	"github.com/iliyamo/cinema-live-seats/internal/repository"
	"github.com/iliyamo/cinema-live-seats/internal/service"
	"github.com/iliyamo/cinema-live-seats/internal/utils"
)

const secret = "router-test-secret"

func newTestServer(t *testing.T) (*echo.Echo, uint64) {
	t.Helper()
	log := zaptest.NewLogger(t)
	m := metrics.NewWithRegistry(prometheus.NewRegistry())

	shows := repository.NewMemoryShowRepo()
	show := &model.Show{Title: "Arrival", PriceCents: 300, StartsAt: time.Now().Add(time.Hour)}
	require.NoError(t, shows.Create(context.Background(), show))
	reservations := repository.NewMemoryReservationRepo()

	bus := notify.NewBus(0, log, m)
	holds := hold.NewRegistry(hold.NewMemoryStore(), bus, time.Minute, log, m)
	t.Cleanup(func() {
		holds.Close()
		bus.Close()
	})

	committer := service.NewReservationCommitter(service.CommitterDeps{
		Shows:        shows,
		Reservations: reservations,
		Holds:        holds,
		Bus:          bus,
		Locker:       lock.NewLocal(),
		Metrics:      m,
		Log:          log,
	})
	grid := service.NewSeatGrid(shows, reservations, holds, log)

	e := NewEcho(log, m)
	RegisterRoutes(e)
	RegisterPublic(e,
		handler.NewSeatHandler(grid, log),
		handler.NewRealtimeHandler(handler.RealtimeDeps{Bus: bus, Holds: holds, Shows: shows, Metrics: m, Log: log}),
	)
	RegisterReservations(e, handler.NewReservationHandler(committer, log), secret, nil)
	return e, show.ID
}

func bearer(t *testing.T, userID uint64, role string) string {
	t.Helper()
	tok, err := utils.NewAccessToken(secret, userID, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + tok.Token
}

func do(e *echo.Echo, method, target, auth, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Operational(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(e, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoutes_BookingScenario(t *testing.T) {
	e, showID := newTestServer(t)
	alice := bearer(t, 1, middleware.RoleUser)
	bob := bearer(t, 2, middleware.RoleUser)
	seatsURL := "/v1/shows/" + itoa(showID) + "/seats"

	rec := do(e, http.MethodPost, "/v1/reservations", "", `{"show_id":1,"seats":["R5-S5"]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, http.MethodPost, "/v1/reservations", alice, `{"show_id":`+itoa(showID)+`,"seats":["R5-S5","R5-S6"]}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"total_amount_cents":600`)

	rec = do(e, http.MethodPost, "/v1/reservations", bob, `{"show_id":`+itoa(showID)+`,"seats":["R5-S5","R5-S7"]}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.JSONEq(t, `{"error":"seats already booked","seats":["R5-S5"]}`, rec.Body.String())

	rec = do(e, http.MethodGet, seatsURL, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `{"seat":"R5-S5","state":"booked"}`)

	rec = do(e, http.MethodDelete, "/v1/reservations/1", bob, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, http.MethodDelete, "/v1/reservations/1", alice, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(e, http.MethodDelete, "/v1/reservations/1", alice, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, seatsURL, "", "")
	assert.Contains(t, rec.Body.String(), `{"seat":"R5-S5","state":"available"}`)
	assert.Contains(t, rec.Body.String(), `{"seat":"R5-S6","state":"available"}`)

	rec = do(e, http.MethodGet, "/v1/reservations", alice, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CANCELLED"`)
}

func TestRoutes_Validation(t *testing.T) {
	e, showID := newTestServer(t)
	alice := bearer(t, 1, middleware.RoleUser)

	seven := `["R1-S1","R1-S2","R1-S3","R1-S4","R1-S5","R1-S6","R1-S7"]`
	cases := map[string]string{
		"no seats":     `{"show_id":` + itoa(showID) + `,"seats":[]}`,
		"seven seats":  `{"show_id":` + itoa(showID) + `,"seats":` + seven + `}`,
		"duplicate":    `{"show_id":` + itoa(showID) + `,"seats":["R1-S1","R1-S1"]}`,
		"off the grid": `{"show_id":` + itoa(showID) + `,"seats":["R0-S1"]}`,
		"missing show": `{"seats":["R1-S1"]}`,
		"not json":     `{"show_id":`,
	}
	for name, body := range cases {
		rec := do(e, http.MethodPost, "/v1/reservations", alice, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, name)
	}

	rec := do(e, http.MethodPost, "/v1/reservations", alice, `{"show_id":999,"seats":["R1-S1"]}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(e, http.MethodGet, "/v1/shows/999/seats", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_RoleRequired(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodGet, "/v1/reservations", bearer(t, 3, "GUEST"), "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func itoa(n uint64) string {
	return strconv.FormatUint(n, 10)
}
