package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/iliyamo/cinema-live-seats/internal/config"
)

func testRateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       5,
		RefillTokens:   1,
		RefillInterval: time.Second,
		TTL:            time.Minute,
		KeyStrategy:    "user_route",
		Prefix:         "rl",
	}
}

// matchKey accepts any script arguments as long as the bucket key is the
// expected one.  The arguments carry the current time.
func matchKey(key string) redismock.CustomMatch {
	return func(expected, actual []interface{}) error {
		if len(actual) < 4 || fmt.Sprint(actual[3]) != key {
			return fmt.Errorf("unexpected args %v", actual)
		}
		return nil
	}
}

func serveLimited(t *testing.T, mw echo.MiddlewareFunc, userID uint64) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	setUser := func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if userID != 0 {
				c.Set(ContextUserID, userID)
			}
			return next(c)
		}
	}
	e.POST("/v1/reservations", func(c echo.Context) error {
		return c.NoContent(http.StatusCreated)
	}, setUser, mw)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/reservations", nil))
	return rec
}

func expectBucket(mock redismock.ClientMock, key string) *redismock.ExpectedCmd {
	return mock.CustomMatch(matchKey(key)).
		ExpectEvalSha(tokenBucketScript.Hash(), []string{key}, 0, 0, 0, 0, 0)
}

func TestTokenBucket_Allows(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := "rl:user:7:route:POST /v1/reservations"
	expectBucket(mock, key).SetVal([]interface{}{int64(1), int64(4), int64(0)})

	rec := serveLimited(t, NewTokenBucket(testRateConfig(), db, zaptest.NewLogger(t)), 7)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_Blocks(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := "rl:user:7:route:POST /v1/reservations"
	expectBucket(mock, key).SetVal([]interface{}{int64(0), int64(0), int64(1500)})

	rec := serveLimited(t, NewTokenBucket(testRateConfig(), db, zaptest.NewLogger(t)), 7)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "too_many_requests")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_FailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	key := "rl:user:anon:route:POST /v1/reservations"
	expectBucket(mock, key).SetErr(errors.New("connection refused"))

	rec := serveLimited(t, NewTokenBucket(testRateConfig(), db, zaptest.NewLogger(t)), 0)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTokenBucket_Disabled(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := testRateConfig()
	cfg.Enabled = false

	rec := serveLimited(t, NewTokenBucket(cfg, db, nil), 7)
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())

	rec = serveLimited(t, NewTokenBucket(testRateConfig(), nil, nil), 7)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/reservations", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/reservations")
	c.Set(ContextUserID, uint64(3))

	cases := map[string]string{
		"ip":         "rl:ip:10.0.0.1",
		"user":       "rl:user:3",
		"route":      "rl:route:POST /v1/reservations",
		"ip_user":    "rl:ip:10.0.0.1:user:3",
		"ip_route":   "rl:ip:10.0.0.1:route:POST /v1/reservations",
		"user_route": "rl:user:3:route:POST /v1/reservations",
		"":           "rl:ip:10.0.0.1:user:3:route:POST /v1/reservations",
	}
	for strategy, want := range cases {
		cfg := testRateConfig()
		cfg.KeyStrategy = strategy
		assert.Equal(t, want, buildRateKey(cfg, c), strategy)
	}
}

func TestAsInt64(t *testing.T) {
	assert.Equal(t, int64(3), asInt64(int64(3)))
	assert.Equal(t, int64(3), asInt64(3))
	assert.Equal(t, int64(3), asInt64(float64(3)))
	assert.Equal(t, int64(3), asInt64("3"))
	assert.Equal(t, int64(0), asInt64("x"))
	assert.Equal(t, int64(0), asInt64(nil))
}
