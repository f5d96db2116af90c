package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func idempotentRouter(cfg *IdempotencyConfig, calls *int) *gin.Engine {
	r := gin.New()
	r.POST("/reservations", IdempotencyMiddleware(cfg), func(c *gin.Context) {
		*calls++
		c.JSON(http.StatusCreated, gin.H{"outcome": "issued"})
	})
	return r
}

func recordJSON(t *testing.T, rec IdempotencyRecord) string {
	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	return string(raw)
}

func TestIdempotency_NoKeyPassesThrough(t *testing.T) {
	calls := 0
	r := idempotentRouter(&IdempotencyConfig{}, &calls)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(`{}`)))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}

func TestIdempotency_RequiredKey(t *testing.T) {
	calls := 0
	r := idempotentRouter(&IdempotencyConfig{Required: true}, &calls)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/reservations", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotency_FirstRequestIsStored(t *testing.T) {
	db, mock := redismock.NewClientMock()
	cfg := DefaultIdempotencyConfig(db)
	calls := 0
	r := idempotentRouter(cfg, &calls)

	mock.ExpectGet("idempotency:k1").RedisNil()
	mock.CustomMatch(func(expected, actual []interface{}) error { return nil }).
		ExpectSetNX("idempotency:k1", "", 60*time.Second).SetVal(true)
	mock.CustomMatch(func(expected, actual []interface{}) error { return nil }).
		ExpectSet("idempotency:k1", "", 24*time.Hour).SetVal("OK")

	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(`{"event_id":"e1"}`))
	req.Header.Set(IdempotencyKeyHeader, "k1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotency_ConflictingReuse(t *testing.T) {
	db, mock := redismock.NewClientMock()
	calls := 0
	r := idempotentRouter(DefaultIdempotencyConfig(db), &calls)

	mock.ExpectGet("idempotency:k2").SetVal(recordJSON(t, IdempotencyRecord{
		Status: StatusCompleted, RequestHash: "different", ResponseCode: 201, ResponseBody: `{}`,
	}))

	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(`{"event_id":"e1"}`))
	req.Header.Set(IdempotencyKeyHeader, "k2")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, 0, calls)
}

func TestIdempotency_RedisErrorFailsOpen(t *testing.T) {
	db, mock := redismock.NewClientMock()
	calls := 0
	r := idempotentRouter(DefaultIdempotencyConfig(db), &calls)

	mock.ExpectGet("idempotency:k3").SetErr(assert.AnError)

	req := httptest.NewRequest(http.MethodPost, "/reservations", strings.NewReader(`{}`))
	req.Header.Set(IdempotencyKeyHeader, "k3")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}
