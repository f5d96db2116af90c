package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	// IdempotencyKeyHeader carries the client supplied idempotency key
	IdempotencyKeyHeader = "X-Idempotency-Key"
	// ContextKeyIdempotencyKey is where the key is stored on the gin context
	ContextKeyIdempotencyKey = "idempotency_key"
	// IdempotencyKeyPrefix namespaces records in Redis
	IdempotencyKeyPrefix = "idempotency:"
)

type IdempotencyStatus string

const (
	StatusProcessing IdempotencyStatus = "processing"
	StatusCompleted  IdempotencyStatus = "completed"
)

// IdempotencyRecord is the cached state of one keyed request
type IdempotencyRecord struct {
	Status       IdempotencyStatus `json:"status"`
	RequestHash  string            `json:"request_hash"`
	ResponseCode int               `json:"response_code"`
	ResponseBody string            `json:"response_body"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RedisClient is the subset of go-redis used here
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
}

// IdempotencyConfig configures IdempotencyMiddleware
type IdempotencyConfig struct {
	Redis RedisClient
	// TTL of completed records
	TTL time.Duration
	// ProcessingTTL bounds how long an in-flight marker blocks retries
	ProcessingTTL time.Duration
	// Required rejects requests without a key
	Required bool
}

// DefaultIdempotencyConfig keeps completed responses for 24h
func DefaultIdempotencyConfig(redis RedisClient) *IdempotencyConfig {
	return &IdempotencyConfig{
		Redis:         redis,
		TTL:           24 * time.Hour,
		ProcessingTTL: 60 * time.Second,
	}
}

// IdempotencyMiddleware replays the stored response for a repeated
// X-Idempotency-Key. Redis failures fail open.
func IdempotencyMiddleware(config *IdempotencyConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(IdempotencyKeyHeader)
		if key == "" {
			if config.Required {
				response.Error(c, http.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY", "X-Idempotency-Key header is required", nil)
				c.Abort()
				return
			}
			c.Next()
			return
		}
		if config.Redis == nil {
			c.Next()
			return
		}
		c.Set(ContextKeyIdempotencyKey, key)

		var body []byte
		if c.Request.Body != nil {
			body, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewReader(body))
		}
		hash := requestHash(c, body)
		redisKey := IdempotencyKeyPrefix + key
		ctx := c.Request.Context()

		existing, err := getRecord(ctx, config.Redis, redisKey)
		if err != nil && !errors.Is(err, redis.Nil) {
			c.Next()
			return
		}
		if existing != nil {
			replay(c, existing, hash)
			return
		}

		record := &IdempotencyRecord{Status: StatusProcessing, RequestHash: hash, CreatedAt: time.Now()}
		if !setRecordNX(ctx, config.Redis, redisKey, record, config.ProcessingTTL) {
			if existing, _ = getRecord(ctx, config.Redis, redisKey); existing != nil {
				replay(c, existing, hash)
				return
			}
		}

		rw := &capturingWriter{ResponseWriter: c.Writer, body: &bytes.Buffer{}}
		c.Writer = rw
		c.Next()

		record.Status = StatusCompleted
		record.ResponseCode = rw.Status()
		record.ResponseBody = rw.body.String()
		if data, err := json.Marshal(record); err == nil {
			_ = config.Redis.Set(ctx, redisKey, string(data), config.TTL).Err()
		}
	}
}

func replay(c *gin.Context, record *IdempotencyRecord, hash string) {
	switch {
	case record.RequestHash != hash:
		response.Error(c, http.StatusUnprocessableEntity, "IDEMPOTENCY_KEY_REUSED", "Idempotency key already used with a different request", nil)
	case record.Status == StatusProcessing:
		response.Error(c, http.StatusConflict, "REQUEST_IN_PROGRESS", "A request with this idempotency key is already being processed", nil)
	default:
		c.Data(record.ResponseCode, "application/json; charset=utf-8", []byte(record.ResponseBody))
	}
	c.Abort()
}

type capturingWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w *capturingWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

func requestHash(c *gin.Context, body []byte) string {
	h := sha256.New()
	h.Write([]byte(c.Request.Method))
	h.Write([]byte(c.Request.URL.Path))
	if userID, ok := GetUserID(c); ok {
		h.Write([]byte(userID))
	}
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func getRecord(ctx context.Context, rdb RedisClient, key string) (*IdempotencyRecord, error) {
	raw, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return nil, err
	}
	var record IdempotencyRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func setRecordNX(ctx context.Context, rdb RedisClient, key string, record *IdempotencyRecord, ttl time.Duration) bool {
	data, err := json.Marshal(record)
	if err != nil {
		return false
	}
	ok, err := rdb.SetNX(ctx, key, string(data), ttl).Result()
	return err == nil && ok
}
