package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anirudhsonawane/ticket-reservation/pkg/response"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// UserIDHeader identifies the caller; identity resolution happens upstream
	UserIDHeader = "X-User-ID"

	ContextKeyUserID     = "user_id"
	ContextKeyAdminEmail = "admin_email"
)

// UserIDMiddleware requires the X-User-ID header set by the storefront gateway
func UserIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserIDHeader))
		if userID == "" {
			response.Unauthorized(c, "X-User-ID header is required")
			c.Abort()
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// GetUserID returns the caller id stored by UserIDMiddleware
func GetUserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(ContextKeyUserID)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// AdminClaims is the payload of an admin bearer token
type AdminClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AdminAuthConfig configures AdminAuth
type AdminAuthConfig struct {
	Secret string
	Issuer string
	// AllowedEmails is the admin allowlist; matching is case-insensitive
	AllowedEmails []string
}

// AdminAuth validates an HS256 bearer token and requires its email to be allowlisted
func AdminAuth(cfg AdminAuthConfig) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(cfg.AllowedEmails))
	for _, e := range cfg.AllowedEmails {
		allowed[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			response.Unauthorized(c, "bearer token is required")
			c.Abort()
			return
		}

		claims, err := ParseAdminToken(token, cfg.Secret, cfg.Issuer)
		if err != nil {
			response.Unauthorized(c, "invalid token")
			c.Abort()
			return
		}

		email := strings.ToLower(claims.Email)
		if _, ok := allowed[email]; !ok {
			response.Forbidden(c, "admin access required")
			c.Abort()
			return
		}

		c.Set(ContextKeyAdminEmail, email)
		c.Next()
	}
}

// GetAdminEmail returns the admin identity stored by AdminAuth
func GetAdminEmail(c *gin.Context) string {
	return c.GetString(ContextKeyAdminEmail)
}

// ParseAdminToken verifies signature, expiry and issuer
func ParseAdminToken(token, secret, issuer string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("parse admin token: %w", err)
	}
	if !parsed.Valid || claims.Email == "" {
		return nil, errors.New("admin token has no email")
	}
	return claims, nil
}

// IssueAdminToken signs a token for email valid for ttl
func IssueAdminToken(email, secret, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := AdminClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
