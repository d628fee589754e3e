// Package auth authenticates API callers with HMAC-signed JWT bearer tokens.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

type contextKey string

const userIDKey contextKey = "authUserID"

var (
	errMissingHeader = errors.New("authorization header required")
	errBadHeader     = errors.New("invalid authorization header")
	errMissingToken  = errors.New("token missing")
	errNoSubject     = errors.New("missing subject")
)

// WithUserID stores the authenticated subject on ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// GetUserID retrieves the authenticated subject from context.
func GetUserID(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	if value, ok := ctx.Value(userIDKey).(string); ok && value != "" {
		return value, true
	}
	return "", false
}

// Verifier checks tokens against a shared secret and optional audience.
type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewVerifier returns a Verifier. An empty secret rejects every token.
func NewVerifier(secret, audience string) *Verifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}),
		jwt.WithLeeway(30 * time.Second),
	}
	if aud := strings.TrimSpace(audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}
	return &Verifier{
		secret: []byte(strings.TrimSpace(secret)),
		parser: jwt.NewParser(opts...),
	}
}

// Subject validates tokenString and returns its subject claim.
func (v *Verifier) Subject(tokenString string) (string, error) {
	if len(v.secret) == 0 {
		return "", errors.New("missing JWT secret")
	}
	claims := &jwt.RegisteredClaims{}
	if _, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}); err != nil {
		if errors.Is(err, jwt.ErrTokenInvalidAudience) {
			return "", errors.New("invalid audience")
		}
		return "", errors.New("invalid token")
	}
	if claims.Subject == "" {
		return "", errNoSubject
	}
	return claims.Subject, nil
}

// Middleware rejects requests without a valid bearer token and injects the
// subject into the request context.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, err := extractBearerToken(c.Request.Header.Get("Authorization"))
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		subject, err := v.Subject(tokenString)
		if err != nil {
			unauthorized(c, err.Error())
			return
		}

		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), subject))
		c.Set(string(userIDKey), subject)
		c.Next()
	}
}

// JWTMiddleware is shorthand for NewVerifier(secret, audience).Middleware().
func JWTMiddleware(secret, audience string) gin.HandlerFunc {
	return NewVerifier(secret, audience).Middleware()
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingHeader
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", errBadHeader
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}

func unauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
