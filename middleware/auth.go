package middleware

import (
	"fmt"
	"strings"
	"time"

	"postbox/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "postbox"

// Claims are the JWT claims carried by an access token
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and validates access tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenIssuer creates an HS256 token issuer
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenIssuer{secret: []byte(secret), ttl: ttl}
}

// Issue creates a token for username
func (t *TokenIssuer) Issue(username string) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(t.ttl)

	claims := Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    tokenIssuer,
			Subject:   username,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Validate parses a token and returns its claims
func (t *TokenIssuer) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, fmt.Errorf("token validation failed: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Username == "" {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

// JWTAuth requires a valid bearer token and stores the caller's username in
// Locals("username"). Event streams cannot set headers, so a "token" query
// parameter is accepted as well.
func JWTAuth(issuer *TokenIssuer) fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Query("token")
		if auth := c.Get(fiber.HeaderAuthorization); auth != "" {
			scheme, value, ok := strings.Cut(auth, " ")
			if !ok || !strings.EqualFold(scheme, "bearer") {
				return utils.UnauthorizedError("Authorization header must be 'Bearer <token>'", nil)
			}
			tokenString = strings.TrimSpace(value)
		}
		if tokenString == "" {
			return utils.UnauthorizedError("Authorization required", nil)
		}

		claims, err := issuer.Validate(tokenString)
		if err != nil {
			utils.Log.Debug("Token rejected for %s: %v", c.Path(), err)
			return utils.UnauthorizedError("Invalid or expired token", err)
		}

		c.Locals("username", claims.Username)
		return c.Next()
	}
}
