// Package jwt guards gin routes with HMAC-signed bearer tokens.
package jwt

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const claimsKey = "claims"

// ErrEmptySecret is returned when a token is minted without a signing secret.
var ErrEmptySecret = errors.New("jwt secret is empty")

// Claims represents JWT claims
type Claims struct {
	Sub string `json:"sub"`
	jwt.RegisteredClaims
}

// NewToken signs an HS256 token for subject that expires after ttl.
func NewToken(secret, subject string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", ErrEmptySecret
	}
	now := time.Now()
	claims := Claims{
		Sub: subject,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Middleware rejects requests without a valid bearer token signed with secret.
func Middleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		tokenString, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header format"})
			return
		}

		token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
			if _, isHMAC := token.Method.(*jwt.SigningMethodHMAC); !isHMAC {
				return nil, errors.New("invalid signing method")
			}
			return []byte(secret), nil
		})
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, valid := token.Claims.(*Claims)
		if !valid || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// GetClaims extracts claims from the gin context
func GetClaims(c *gin.Context) (*Claims, bool) {
	claims, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}

	cl, ok := claims.(*Claims)
	return cl, ok
}
