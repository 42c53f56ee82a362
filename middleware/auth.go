package middleware

import (
	"clinipratica/api/logger"
	"clinipratica/api/models"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// UserKey is the gin context key holding *models.SupabaseClaims.
const UserKey = "user"

// AuthMiddleware verifies Supabase HS256 tokens signed with secret and
// issued by issuer.
func AuthMiddleware(secret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := extractToken(c.Request)
		if tokenString == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing or invalid token"})
			return
		}

		claims := &models.SupabaseClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			if secret == "" {
				return nil, fmt.Errorf("jwt secret not configured")
			}
			return []byte(secret), nil
		}, jwt.WithIssuer(issuer))

		if err != nil {
			logger.Get().Debug("rejected token", zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: " + err.Error()})
			return
		}

		if !token.Valid || claims.Sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(UserKey, claims)
		c.Next()
	}
}

// ClaimsFromContext returns the claims stored by AuthMiddleware.
func ClaimsFromContext(c *gin.Context) (*models.SupabaseClaims, bool) {
	user, exists := c.Get(UserKey)
	if !exists {
		return nil, false
	}
	claims, ok := user.(*models.SupabaseClaims)
	return claims, ok
}

func extractToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}
