package handlers

import (
	"clinipratica/api/logger"
	"clinipratica/api/middleware"
	"clinipratica/api/models"
	"net/http"

	"github.com/gin-gonic/gin"
)

// currentUser returns the authenticated claims or answers 401.
func currentUser(c *gin.Context) (*models.SupabaseClaims, bool) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		logger.Get().Error("user not authenticated")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "User not authenticated"})
		return nil, false
	}
	return claims, true
}
