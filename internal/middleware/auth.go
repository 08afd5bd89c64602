package middleware

import (
	"github.com/gin-gonic/gin"
)

// DevUserID is the operator used when no identity reaches a development instance
const DevUserID = "00000000-0000-0000-0000-000000000001"

// DevelopmentAuthMiddleware fills in the operator identity for local runs where
// IstioAuth is not in front of the service. An X-User-ID header wins over the
// fallback.
func DevelopmentAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("user_id")
		if userID == "" {
			userID = c.GetHeader("X-User-ID")
		}
		if userID == "" {
			userID = DevUserID
		}

		// RBAC middleware checks staff_id first
		c.Set("userId", userID)
		c.Set("user_id", userID)
		c.Set("staff_id", userID)
		c.Next()
	}
}

// GetUserID retrieves the operator ID from gin context
func GetUserID(c *gin.Context) string {
	if uid := c.GetString("user_id"); uid != "" {
		return uid
	}
	return c.GetString("userId")
}
