package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// TenantMiddleware resolves the store an import request acts on.
// SECURITY: No default fallback - requests without a store are rejected.
// A tenant_id already set by IstioAuth wins; otherwise the X-Store-ID,
// X-Vendor-ID and legacy X-Tenant-ID headers are tried in that order.
func TenantMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		storeID := c.GetString("tenant_id")
		for _, header := range []string{"X-Store-ID", "X-Vendor-ID", "X-Tenant-ID"} {
			if storeID != "" {
				break
			}
			storeID = c.GetHeader(header)
		}

		if storeID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "TENANT_REQUIRED",
					"message": "Store ID is required. Include X-Store-ID or X-Tenant-ID header.",
				},
			})
			c.Abort()
			return
		}

		c.Set("tenantId", storeID)
		c.Set("tenant_id", storeID)
		c.Set("store_id", storeID)
		c.Next()
	}
}

// GetStoreID retrieves the store ID from gin context
func GetStoreID(c *gin.Context) string {
	if sid := c.GetString("tenant_id"); sid != "" {
		return sid
	}
	if sid := c.GetString("store_id"); sid != "" {
		return sid
	}
	return c.GetString("tenantId")
}
