package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Header names for the trusted tenant/viewer context. An upstream gateway
// authenticates the caller and forwards these; this service trusts them as-is.
const (
	TenantIDHeader = "X-Tenant-ID"
	ViewerIDHeader = "X-Viewer-ID"
)

// TenantContextMiddleware copies the trusted tenant and viewer identity
// headers into the request context. Requests without a tenant are rejected
// before they reach any data access.
func TenantContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantID := c.GetHeader(TenantIDHeader)
		if tenantID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Tenant context required"})
			c.Abort()
			return
		}

		c.Set("tenant_id", tenantID)
		if viewerID := c.GetHeader(ViewerIDHeader); viewerID != "" {
			c.Set("user_id", viewerID)
		}
		c.Next()
	}
}
