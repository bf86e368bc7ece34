package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestTenantContextMiddleware_MissingTenant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TenantContextMiddleware())
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/x", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without tenant header, got %d", w.Code)
	}
}

func TestTenantContextMiddleware_SetsContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TenantContextMiddleware())
	var gotTenant, gotViewer string
	r.GET("/x", func(c *gin.Context) {
		gotTenant = c.GetString("tenant_id")
		gotViewer = c.GetString("user_id")
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/x", nil)
	req.Header.Set(TenantIDHeader, "t1")
	req.Header.Set(ViewerIDHeader, "u1")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotTenant != "t1" || gotViewer != "u1" {
		t.Fatalf("context not populated: tenant=%q viewer=%q", gotTenant, gotViewer)
	}
}
