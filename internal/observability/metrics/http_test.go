package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(Middleware())
	router.GET("/api/v1/runs/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(HTTPRequests.WithLabelValues("/api/v1/runs/:id", http.MethodGet, "204"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/runs/abc", nil))

	after := testutil.ToFloat64(HTTPRequests.WithLabelValues("/api/v1/runs/:id", http.MethodGet, "204"))
	if after-before != 1 {
		t.Fatalf("expected one recorded request, got %v", after-before)
	}
}

func TestHandlerExposesRegistry(t *testing.T) {
	FramesSent.WithLabelValues("request").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "agentos_transport_frames_sent_total") {
		t.Fatalf("expected transport counter in output")
	}
}
