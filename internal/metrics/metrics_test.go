package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestMiddlewareRecordsRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/items/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/items/42", nil))

	out := httptest.NewRecorder()
	Handler().ServeHTTP(out, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(out.Body.String(), `route="/items/:id"`) {
		t.Error("latency sample for /items/:id missing")
	}
}

func TestHandlerExposesCounters(t *testing.T) {
	RolloutsTotal.WithLabelValues("deploy").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `ofc_rollouts_total{trigger="deploy"}`) {
		t.Error("rollout counter missing from /metrics output")
	}
}

func TestStatus(t *testing.T) {
	if Status(nil) != "success" || Status(errors.New("x")) != "failed" {
		t.Error("Status() mismatch")
	}
}
