package controller_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ownide/internal/sandbox/controller"

	"github.com/gin-gonic/gin"
)

func newHealthRouter(checks map[string]controller.HealthCheck) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := controller.NewHealthController(checks, 0)
	r.GET("/", h.Welcome)
	r.GET("/healthz", h.Healthz)
	return r
}

func TestWelcome(t *testing.T) {
	w := httptest.NewRecorder()
	newHealthRouter(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Welcome to the Own IDE API!") {
		t.Fatalf("unexpected welcome: %d %s", w.Code, w.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	ok := func(ctx context.Context) error { return nil }
	down := func(ctx context.Context) error { return errors.New("docker daemon unreachable") }

	w := httptest.NewRecorder()
	newHealthRouter(map[string]controller.HealthCheck{"docker": ok, "store": ok}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	newHealthRouter(map[string]controller.HealthCheck{"docker": down, "store": ok}).
		ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "docker daemon unreachable") {
		t.Fatalf("failing check not reported: %s", w.Body.String())
	}
}
