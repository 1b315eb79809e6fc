package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"ownide/internal/sandbox/controller"
	"ownide/internal/sandbox/executor"
	"ownide/internal/sandbox/model"

	"github.com/gin-gonic/gin"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sandbox_service.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppConfigDefaults(t *testing.T) {
	cfg, err := loadAppConfig(writeConfig(t, "redis:\n  addr: 127.0.0.1:6379\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != defaultHTTPAddr || cfg.Store.Driver != storeDriverRedis {
		t.Fatalf("unexpected server/store defaults: %+v %+v", cfg.Server, cfg.Store)
	}
	if cfg.Store.AnonymousTTL != 10*time.Minute || cfg.Store.AuthenticatedTTL != time.Hour {
		t.Fatalf("unexpected ttl defaults: %+v", cfg.Store)
	}
	if cfg.Execution.Timeout != 5*time.Second || cfg.Execution.MaxOutputBytes != 1<<20 || cfg.Execution.MaxCodeBytes != 64*1024 {
		t.Fatalf("unexpected execution defaults: %+v", cfg.Execution)
	}
	if cfg.Quota.GuestLimit != defaultGuestLimit || cfg.Quota.Window != 24*time.Hour {
		t.Fatalf("unexpected quota defaults: %+v", cfg.Quota)
	}
	if cfg.Docker.Images[model.LanguagePython] != "python:3.12-alpine" || len(cfg.Docker.Images) != 4 {
		t.Fatalf("unexpected images: %v", cfg.Docker.Images)
	}
	if cfg.Redis.PoolSize == 0 {
		t.Fatalf("redis defaults not applied")
	}
}

func TestLoadAppConfigOverrides(t *testing.T) {
	body := `
server:
  addr: 127.0.0.1:9000
store:
  driver: MySQL
  anonymousTTL: 5m
mysql:
  dsn: "root:pw@tcp(127.0.0.1:3306)/ownide?parseTime=true"
quota:
  guestLimit: -1
docker:
  host: unix:///var/run/docker.sock
  memoryBytes: 134217728
  pullImages: true
  images:
    python: python:3.11-slim
execution:
  timeout: 3s
events:
  enabled: true
  kafka:
    brokers: ["127.0.0.1:9092"]
watch:
  interval: 250ms
`
	cfg, err := loadAppConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Driver != storeDriverMySQL || cfg.Store.AnonymousTTL != 5*time.Minute {
		t.Fatalf("unexpected store: %+v", cfg.Store)
	}
	if cfg.needsRedis() {
		t.Fatalf("mysql store without quota must not need redis")
	}
	if cfg.Docker.Host != "unix:///var/run/docker.sock" || cfg.Docker.MemoryBytes != 134217728 || !cfg.Docker.PullImages {
		t.Fatalf("unexpected docker config: %+v", cfg.Docker)
	}
	if cfg.Docker.Images[model.LanguagePython] != "python:3.11-slim" {
		t.Fatalf("image override lost: %v", cfg.Docker.Images)
	}
	if cfg.executorConfig().Timeout != 3*time.Second {
		t.Fatalf("execution timeout not applied")
	}
	if cfg.Events.Topic != defaultFinalTopic || cfg.Events.Kafka.ClientID == "" {
		t.Fatalf("unexpected events config: %+v", cfg.Events)
	}
	if cfg.Watch.Interval != 250*time.Millisecond {
		t.Fatalf("unexpected watch interval %v", cfg.Watch.Interval)
	}
}

func TestLoadAppConfigErrors(t *testing.T) {
	cases := map[string]string{
		"missing redis":    "store:\n  driver: redis\n",
		"unknown driver":   "store:\n  driver: mongo\nredis:\n  addr: x:1\n",
		"mysql no dsn":     "store:\n  driver: mysql\nquota:\n  guestLimit: -1\n",
		"unknown language": "redis:\n  addr: x:1\ndocker:\n  images:\n    ruby: ruby:3\n",
		"events no broker": "redis:\n  addr: x:1\nevents:\n  enabled: true\n",
		"bad yaml":         "server: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadAppConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
	if _, err := loadAppConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestRouterServesHealthAndWelcome(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg, err := loadAppConfig(writeConfig(t, "redis:\n  addr: 127.0.0.1:6379\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	router := newRouter(cfg, nil, nil, map[string]controller.HealthCheck{})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Welcome") {
		t.Fatalf("unexpected welcome response: %d %s", w.Code, w.Body.String())
	}
	if w.Header().Get("X-Trace-Id") == "" {
		t.Fatalf("trace header missing")
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected healthz status %d", w.Code)
	}
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv("SANDBOX_JWT_SECRET", "")
	cfg, err := loadAppConfig(filepath.Join("..", "..", "configs", "sandbox_service.yaml"))
	if err != nil {
		t.Fatalf("sample config must load: %v", err)
	}
	if cfg.Store.Driver != storeDriverRedis || cfg.Store.AnonymousTTL != 10*time.Minute {
		t.Fatalf("unexpected store config: %+v", cfg.Store)
	}
	if cfg.Docker.Images[model.LanguageCPP] != executor.DefaultImages[model.LanguageCPP] {
		t.Fatalf("sample images drifted from defaults: %v", cfg.Docker.Images)
	}
	if cfg.Docker.WorkingDir != "/sandbox" || cfg.Watch.Interval != 500*time.Millisecond {
		t.Fatalf("unexpected docker/watch config: %+v %+v", cfg.Docker.Config, cfg.Watch)
	}
}
