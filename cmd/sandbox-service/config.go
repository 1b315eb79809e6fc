package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"ownide/internal/common/cache"
	"ownide/internal/common/db"
	commonmw "ownide/internal/common/http/middleware"
	"ownide/internal/common/mq"
	"ownide/internal/sandbox/controller"
	"ownide/internal/sandbox/executor"
	"ownide/internal/sandbox/middleware"
	"ownide/internal/sandbox/model"
	"ownide/internal/sandbox/repository"
	"ownide/internal/sandbox/runtime"
	"ownide/internal/sandbox/service"
	"ownide/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8080"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 15 * time.Second

	defaultStoreTimeout  = 2 * time.Second
	defaultSweepInterval = time.Minute
	defaultSweepBatch    = 500

	defaultExecTimeout    = 5 * time.Second
	defaultExecOverhead   = 50 * time.Millisecond
	defaultMaxOutputBytes = 1 << 20
	defaultMaxCodeBytes   = 64 * 1024
	defaultMaxInputBytes  = 64 * 1024

	defaultGuestLimit  = 10
	defaultQuotaWindow = 24 * time.Hour

	defaultFinalTopic = "sandbox.status.final"

	storeDriverRedis = "redis"
	storeDriverMySQL = "mysql"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// StoreConfig selects and tunes the submission store.
type StoreConfig struct {
	Driver           string        `yaml:"driver"`
	AnonymousTTL     time.Duration `yaml:"anonymousTTL"`
	AuthenticatedTTL time.Duration `yaml:"authenticatedTTL"`
	SweepInterval    time.Duration `yaml:"sweepInterval"`
	SweepBatch       int           `yaml:"sweepBatch"`
	Timeout          time.Duration `yaml:"timeout"`
}

// DockerConfig holds container runtime settings.
type DockerConfig struct {
	runtime.Config `yaml:",inline"`
	PullImages     bool                      `yaml:"pullImages"`
	Images         map[model.Language]string `yaml:"images"`
}

// ExecutionConfig holds per-run limits.
type ExecutionConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	Overhead       time.Duration `yaml:"overhead"`
	MaxOutputBytes int           `yaml:"maxOutputBytes"`
	MaxCodeBytes   int           `yaml:"maxCodeBytes"`
	MaxInputBytes  int           `yaml:"maxInputBytes"`
}

// AuthConfig holds token validation settings.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"`
	JWTIssuer string `yaml:"jwtIssuer"`
}

// EventsConfig holds final status event settings.
type EventsConfig struct {
	Enabled bool           `yaml:"enabled"`
	Topic   string         `yaml:"topic"`
	Kafka   mq.KafkaConfig `yaml:"kafka"`
}

// AppConfig holds sandbox-service config.
type AppConfig struct {
	Server     ServerConfig             `yaml:"server"`
	Logger     logger.Config            `yaml:"logger"`
	Redis      cache.RedisConfig        `yaml:"redis"`
	MySQL      db.MySQLConfig           `yaml:"mysql"`
	Store      StoreConfig              `yaml:"store"`
	Docker     DockerConfig             `yaml:"docker"`
	Execution  ExecutionConfig          `yaml:"execution"`
	Quota      service.QuotaConfig      `yaml:"quota"`
	Auth       AuthConfig               `yaml:"auth"`
	Visitor    middleware.VisitorConfig `yaml:"visitor"`
	Dispatcher service.DispatcherConfig `yaml:"dispatcher"`
	Events     EventsConfig             `yaml:"events"`
	Watch      controller.WatchConfig   `yaml:"watch"`
	CORS       commonmw.CORSConfig      `yaml:"cors"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	applyServerDefaults(&cfg.Server)
	applyStoreDefaults(&cfg.Store)
	applyExecutionDefaults(&cfg.Execution)

	switch cfg.Store.Driver {
	case storeDriverRedis:
	case storeDriverMySQL:
		if cfg.MySQL.DSN == "" {
			return nil, fmt.Errorf("mysql dsn is required for the mysql store")
		}
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}

	// A negative limit switches the guest quota off.
	if cfg.Quota.GuestLimit == 0 {
		cfg.Quota.GuestLimit = defaultGuestLimit
	}
	if cfg.Quota.Window == 0 {
		cfg.Quota.Window = defaultQuotaWindow
	}
	if cfg.needsRedis() {
		if cfg.Redis.Addr == "" {
			return nil, fmt.Errorf("redis addr is required")
		}
		applyRedisDefaults(&cfg.Redis)
	}

	if len(cfg.Docker.Images) == 0 {
		cfg.Docker.Images = make(map[model.Language]string, len(executor.DefaultImages))
		for lang, img := range executor.DefaultImages {
			cfg.Docker.Images[lang] = img
		}
	}
	for lang := range cfg.Docker.Images {
		if !lang.Valid() {
			return nil, fmt.Errorf("image configured for unknown language %q", lang)
		}
	}

	if cfg.Events.Enabled {
		if len(cfg.Events.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka brokers are required when events are enabled")
		}
		if cfg.Events.Topic == "" {
			cfg.Events.Topic = defaultFinalTopic
		}
		if cfg.Events.Kafka.ClientID == "" {
			cfg.Events.Kafka.ClientID = "sandbox-service"
		}
	}

	cfg.Auth.JWTSecret = strings.TrimSpace(cfg.Auth.JWTSecret)
	if envSecret := os.Getenv("SANDBOX_JWT_SECRET"); envSecret != "" {
		cfg.Auth.JWTSecret = envSecret
	}
	return &cfg, nil
}

func (c *AppConfig) needsRedis() bool {
	return c.Store.Driver == storeDriverRedis || c.Quota.GuestLimit > 0
}

func (c *AppConfig) ttlPolicy() repository.TTLPolicy {
	return repository.TTLPolicy{
		Anonymous:     c.Store.AnonymousTTL,
		Authenticated: c.Store.AuthenticatedTTL,
	}
}

func (c *AppConfig) executorConfig() executor.Config {
	return executor.Config{
		Images:         c.Docker.Images,
		Timeout:        c.Execution.Timeout,
		Overhead:       c.Execution.Overhead,
		MaxOutputBytes: c.Execution.MaxOutputBytes,
		StopTimeout:    c.Docker.StopTimeout,
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultHTTPAddr
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
}

func applyStoreDefaults(cfg *StoreConfig) {
	cfg.Driver = strings.ToLower(strings.TrimSpace(cfg.Driver))
	if cfg.Driver == "" {
		cfg.Driver = storeDriverRedis
	}
	defaults := repository.DefaultTTLPolicy()
	if cfg.AnonymousTTL == 0 {
		cfg.AnonymousTTL = defaults.Anonymous
	}
	if cfg.AuthenticatedTTL == 0 {
		cfg.AuthenticatedTTL = defaults.Authenticated
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.SweepBatch <= 0 {
		cfg.SweepBatch = defaultSweepBatch
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultStoreTimeout
	}
}

func applyExecutionDefaults(cfg *ExecutionConfig) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultExecTimeout
	}
	if cfg.Overhead == 0 {
		cfg.Overhead = defaultExecOverhead
	}
	if cfg.MaxOutputBytes <= 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	if cfg.MaxCodeBytes <= 0 {
		cfg.MaxCodeBytes = defaultMaxCodeBytes
	}
	if cfg.MaxInputBytes <= 0 {
		cfg.MaxInputBytes = defaultMaxInputBytes
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	if cfg == nil {
		return
	}
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}
