package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ownide/internal/common/cache"
	"ownide/internal/common/db"
	commonmw "ownide/internal/common/http/middleware"
	"ownide/internal/common/mq"
	"ownide/internal/sandbox/controller"
	"ownide/internal/sandbox/executor"
	"ownide/internal/sandbox/middleware"
	"ownide/internal/sandbox/repository"
	"ownide/internal/sandbox/runtime"
	"ownide/internal/sandbox/service"
	"ownide/pkg/utils/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultConfigPath = "configs/sandbox_service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := run(appCfg); err != nil {
		logger.Error(context.Background(), "sandbox service stopped", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(appCfg *AppConfig) error {
	bootCtx := context.Background()
	checks := make(map[string]controller.HealthCheck)

	var redisCache *cache.RedisCache
	if appCfg.needsRedis() {
		rc, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			return fmt.Errorf("init redis failed: %w", err)
		}
		redisCache = rc
		defer func() {
			_ = redisCache.Close()
		}()
		checks["redis"] = redisCache.Ping
	}

	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	defer stopSweeper()
	sweeperDone := make(chan struct{})

	var repo repository.SubmissionRepository
	switch appCfg.Store.Driver {
	case storeDriverMySQL:
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.MySQL)
		if err != nil {
			return fmt.Errorf("init database failed: %w", err)
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		mysqlRepo := repository.NewMySQLSubmissionRepository(mysqlDB, appCfg.ttlPolicy())
		go func() {
			defer close(sweeperDone)
			mysqlRepo.RunSweeper(sweepCtx, appCfg.Store.SweepInterval, appCfg.Store.SweepBatch)
		}()
		repo = mysqlRepo
	default:
		close(sweeperDone)
		repo = repository.NewRedisSubmissionRepository(redisCache, appCfg.ttlPolicy())
	}
	checks["store"] = repo.Ping

	docker := runtime.NewClient(appCfg.Docker.Config, nil)
	if err := docker.Connect(bootCtx); err != nil {
		return fmt.Errorf("connect docker failed: %w", err)
	}
	defer func() {
		_ = docker.Close()
	}()
	checks["docker"] = docker.Ping

	if removed, err := docker.SweepOrphans(bootCtx); err != nil {
		logger.Warn(bootCtx, "sweep orphan containers failed", zap.Error(err))
	} else if removed > 0 {
		logger.Info(bootCtx, "removed orphan containers", zap.Int("count", removed))
	}

	sandboxExecutor := executor.New(docker, appCfg.executorConfig())
	if appCfg.Docker.PullImages {
		if err := docker.EnsureImages(bootCtx, sandboxExecutor.Images()); err != nil {
			logger.Warn(bootCtx, "pull sandbox images failed", zap.Error(err))
		}
	}

	var quota service.QuotaGuard
	if appCfg.Quota.GuestLimit > 0 {
		quota = service.NewQuotaService(redisCache, appCfg.Quota)
	}

	var authService *service.AuthService
	if appCfg.Auth.JWTSecret != "" {
		authService = service.NewAuthService(appCfg.Auth.JWTSecret, appCfg.Auth.JWTIssuer)
	} else {
		logger.Warn(bootCtx, "jwt secret is empty, every caller is treated as a guest")
	}

	var (
		producer  *mq.KafkaProducer
		publisher repository.StatusEventPublisher
	)
	if appCfg.Events.Enabled {
		p, err := mq.NewKafkaProducer(appCfg.Events.Kafka)
		if err != nil {
			return fmt.Errorf("init kafka producer failed: %w", err)
		}
		producer = p
		publisher = repository.NewMQStatusEventPublisher(producer, appCfg.Events.Topic)
	}

	// Jobs outlive requests; workCtx is only cancelled once the drain gives up.
	workCtx, cancelWork := context.WithCancel(context.Background())
	defer cancelWork()
	dispatcher := service.NewDispatcher(workCtx, appCfg.Dispatcher)

	sandboxSvc, err := service.NewSandboxService(service.Config{
		Repo:          repo,
		Executor:      sandboxExecutor,
		Quota:         quota,
		Queue:         dispatcher,
		Publisher:     publisher,
		MaxCodeBytes:  appCfg.Execution.MaxCodeBytes,
		MaxInputBytes: appCfg.Execution.MaxInputBytes,
		StoreTimeout:  appCfg.Store.Timeout,
	})
	if err != nil {
		return fmt.Errorf("init sandbox service failed: %w", err)
	}

	httpServer := buildHTTPServer(appCfg, sandboxSvc, authService, checks)
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("init http listener failed: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(bootCtx, "sandbox http server started",
			zap.String("addr", appCfg.Server.Addr),
			zap.String("store", appCfg.Store.Driver),
			zap.Bool("events", appCfg.Events.Enabled),
		)
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(bootCtx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(bootCtx, "shutdown signal received")
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error(bootCtx, "http server shutdown failed", zap.Error(err))
	}
	if err := drainWorkers(ctx, dispatcher, cancelWork, docker.Config().StopTimeout+drainExtra); err != nil {
		logger.Error(bootCtx, "dispatcher shutdown failed", zap.Error(err))
	}
	stopSweeper()
	<-sweeperDone
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Warn(bootCtx, "close kafka producer failed", zap.Error(err))
		}
	}
	return nil
}

func buildHTTPServer(appCfg *AppConfig, svc controller.SubmissionService, authService *service.AuthService, checks map[string]controller.HealthCheck) *http.Server {
	return &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      newRouter(appCfg, svc, authService, checks),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
}

func newRouter(appCfg *AppConfig, svc controller.SubmissionService, authService *service.AuthService, checks map[string]controller.HealthCheck) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(commonmw.TraceContextMiddleware())
	router.Use(commonmw.CORS(appCfg.CORS))
	router.Use(commonmw.RequestLogger())

	healthController := controller.NewHealthController(checks, appCfg.Store.Timeout)
	router.GET("/", healthController.Welcome)
	router.GET("/healthz", healthController.Healthz)

	sandboxController := controller.NewSandboxController(svc, appCfg.Watch)
	api := router.Group("/api/sandbox")
	api.Use(middleware.VisitorMiddleware(authService, appCfg.Visitor))
	api.POST("", sandboxController.Submit)
	api.GET("/status/:task_id", sandboxController.GetStatus)
	api.GET("/watch/:task_id", sandboxController.Watch)

	return router
}

