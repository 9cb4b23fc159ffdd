package main

import (
	"context"
	"fmt"
	"log"

	"github.com/getkayan/magiclink/api"
	"github.com/getkayan/magiclink/config"
	"github.com/getkayan/magiclink/core/flow"
	"github.com/getkayan/magiclink/core/health"
	"github.com/getkayan/magiclink/core/session"
	"github.com/getkayan/magiclink/core/telemetry"
	"github.com/getkayan/magiclink/kgorm"
	"github.com/getkayan/magiclink/logger"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger.InitLogger(cfg.LogLevel)
	defer logger.Log.Sync()

	logger.Log.Info("Starting Magic Link Service",
		zap.Int("port", cfg.Port),
		zap.String("db_type", cfg.DBType),
	)

	// Storage
	storage, err := kgorm.NewStorage(cfg.DBType, cfg.DSN, nil, cfg.SkipAutoMigrate)
	if err != nil {
		logger.Log.Fatal("failed to initialize storage", zap.Error(err))
	}
	repo := storage.(*kgorm.Repository)

	// Telemetry
	telCfg := telemetry.DefaultConfig()
	telCfg.Enabled = cfg.TelemetryEnabled
	tel, err := telemetry.NewProvider(telCfg)
	if err != nil {
		logger.Log.Fatal("failed to initialize telemetry", zap.Error(err))
	}
	defer tel.Shutdown(context.Background())

	// Session collaborator
	sessionManager := session.NewManager(
		session.NewHS256Strategy(cfg.SessionSecret, cfg.SessionTTL()),
	)

	// Link flow
	useFlow := flow.NewUseFlow(storage, sessionManager,
		flow.WithDefaults(cfg.LinkTTL(), cfg.DefaultRedirect),
		flow.WithTelemetry(tel),
	)

	// Rate limiting
	var limiter flow.RateLimiter = flow.NewMemoryRateLimiter()
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		limiter = flow.NewRedisRateLimiter(redisClient, "")
		logger.Log.Info("using redis rate limiter", zap.String("addr", cfg.RedisAddr))
	}
	use := flow.NewRateLimitedFlow(useFlow, limiter, cfg.RateLimit, cfg.RateLimitWindow(), tel)

	// Health
	healthManager := health.NewManager("1.0.0")
	healthManager.Register(health.NewPingChecker("database", repo.Ping))
	if redisClient != nil {
		healthManager.Register(health.NewPingChecker("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}))
	}

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.Renderer = api.NewRenderer()

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Log.Info("request",
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := api.NewHandler(use, useFlow, sessionManager, storage)
	h.RegisterRoutes(e)

	e.GET("/healthz", echo.WrapHandler(healthManager.LiveHandler()))
	e.GET("/ready", echo.WrapHandler(healthManager.ReadyHandler()))
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Log.Info("Server is starting", zap.Int("port", cfg.Port))
	if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
		logger.Log.Fatal("server failed to start", zap.Error(err))
	}
}
