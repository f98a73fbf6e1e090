// internal/app/server.go
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"recipe-gateway/internal/config"
	"recipe-gateway/internal/db"
	chatHandler "recipe-gateway/internal/handlers/chat"
	relayHandler "recipe-gateway/internal/handlers/relay"
	"recipe-gateway/internal/middleware"
	"recipe-gateway/internal/pkg/cookies"
	"recipe-gateway/internal/pkg/metrics"
	"recipe-gateway/internal/pkg/ratelimit"
	chatUsecase "recipe-gateway/internal/service/chat"
	"recipe-gateway/internal/service/upstream"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Server is the session relay gateway.
type Server struct {
	cfg     config.AppConfig
	engine  *gin.Engine
	logger  *zap.Logger
	httpSrv *http.Server

	redis    *redis.Client
	memLimit *ratelimit.MemoryLimiter
}

// NewServer wires the gateway. Redis is optional: without REDIS_ADDR, or when
// it cannot be reached, rate limits are kept in process.
func NewServer(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		cfg:    cfg,
		engine: gin.New(),
		logger: logger,
	}

	// ----- Metrics -----
	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	m := metrics.New(cfg.MetricsEnabled, registry)

	// ----- Rate limiter -----
	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		client, err := db.NewRedisClient(ctx, db.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			PoolSize: 10,
		})
		if err != nil {
			logger.Warn("redis unavailable, using in-process rate limits", zap.Error(err))
		} else {
			logger.Info("redis connected", zap.String("addr", cfg.RedisAddr))
			s.redis = client
			limiter = ratelimit.NewRedisLimiter(client, int64(cfg.RateLimitMax), cfg.RateLimitWindow)
		}
	}
	if limiter == nil {
		s.memLimit = ratelimit.NewMemoryLimiter(cfg.RateLimitMax, cfg.RateLimitWindow)
		limiter = s.memLimit
	}

	// ----- Services -----
	upstreamClient := upstream.NewClient(cfg.Upstream, logger, m)
	translator := cookies.NewTranslator(logger, m)
	chatService := chatUsecase.NewChatService(chatUsecase.Config{
		VectorURL: cfg.VectorAPIURL,
		LLMURL:    cfg.LLMAPIURL,
		APIKey:    cfg.LLMAPIKey,
		Model:     cfg.LLMModel,
	}, logger, m)
	if !chatService.Configured() {
		logger.Warn("LLM API key not set, /api/chat will answer 500")
	}

	// ----- Middlewares -----
	s.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.SessionContext(),
		middleware.LoggingMiddleware(logger),
		middleware.CORSMiddleware(cfg.CORSAllowedOrigins),
	)

	// ----- Router -----
	handlers := &Handlers{
		RelayHandler: relayHandler.NewRelayHandler(upstreamClient, translator, logger),
		ChatHandler:  chatHandler.NewChatHandler(chatService, logger),
		RateLimit: func(scope string) gin.HandlerFunc {
			return middleware.RateLimit(limiter, scope, m, logger)
		},
	}
	if cfg.MetricsEnabled {
		handlers.Metrics = promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})
	}
	SetupRouter(s.engine, logger, handlers)

	s.httpSrv = &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening",
		zap.String("addr", s.cfg.HTTPAddr),
		zap.String("backend", s.cfg.Upstream.BaseURL),
	)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and releases the limiter backends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpSrv.Shutdown(ctx)
	if s.memLimit != nil {
		s.memLimit.Close()
	}
	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
