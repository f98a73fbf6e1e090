// internal/app/devupstream.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"recipe-gateway/internal/config"
	authHandler "recipe-gateway/internal/handlers/auth"
	"recipe-gateway/internal/middleware"
	"recipe-gateway/internal/pkg/jwt"
	authUsecase "recipe-gateway/internal/service/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// DevUpstream is a stand-in for the authentication backend. It issues the
// same cookies a cross-site API host would, so the gateway's translation can
// be exercised locally.
type DevUpstream struct {
	cfg     config.AppConfig
	engine  *gin.Engine
	logger  *zap.Logger
	httpSrv *http.Server

	AuthService *authUsecase.AuthService
}

type DevUpstreamOptions struct {
	Seed     []authUsecase.SeedUser
	HashCost int
	JWT      *jwt.Manager // built from cfg.JWT when nil
}

func NewDevUpstream(ctx context.Context, cfg config.AppConfig, logger *zap.Logger, opts DevUpstreamOptions) (*DevUpstream, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// ----- JWT Manager -----
	jwtManager := opts.JWT
	if jwtManager == nil {
		var err error
		if jwtManager, err = jwt.LoadAndBuild(cfg.JWT); err != nil {
			return nil, fmt.Errorf("failed to load JWT manager: %w", err)
		}
	}

	// ----- Identity store -----
	authService := authUsecase.NewAuthService(jwtManager, logger)
	if opts.HashCost > 0 {
		authService.WithHashCost(opts.HashCost)
	}
	seed := opts.Seed
	if len(seed) == 0 {
		seed = authUsecase.DefaultSeedUsers
	}
	for _, u := range seed {
		if err := authService.EnsureUser(ctx, u); err != nil {
			return nil, fmt.Errorf("failed to seed %s: %w", u.Username, err)
		}
	}

	d := &DevUpstream{
		cfg:         cfg,
		engine:      gin.New(),
		logger:      logger,
		AuthService: authService,
	}

	handler := authHandler.NewAuthHandler(authService, authHandler.CookieConfig{
		Domain: cfg.DevCookieDomain,
		Secure: true,
	}, logger)
	authMiddleware := middleware.NewAuthMiddleware(jwtManager.Verifier)

	d.engine.Use(
		middleware.RecoveryMiddleware(logger),
		middleware.LoggingMiddleware(logger),
	)
	setupDevUpstreamRouter(d.engine, cfg, handler, authMiddleware)

	d.httpSrv = &http.Server{
		Addr:              cfg.DevUpstreamAddr,
		Handler:           d.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return d, nil
}

func setupDevUpstreamRouter(r *gin.Engine, cfg config.AppConfig, h *authHandler.AuthHandler, m *middleware.AuthMiddleware) {
	api := r.Group(cfg.Upstream.APIPrefix)

	// ==================== Login ====================
	api.POST("/auth/login", h.Login)
	api.POST("/admin/login", h.AdminLogin)

	// ==================== Token lifecycle ====================
	r.POST(cfg.Upstream.RefreshPath, h.Refresh)
	r.POST(cfg.Upstream.LogoutPath, h.Logout)

	// ==================== Who am I ====================
	api.GET("/users/me", m.Auth(), h.GetMe)
	api.GET("/admin/me", append(m.AdminOnly(cfg.DevAdminBearerOnly), h.GetMe)...)

	// ==================== Sample content ====================
	api.GET("/recipes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"recipes": sampleRecipes})
	})
}

var sampleRecipes = []gin.H{
	{"id": 1, "title": "Chapati", "category": "bread"},
	{"id": 2, "title": "Pilau", "category": "rice"},
	{"id": 3, "title": "Sukuma wiki", "category": "greens"},
}

// Handler exposes the router, mainly for tests.
func (d *DevUpstream) Handler() http.Handler {
	return d.engine
}

func (d *DevUpstream) Start() error {
	d.logger.Info("development upstream listening", zap.String("addr", d.cfg.DevUpstreamAddr))
	if err := d.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (d *DevUpstream) Shutdown(ctx context.Context) error {
	return d.httpSrv.Shutdown(ctx)
}
