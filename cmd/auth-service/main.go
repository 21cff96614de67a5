package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/univ-soa/campus-auth-api/internal/handler"
	"github.com/univ-soa/campus-auth-api/internal/middleware"
	"github.com/univ-soa/campus-auth-api/internal/models"
	"github.com/univ-soa/campus-auth-api/internal/repository"
	"github.com/univ-soa/campus-auth-api/internal/service"
	"github.com/univ-soa/campus-auth-api/pkg/cache"
	"github.com/univ-soa/campus-auth-api/pkg/config"
	"github.com/univ-soa/campus-auth-api/pkg/database"
	"github.com/univ-soa/campus-auth-api/pkg/jobs"
	"github.com/univ-soa/campus-auth-api/pkg/logger"
	corsmiddleware "github.com/univ-soa/campus-auth-api/pkg/middleware/cors"
	reqidmiddleware "github.com/univ-soa/campus-auth-api/pkg/middleware/requestid"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)

	var cacheSvc *service.CacheService
	if cfg.Cache.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		defer cacheRepo.Close() //nolint:errcheck
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, true)
	}

	tokenSvc, err := service.NewTokenService(cfg.JWT, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init token service", "error", err)
	}

	emailSvc := service.NewEmailService(cfg.SMTP, logr)
	mailQueue := jobs.NewQueue("activation-mail", func(jobCtx context.Context, job jobs.Job) error {
		payload, ok := job.Payload.(service.ActivationEmail)
		if !ok {
			return fmt.Errorf("unexpected payload for job %s", job.ID)
		}
		sendCtx, cancel := context.WithTimeout(jobCtx, cfg.Mailer.SendTimeout)
		defer cancel()
		return emailSvc.SendActivationEmail(sendCtx, payload.To, payload.FirstName, payload.Token)
	}, jobs.QueueConfig{
		Workers:    cfg.Mailer.Workers,
		BufferSize: cfg.Mailer.BufferSize,
		MaxRetries: 2,
		RetryDelay: 5 * time.Second,
		Logger:     logr,
	})
	mailQueue.Start(ctx)
	defer mailQueue.Stop()

	validate := validator.New()
	authSvc := service.NewAuthService(userRepo, tokenSvc, service.NewQueueMailer(mailQueue), cacheSvc, validate, logr, service.AuthConfig{
		AutoEnable:    cfg.Activation.AutoEnable,
		ActivationTTL: cfg.Activation.TokenTTL,
	})
	authSvc.StartActivationTokenJanitor(ctx, cfg.Activation.PurgeInterval)

	userSvc := service.NewUserService(userRepo, cacheSvc, logr)

	authHandler := handler.NewAuthHandler(authSvc, tokenSvc)
	userHandler := handler.NewUserHandler(userSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	auth := r.Group("/api/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
		auth.GET("/confirm", authHandler.Confirm)
		auth.GET("/validate", authHandler.Validate)
		auth.GET("/health", authHandler.Health)

		protected := auth.Group("")
		protected.Use(middleware.JWT(tokenSvc))
		{
			protected.GET("/me", authHandler.Me)
			protected.POST("/logout", authHandler.Logout)
			protected.POST("/update-password", authHandler.ChangePassword)
		}
	}

	users := r.Group("/api/users")
	users.Use(middleware.JWT(tokenSvc), middleware.RequireRoles(models.RoleAdmin))
	{
		users.GET("", userHandler.List)
		users.GET("/:id", userHandler.Get)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("auth service starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
