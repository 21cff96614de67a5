package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/univ-soa/campus-auth-api/internal/gateway"
	"github.com/univ-soa/campus-auth-api/internal/service"
	"github.com/univ-soa/campus-auth-api/pkg/config"
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

	tokenSvc, err := service.NewTokenService(cfg.JWT, logr)
	if err != nil {
		logr.Sugar().Fatalw("failed to init token service", "error", err)
	}

	metricsSvc := service.NewMetricsService()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "service": "api-gateway"})
	})
	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	gw := gateway.New(tokenSvc, cfg.Gateway.PublicPaths, metricsSvc, logr)
	upstreams := []gateway.Upstream{
		{Prefix: "/api/auth", Target: cfg.Gateway.AuthServiceURL},
		{Prefix: "/api/courses", Target: cfg.Gateway.CourseServiceURL},
		{Prefix: "/api/students", Target: cfg.Gateway.StudentServiceURL},
	}
	if err := gw.Register(r, upstreams); err != nil {
		logr.Sugar().Fatalw("failed to configure upstreams", "error", err)
	}

	addr := fmt.Sprintf(":%d", cfg.Gateway.Port)
	logr.Sugar().Infow("api gateway starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("gateway failed", "error", err)
	}
}
