package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"congressus-cache/internal/app"
	"congressus-cache/internal/attendance/attendance_api"
	"congressus-cache/internal/config"
	"congressus-cache/internal/logger"
	"congressus-cache/internal/qr"
)

func main() {
	logger := logger.NewLogger("congressus-cache")
	defer logger.Close()

	logger.Info("APP", "Starting Congressus cache initialization")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("CONFIG", err.Error())
	}
	logger.Info("CONFIG", fmt.Sprintf("Using Congressus API at %s with page size %d", cfg.Congressus.BaseURL, cfg.Congressus.PageSize))

	ctx := context.Background()
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("APP", err.Error())
	}
	defer a.Close()

	handler := attendance_api.NewHandler(
		a.Service,
		logger,
		qr.NewQRGenerator(cfg.Attendance.PublicURL),
		cfg.Attendance.StaticDir,
		cfg.Auth.JWTSecret,
	)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("AUTH", "AUTH_JWT_SECRET not set, presence changes are unauthenticated")
	}

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	if len(cfg.Server.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
		logger.Info("HTTP", fmt.Sprintf("CORS enabled for %v", cfg.Server.AllowedOrigins))
	}
	handler.RegisterRoutes(r)
	attendance_api.NewSSEHandler(logger, a.Presence).RegisterRoutes(r)
	logger.Info("ROUTER", "Dashboard, cache and metrics routes registered")

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("Congressus cache running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	} else {
		logger.Info("HTTP", "Congressus cache shutdown complete")
	}
}
