package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NomadCrew/chatpulse-backend/config"
	"github.com/NomadCrew/chatpulse-backend/internal/app"
	"github.com/NomadCrew/chatpulse-backend/logger"
	"github.com/gin-gonic/gin"
)

func main() {
	// Captured once; uptime is reported relative to this.
	startTime := time.Now()

	logger.InitLogger()
	log := logger.GetLogger()
	defer logger.Close()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.New(ctx, cfg, app.Options{Migrate: true, StartTime: startTime})
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}

	background := make(chan error, 1)
	go func() {
		background <- container.RunBackground(ctx)
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           container.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Infow("Starting server", "port", cfg.Server.Port, "environment", cfg.Server.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorw("HTTP server failed", "error", err)
			stop()
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-background:
		// The HTTP surface stays up; only realtime delivery is degraded.
		if err != nil {
			log.Errorw("Background workers stopped", "error", err)
		}
		<-ctx.Done()
	}
	log.Info("Shutting down...")

	timeout := time.Duration(cfg.WorkerPool.ShutdownTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown incomplete", "error", err)
	}
	container.Close(shutdownCtx)
	log.Info("Server stopped")
}
