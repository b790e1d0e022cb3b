package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-alttext/api/handlers"
	"github.com/feichai0017/pdf-alttext/api/routes"
	"github.com/feichai0017/pdf-alttext/config"
	"github.com/feichai0017/pdf-alttext/internal/app"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

const reapEvery = time.Hour

func main() {
	cfg := config.GetConfig()

	// init logger
	log, err := app.NewLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize pipeline", logger.Error(err))
	}
	if err := a.Start(ctx); err != nil {
		log.Fatal("Failed to start worker", logger.Error(err))
	}

	// 启动时清理一次过期会话，之后定期清理
	go reapLoop(ctx, a, log)

	h := handlers.NewHandlers(a.Service, log)
	r := gin.New()
	r.Use(gin.Recovery())
	routes.SetupRoutes(r, h, cfg.Server.AllowedOrigins, log)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: r,
	}

	// start server
	go func() {
		log.Info("Server starting", logger.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")
	cancel()

	// graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error("Background jobs did not finish", logger.Error(err))
	}
	log.Info("Server stopped")
}

func reapLoop(ctx context.Context, a *app.App, log logger.Logger) {
	ticker := time.NewTicker(reapEvery)
	defer ticker.Stop()
	for {
		if removed, err := a.Service.Reap(ctx); err != nil {
			log.Warn("Session reap failed", logger.Error(err))
		} else if len(removed) > 0 {
			log.Info("Reaped sessions", logger.Strings("sessions", removed))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
