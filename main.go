package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"docsync/config"
	"docsync/config/database"
	"docsync/internal/document/repository"
	"docsync/internal/permission"
	"docsync/pkg/logger"
	"docsync/router"
	"docsync/socket"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	if cfg.JWTSecret == "" {
		logger.Sugar.Fatal("JWT_SECRET environment variable not set.")
	}

	db := database.Connect(cfg)
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repo := repository.NewDocumentRepository(db)
	gate := permission.NewGate(repo, []byte(cfg.JWTSecret))
	hub := socket.NewHub(repo, gate, socket.Options{
		AutosaveDelay:  cfg.AutosaveDelay,
		PersistTimeout: cfg.PersistTimeout,
	})

	// Without Redis, roles stay as resolved at admission until reconnect.
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		sub := socket.NewGrantSubscriber(rdb, cfg.RedisGrantChannel, hub)
		go func() {
			if err := sub.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Sugar.Errorf("Grant subscription stopped: %v", err)
			}
		}()
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.Setup(hub, gate, router.Options{
			JWTSecret:       []byte(cfg.JWTSecret),
			AllowedOrigins:  cfg.AllowedOrigins,
			MaxMessageBytes: cfg.MaxMessageBytes,
			SaveTimeout:     cfg.PersistTimeout,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("docsync listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("HTTP shutdown: %v", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("Hub shutdown: %v", err)
	}
}
