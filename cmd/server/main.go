package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hamdanyasser/debug-battle-backend/internal/api"
	"github.com/hamdanyasser/debug-battle-backend/internal/api/handlers"
	"github.com/hamdanyasser/debug-battle-backend/internal/config"
	"github.com/hamdanyasser/debug-battle-backend/internal/repository"
	"github.com/hamdanyasser/debug-battle-backend/internal/service"
	"github.com/hamdanyasser/debug-battle-backend/internal/store"
	"github.com/hamdanyasser/debug-battle-backend/pkg/database"
	"github.com/hamdanyasser/debug-battle-backend/pkg/jwt"
	"github.com/hamdanyasser/debug-battle-backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting debug battle backend", "env", cfg.Env, "port", cfg.Port)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", "error", err)
	}
	defer db.Close()

	st, err := store.NewRedisStore(cfg.RedisURL, cfg.RoomTTL)
	if err != nil {
		logger.Fatal("failed to connect to redis", "error", err)
	}
	defer st.Close()

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// 서버 시각 오프셋 동기화
	clock := service.NewClock()
	go func() {
		if err := clock.Run(rootCtx, st); err != nil && err != context.Canceled {
			logger.Error("clock sync stopped", "error", err)
		}
	}()

	// 만료된 대기 방 정리
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-rootCtx.Done():
				return
			case <-ticker.C:
				if _, err := st.SweepExpiredRooms(rootCtx); err != nil {
					logger.Warn("room sweep failed", "error", err)
				}
			}
		}
	}()

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	playerRepo := repository.NewPlayerRepository(db.DB)
	ranking := service.NewRankingService()
	rating := service.NewRatingService(playerRepo, ranking)

	coordCfg := service.CoordinatorConfig{
		RoomTTL:        cfg.RoomTTL,
		BattleDuration: cfg.BattleDuration,
		ReconnectGrace: cfg.ReconnectGrace,
	}

	router := api.NewRouter(cfg, jwtManager, api.Handlers{
		Auth:   handlers.NewAuthHandler(playerRepo, jwtManager),
		Player: handlers.NewPlayerHandler(playerRepo, ranking),
		Battle: handlers.NewBattleHandler(st, clock, rating, playerRepo, coordCfg),
		Health: handlers.NewHealthHandler(db, st, clock),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("server stopped")
}
