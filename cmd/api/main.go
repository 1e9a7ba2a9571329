package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voicecall-platform/internal/callrecords"
	"voicecall-platform/internal/config"
	"voicecall-platform/internal/httpapi"
	"voicecall-platform/internal/livekit"
	"voicecall-platform/internal/session"
	"voicecall-platform/pkg/logger"
	"voicecall-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	recordRepo := callrecords.NewPostgresRepo(db)
	recordSvc := callrecords.NewService(recordRepo, log)

	sessionDeps := session.Deps{
		Config:        cfg.LiveKit,
		Records:       recordRepo,
		Log:           log,
		WatchInterval: session.DefaultPollInterval,
	}

	// A partially configured transport degrades call endpoints to explicit
	// "not configured" responses instead of failing boot.
	if cfg.LiveKit.Configured() {
		tokens, err := livekit.NewTokenIssuer(cfg.LiveKit)
		if err != nil {
			log.Error("livekit token issuer init failed", "err", err)
			os.Exit(1)
		}
		rooms, err := livekit.NewRoomClient(cfg.LiveKit)
		if err != nil {
			log.Error("livekit room client init failed", "err", err)
			os.Exit(1)
		}
		dispatch, err := livekit.NewDispatchClient(cfg.LiveKit)
		if err != nil {
			log.Error("livekit dispatch client init failed", "err", err)
			os.Exit(1)
		}
		sessionDeps.Tokens = tokens
		sessionDeps.Rooms = rooms
		sessionDeps.Dispatch = dispatch
	} else {
		log.Warn("livekit not configured; call endpoints degraded",
			"missing", cfg.LiveKit.MissingVars(),
			"setup", config.SetupURL,
		)
	}

	if addr := cfg.RedisAddr(); addr != "" && cfg.Calls.MaxConcurrent > 0 {
		rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: addr})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		sessionDeps.Capacity = session.NewRedisCallCap(rdb, cfg.Calls.MaxConcurrent, cfg.Calls.CapTTL, log)
	}

	sessions := session.NewService(sessionDeps)
	defer sessions.Close()

	h := httpapi.Handlers{
		Sessions: sessions,
		Records:  recordSvc,
		LiveKit:  cfg.LiveKit,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	h.Register(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
