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

	"calling-platform/internal/auth"
	"calling-platform/internal/calls"
	"calling-platform/internal/config"
	"calling-platform/internal/history"
	"calling-platform/internal/httpapi"
	"calling-platform/internal/mediatoken"
	"calling-platform/internal/metadata"
	"calling-platform/internal/metrics"
	"calling-platform/internal/presence"
	"calling-platform/internal/reconcile"
	"calling-platform/internal/session"
	"calling-platform/internal/signaling"
	"calling-platform/internal/users"
	"calling-platform/pkg/logger"
	"calling-platform/pkg/utils"

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

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var ringCap session.RingCap
	if cfg.Call.MaxConcurrentRings > 0 {
		limiter, err := utils.NewCallSlotLimiter(rdb, cfg.Call.MaxConcurrentRings, 0)
		if err != nil {
			log.Error("call slot limiter init failed", "err", err)
			os.Exit(1)
		}
		ringCap = limiter
	}

	retry := reconcile.NewQueue(cfg.Call.RetryQueueSize, log)
	go retry.Run(rootCtx, cfg.Call.RetrySweepInterval)

	registry := presence.NewRegistry()
	callStore := calls.NewPGStore(db)

	// The exchange needs the session manager to route announcements, and the
	// manager calls back into the exchange when a call ends; bind the second
	// direction through a closure so construction order stays simple.
	var exchange *metadata.Exchange
	sessions := session.NewManager(registry, callStore, session.Config{
		RingTimeout: cfg.Call.RingTimeout,
		Logger:      log,
		RingCap:     ringCap,
		Retry:       retry,
		OnTransition: func(status calls.CallStatus) {
			metrics.CallTransition(string(status))
		},
		OnTerminal: func(callID string) {
			if exchange != nil {
				exchange.ReleaseCall(callID)
			}
		},
	})
	defer sessions.Close()

	exchange = metadata.NewExchange(sessions, registry)
	gateway := signaling.NewGateway(registry, sessions, exchange, signaling.Config{
		Logger:       log,
		OnEvent:      metrics.EventDispatched,
		OnConnect:    metrics.ConnOpened,
		OnDisconnect: metrics.ConnClosed,
	})

	metrics.Init(
		func() float64 { return float64(sessions.ActiveCount()) },
		func() float64 { return float64(registry.Len()) },
	)

	handlers := httpapi.Handlers{
		Users:         users.NewService(users.NewPGRepo(db), authManager),
		History:       history.NewService(history.NewPGRepo(db)),
		MediaTokens:   mediatoken.Builder{AppID: cfg.Media.AppID, AppCertificate: cfg.Media.AppCertificate},
		MediaTokenTTL: cfg.Media.TokenTTL,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, routeDeps{
		handlers: handlers,
		gateway:  gateway,
		authMW:   auth.RequireAccessToken(authManager),
		db:       db,
	})

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

	// One last chance for queued durable writes before the process exits.
	if retry.Len() > 0 {
		done, remaining := retry.Sweep(shutdownCtx)
		log.Info("final reconcile sweep", "done", done, "remaining", remaining)
	}
}
