package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"walletchat/internal/config"
	"walletchat/internal/httpserver"
	"walletchat/internal/logging"
	"walletchat/internal/presence"
	"walletchat/internal/security"
	"walletchat/internal/store/sqlite"
	"walletchat/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	db, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("open database", zap.Error(err))
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.TokenTTL())
	var verifier security.SignatureVerifier = security.FormatVerifier{}
	if cfg.AllowUnverified {
		verifier = security.DevVerifier{}
		logger.Warn("signature verification is relaxed (allow_unverified_signatures)")
	}

	tracker := presence.NewTracker()
	hub := ws.NewHub(logger, nil)

	broadcaster := ws.NewPresenceBroadcaster(hub, sqlite.NewIdentityRepo(db), 0, logger)
	tracker.Subscribe(broadcaster.Enqueue)

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broadcaster.Run(rootCtx)

	router := httpserver.NewRouter(cfg, db, hub, tracker, tokenSvc, verifier, logger)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.HTTPAddr()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}
