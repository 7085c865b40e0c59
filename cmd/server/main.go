package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"identity/internal/api"
	"identity/internal/auth"
	"identity/internal/clock"
	"identity/internal/config"
	"identity/internal/db"
	"identity/internal/email"
	"identity/internal/identity"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("error loading config", "error", err)
		os.Exit(1)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		slog.Error("error opening database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	clk := clock.System()

	mailService := email.NewSMTPService(
		cfg.Email.SMTP.Host,
		cfg.Email.SMTP.Port,
		cfg.Email.SMTP.Username,
		cfg.Email.SMTP.Password,
		cfg.Email.SMTP.From,
	)

	jwtService := auth.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	service := identity.NewAuditedService(
		identity.NewService(database, jwtService, mailService, clk, cfg),
		logger,
	)

	server, err := api.NewServer(cfg, database, jwtService, service)
	if err != nil {
		slog.Error("error creating server", "error", err)
		os.Exit(1)
	}

	cleanupCtx, cancelCleanup := context.WithCancel(context.Background())
	defer cancelCleanup()
	cleanup := db.NewCleanupService(
		db.NewTokenRepository(database),
		db.NewSessionRepository(database),
		db.NewIdempotencyRepository(database),
		clk,
	)
	go cleanup.Start(cleanupCtx)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("starting server", "name", cfg.Server.Name, "addr", cfg.Addr())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down")
	cancelCleanup()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("error during shutdown", "error", err)
	}
}
