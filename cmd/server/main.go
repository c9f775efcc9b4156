// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"github.com/voicelabs/voicebridge/internal/config"
	"github.com/voicelabs/voicebridge/internal/realtime"
	"github.com/voicelabs/voicebridge/internal/relay"
	"github.com/voicelabs/voicebridge/web"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg := config.Load()

	logLevel := slog.LevelInfo
	if cfg.LogLevel == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting voicebridge server",
		"port", cfg.Port,
		"model", cfg.DefaultModel,
		"api_key", realtime.Redact(cfg.APIKey),
	)
	if cfg.APIKey == "" {
		slog.Warn("OPENAI_API_KEY not set, running in demo mode")
	}

	client := realtime.NewClient(cfg.RealtimeBaseURL, cfg.APIKey)
	h := relay.NewHandler(cfg, client)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	h.RegisterRoutes(r)
	r.Handle("/*", web.Handler())

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	go func() {
		slog.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("shutdown complete")
}
