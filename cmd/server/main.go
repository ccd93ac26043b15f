// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// calsync — Calendar Sync Service
//
// Entry point for the calendar sync service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds the Provider Gateway and recording-bot clients (fail-fast on
//     missing credentials)
//  4. Serves sync trigger endpoints and a health check
//  5. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/meetscribe/calsync/internal/bot"
	"github.com/meetscribe/calsync/internal/config"
	"github.com/meetscribe/calsync/internal/dedup"
	"github.com/meetscribe/calsync/internal/meeting"
	"github.com/meetscribe/calsync/internal/notify"
	"github.com/meetscribe/calsync/internal/provider"
	"github.com/meetscribe/calsync/internal/reconcile"
	"github.com/meetscribe/calsync/internal/scheduler"
	"github.com/meetscribe/calsync/internal/store"
	syncsvc "github.com/meetscribe/calsync/internal/sync"
	"github.com/meetscribe/calsync/internal/usage"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting calsync service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"accounts", len(cfg.Accounts),
		"event_window", cfg.EventWindow,
		"batch_size", cfg.BatchSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	usageSink := usage.NewPublisher(rdb, cfg.UsageQueue)
	if err := usageSink.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Stores ---
	calendars, err := store.NewCalendarStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise calendar store", "error", err)
		os.Exit(1)
	}
	meetings, err := store.NewMeetingStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise meeting store", "error", err)
		os.Exit(1)
	}

	// --- Provider Gateway client (fail-fast on missing API key) ---
	gateway, err := provider.NewClient(provider.ClientConfig{
		BaseURL:     cfg.ProviderBaseURL,
		APIKey:      cfg.ProviderAPIKey,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		slog.Error("failed to build provider gateway client", "error", err)
		os.Exit(1)
	}

	// --- Recording-bot client (fail-fast on missing API key) ---
	botClient, err := bot.NewClient(bot.ClientConfig{
		BaseURL: cfg.BotBaseURL,
		APIKey:  cfg.BotAPIKey,
	})
	if err != nil {
		slog.Error("failed to build bot client", "error", err)
		os.Exit(1)
	}

	// --- Pipeline ---
	notifier := notify.NewNotifier(cfg.NotifyURL)
	filter := dedup.NewFilter(rdb)

	reconciler := reconcile.New(reconcile.Config{
		Gateway:   gateway,
		Store:     calendars,
		Notifier:  notifier,
		BatchSize: cfg.BatchSize,
	})

	materializer := meeting.New(meeting.Config{
		Store: meetings,
		Usage: usageSink,
		Seen:  filter,
	})

	botScheduler := scheduler.New(scheduler.Config{
		Dispatcher:  botClient,
		BatchSize:   cfg.BatchSize,
		CallTimeout: cfg.CallTimeout,
	})

	svc := syncsvc.NewService(syncsvc.ServiceConfig{
		Accounts:     cfg.Accounts,
		Events:       gateway,
		Calendars:    calendars,
		Meetings:     meetings,
		Reconciler:   reconciler,
		Materializer: materializer,
		Scheduler:    botScheduler,
		EventWindow:  cfg.EventWindow,
	})

	// --- HTTP surface: sync triggers + health ---
	mux := http.NewServeMux()

	mux.HandleFunc("POST /sync/calendars", func(w http.ResponseWriter, r *http.Request) {
		orgID := r.URL.Query().Get("org")
		providerName := r.URL.Query().Get("provider")
		if orgID == "" || providerName == "" {
			http.Error(w, "org and provider query parameters are required", http.StatusBadRequest)
			return
		}
		writeJSON(w, svc.RefreshCalendars(r.Context(), orgID, providerName))
	})

	mux.HandleFunc("POST /sync/events", func(w http.ResponseWriter, r *http.Request) {
		calendarID := r.URL.Query().Get("calendar")
		if calendarID == "" {
			http.Error(w, "calendar query parameter is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, svc.SyncCalendarEvents(r.Context(), calendarID))
	})

	mux.HandleFunc("POST /calendars/disconnect", func(w http.ResponseWriter, r *http.Request) {
		calendarID := r.URL.Query().Get("calendar")
		if calendarID == "" {
			http.Error(w, "calendar query parameter is required", http.StatusBadRequest)
			return
		}
		if err := svc.DisconnectCalendar(r.Context(), calendarID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]bool{"success": true})
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		// Check Redis
		if err := usageSink.Ping(r.Context()); err != nil {
			http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
			return
		}
		// Check Postgres
		if err := pgPool.Ping(r.Context()); err != nil {
			http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status": "healthy"}`))
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Minute, // sync runs can be slow on large calendars
	}

	// --- Graceful Shutdown ---
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		sig := <-sigCh

		slog.Info("received shutdown signal", "signal", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}

		notifier.Flush()
		rdb.Close()
		pgPool.Close()
	}()

	slog.Info("calsync service listening", "addr", addr)
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("calsync service stopped")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
