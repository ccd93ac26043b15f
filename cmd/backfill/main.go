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

// calsync — Full Sync Command
//
// Standalone CLI tool that runs a complete sync cycle for one
// organization: refresh its calendars against the provider, then sync
// events and schedule recording bots for every active calendar. Intended
// for seeding new deployments and for cron-driven periodic sync.
//
// Usage:
//
//	go run ./cmd/backfill/ --org <organization-id> [--provider google] [--calendars cal_1,cal_2]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

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

	// --- CLI Flags ---
	orgFlag := flag.String("org", "", "Organization ID to sync (required)")
	providerFlag := flag.String("provider", "google", "Calendar provider: google or microsoft")
	calendarsFlag := flag.String("calendars", "", "Comma-separated calendar IDs (optional; empty = all active calendars for the org)")
	flag.Parse()

	if *orgFlag == "" {
		fmt.Fprintf(os.Stderr, "Error: --org is required\n\n")
		flag.Usage()
		os.Exit(1)
	}

	slog.Info("starting full sync",
		"org", *orgFlag,
		"provider", *providerFlag,
	)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	account := cfg.FindAccount(*orgFlag, *providerFlag)
	if account == nil {
		slog.Error("no connected account in configuration",
			"org", *orgFlag,
			"provider", *providerFlag,
		)
		os.Exit(1)
	}

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

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

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

	// --- Outbound clients ---
	gateway, err := provider.NewClient(provider.ClientConfig{
		BaseURL:     cfg.ProviderBaseURL,
		APIKey:      cfg.ProviderAPIKey,
		CallTimeout: cfg.CallTimeout,
	})
	if err != nil {
		slog.Error("failed to build provider gateway client", "error", err)
		os.Exit(1)
	}

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

	svc := syncsvc.NewService(syncsvc.ServiceConfig{
		Accounts:  cfg.Accounts,
		Events:    gateway,
		Calendars: calendars,
		Meetings:  meetings,
		Reconciler: reconcile.New(reconcile.Config{
			Gateway:   gateway,
			Store:     calendars,
			Notifier:  notifier,
			BatchSize: cfg.BatchSize,
		}),
		Materializer: meeting.New(meeting.Config{
			Store: meetings,
			Usage: usageSink,
			Seen:  filter,
		}),
		Scheduler: scheduler.New(scheduler.Config{
			Dispatcher:  botClient,
			BatchSize:   cfg.BatchSize,
			CallTimeout: cfg.CallTimeout,
		}),
		EventWindow: cfg.EventWindow,
	})

	// --- Phase 1: refresh calendars ---
	refresh := svc.RefreshCalendars(ctx, *orgFlag, *providerFlag)
	if !refresh.Success {
		slog.Error("calendar refresh failed", "message", refresh.Message)
		os.Exit(1)
	}
	slog.Info("calendar refresh complete",
		"synced", refresh.SyncedCalendars,
		"available", refresh.TotalAvailable,
	)

	// --- Resolve calendars to sync ---
	var targets []string
	if *calendarsFlag != "" {
		for _, id := range strings.Split(*calendarsFlag, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				targets = append(targets, id)
			}
		}
	} else {
		owned, err := calendars.ListByOwner(ctx, account.OrganizationID, account.OwnerID, account.Provider)
		if err != nil {
			slog.Error("failed to list calendars", "error", err)
			os.Exit(1)
		}
		for _, c := range owned {
			if c.IsActive != nil && !*c.IsActive {
				continue
			}
			targets = append(targets, c.ID)
		}
	}

	if len(targets) == 0 {
		slog.Error("no calendars to sync")
		os.Exit(1)
	}

	slog.Info("resolved calendars for sync", "count", len(targets))

	// --- Phase 2: sync events per calendar ---
	var totalScheduled, totalFailed, totalCreated int
	for _, calendarID := range targets {
		res := svc.SyncCalendarEvents(ctx, calendarID)
		slog.Info("calendar sync result",
			"calendar", calendarID,
			"success", res.Success,
			"total_events", res.TotalEvents,
			"scheduled", res.ScheduledEvents,
			"failed", res.FailedEvents,
			"success_rate", res.SuccessRate,
			"meetings_created", res.MeetingsCreated,
			"meetings_skipped", res.MeetingsSkipped,
			"meeting_errors", res.MeetingErrors,
			"message", res.Message,
		)
		totalScheduled += res.ScheduledEvents
		totalFailed += res.FailedEvents
		totalCreated += res.MeetingsCreated
	}

	// --- Summary ---
	slog.Info("full sync complete",
		"org", *orgFlag,
		"calendars", len(targets),
		"meetings_created", totalCreated,
		"bots_scheduled", totalScheduled,
		"bots_failed", totalFailed,
	)
}
