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

// Package sync exposes the pipeline's two operations: refreshing an
// organization's calendars against provider state, and syncing one
// calendar's upcoming events into meetings with recording bots. Callers
// always receive a structured result; per-item failures surface only as
// counters, and only an infeasible operation (bad account, unreachable
// provider, broken usage accounting) flips Success to false.
package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meetscribe/calsync/internal/config"
	"github.com/meetscribe/calsync/internal/meeting"
	"github.com/meetscribe/calsync/internal/models"
	"github.com/meetscribe/calsync/internal/reconcile"
	"github.com/meetscribe/calsync/internal/recurring"
	"github.com/meetscribe/calsync/internal/scheduler"
)

// EventLister is the Provider Gateway slice the event fetch needs.
// Implemented by provider.Client.
type EventLister interface {
	ListCalendarEvents(ctx context.Context, calendarID string, startGte, startLte time.Time) ([]models.CalendarEvent, error)
}

// CalendarStore is the calendar persistence slice the service needs.
// Implemented by store.CalendarStore.
type CalendarStore interface {
	Get(ctx context.Context, id string) (*models.Calendar, error)
	SetActive(ctx context.Context, id string, active bool) error
}

// MeetingStore is the meeting persistence slice the service needs.
// Implemented by store.MeetingStore.
type MeetingStore interface {
	FindBySourceEvent(ctx context.Context, calendarID, sourceEventID string) (*models.Meeting, error)
	SetBotID(ctx context.Context, calendarID, sourceEventID, botID string) error
	DeleteUnanalysedByCalendar(ctx context.Context, calendarID string) (int64, error)
}

// RefreshResult is the outcome of RefreshCalendars.
type RefreshResult struct {
	Success         bool   `json:"success"`
	SyncedCalendars int    `json:"synced_calendars"`
	TotalAvailable  int    `json:"total_available"`
	Message         string `json:"message"`
}

// SyncResult is the outcome of SyncCalendarEvents.
type SyncResult struct {
	Success         bool   `json:"success"`
	TotalEvents     int    `json:"total_events"`
	ScheduledEvents int    `json:"scheduled_events"`
	FailedEvents    int    `json:"failed_events"`
	SuccessRate     string `json:"success_rate"`
	MeetingsCreated int    `json:"meetings_created"`
	MeetingsSkipped int    `json:"meetings_skipped"`
	MeetingErrors   int    `json:"meeting_errors"`
	Message         string `json:"message"`
}

// Service orchestrates the calendar sync pipeline.
type Service struct {
	accounts     []config.OrgAccount
	events       EventLister
	calendars    CalendarStore
	meetings     MeetingStore
	reconciler   *reconcile.Reconciler
	materializer *meeting.Materializer
	scheduler    *scheduler.Scheduler
	window       time.Duration
}

// ServiceConfig holds the service's dependencies.
type ServiceConfig struct {
	Accounts     []config.OrgAccount
	Events       EventLister
	Calendars    CalendarStore
	Meetings     MeetingStore
	Reconciler   *reconcile.Reconciler
	Materializer *meeting.Materializer
	Scheduler    *scheduler.Scheduler
	EventWindow  time.Duration
}

// NewService creates the sync service.
func NewService(cfg ServiceConfig) *Service {
	window := cfg.EventWindow
	if window == 0 {
		window = 7 * 24 * time.Hour
	}
	return &Service{
		accounts:     cfg.Accounts,
		events:       cfg.Events,
		calendars:    cfg.Calendars,
		meetings:     cfg.Meetings,
		reconciler:   cfg.Reconciler,
		materializer: cfg.Materializer,
		scheduler:    cfg.Scheduler,
		window:       window,
	}
}

// RefreshCalendars reconciles one organization's calendars for a provider.
func (s *Service) RefreshCalendars(ctx context.Context, orgID, providerName string) *RefreshResult {
	account := s.findAccount(orgID, providerName)
	if account == nil {
		return &RefreshResult{
			Message: fmt.Sprintf("no connected %s account for organization %s", providerName, orgID),
		}
	}

	res, err := s.reconciler.Reconcile(ctx, reconcile.Request{
		Credential:     account.RefreshToken,
		Provider:       providerName,
		OrganizationID: account.OrganizationID,
		OwnerID:        account.OwnerID,
	})
	if err != nil {
		slog.Error("calendar refresh failed",
			"org", orgID,
			"provider", providerName,
			"error", err,
		)
		return &RefreshResult{Message: err.Error()}
	}

	return &RefreshResult{
		Success:         true,
		SyncedCalendars: res.SyncedCount,
		TotalAvailable:  res.TotalAvailable,
		Message:         fmt.Sprintf("synced %d of %d available calendars", res.SyncedCount, res.TotalAvailable),
	}
}

// SyncCalendarEvents fetches one calendar's upcoming window, materializes
// meetings, and schedules recording bots for the eligible events.
func (s *Service) SyncCalendarEvents(ctx context.Context, calendarID string) *SyncResult {
	cal, err := s.calendars.Get(ctx, calendarID)
	if err != nil {
		return &SyncResult{Message: fmt.Sprintf("load calendar: %v", err)}
	}
	if cal == nil {
		return &SyncResult{Message: fmt.Sprintf("calendar %s not found", calendarID)}
	}

	windowStart := time.Now().UTC()
	windowEnd := windowStart.Add(s.window)

	fetched, err := s.events.ListCalendarEvents(ctx, calendarID, windowStart, windowEnd)
	if err != nil {
		slog.Error("event fetch failed", "calendar", calendarID, "error", err)
		return &SyncResult{Message: err.Error()}
	}

	expanded := recurring.ExpandMasters(fetched, windowStart, windowEnd)
	deduped := recurring.Optimize(expanded)

	matRes, err := s.materializer.MaterializeAll(ctx, *cal, deduped)
	if err != nil {
		// Usage tracking is the one sub-step whose failure is not
		// swallowed — broken accounting has to surface.
		return &SyncResult{
			TotalEvents:     len(fetched),
			MeetingsCreated: matRes.Created,
			MeetingsSkipped: matRes.Skipped,
			MeetingErrors:   matRes.Errors,
			Message:         err.Error(),
		}
	}

	eligible := s.dispatchable(ctx, calendarID, deduped)
	summary := s.scheduler.Schedule(ctx, calendarID, eligible)

	for _, o := range summary.Outcomes {
		if !o.Success || o.BotID == "" {
			continue
		}
		if err := s.meetings.SetBotID(ctx, calendarID, o.Event.UID, o.BotID); err != nil {
			slog.Error("failed to record bot id",
				"calendar", calendarID,
				"event", o.Event.UID,
				"bot", o.BotID,
				"error", err,
			)
		}
	}

	return &SyncResult{
		Success:         true,
		TotalEvents:     len(fetched),
		ScheduledEvents: summary.Scheduled,
		FailedEvents:    summary.Failed,
		SuccessRate:     summary.SuccessRate,
		MeetingsCreated: matRes.Created,
		MeetingsSkipped: matRes.Skipped,
		MeetingErrors:   matRes.Errors,
		Message:         fmt.Sprintf("scheduled %d of %d eligible events", summary.Scheduled, len(eligible)),
	}
}

// DisconnectCalendar deactivates a calendar and removes its unanalysed
// meetings. Analysed meetings stay — their recordings already exist.
func (s *Service) DisconnectCalendar(ctx context.Context, calendarID string) error {
	if err := s.calendars.SetActive(ctx, calendarID, false); err != nil {
		return fmt.Errorf("deactivate calendar: %w", err)
	}

	removed, err := s.meetings.DeleteUnanalysedByCalendar(ctx, calendarID)
	if err != nil {
		return fmt.Errorf("remove unanalysed meetings: %w", err)
	}

	slog.Info("calendar disconnected",
		"calendar", calendarID,
		"meetings_removed", removed,
	)
	return nil
}

// dispatchable filters the deduped set down to events a bot may join:
// join URL present, fetching user is the organizer, and no bot already
// recorded on the meeting row (re-run safety).
func (s *Service) dispatchable(ctx context.Context, calendarID string, events []models.CalendarEvent) []models.CalendarEvent {
	eligible := make([]models.CalendarEvent, 0, len(events))
	for _, e := range events {
		if !e.Eligible() {
			continue
		}

		existing, err := s.meetings.FindBySourceEvent(ctx, calendarID, e.UID)
		if err != nil {
			slog.Warn("bot-id lookup failed, scheduling anyway",
				"calendar", calendarID,
				"event", e.UID,
				"error", err,
			)
		} else if existing != nil && existing.BotID != "" {
			slog.Debug("bot already scheduled, skipping",
				"calendar", calendarID,
				"event", e.UID,
				"bot", existing.BotID,
			)
			continue
		}

		eligible = append(eligible, e)
	}
	return eligible
}

func (s *Service) findAccount(orgID, providerName string) *config.OrgAccount {
	for i := range s.accounts {
		if s.accounts[i].OrganizationID == orgID && s.accounts[i].Provider == providerName {
			return &s.accounts[i]
		}
	}
	return nil
}
