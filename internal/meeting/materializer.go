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

// Package meeting converts fetched calendar events into persisted meeting
// records. Per-event persistence failures become counters; a usage-sink
// failure propagates, because silent billing drift must surface.
package meeting

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/google/uuid"

	"github.com/meetscribe/calsync/internal/models"
)

// Store is the persistence slice the materializer needs.
// Implemented by store.MeetingStore.
type Store interface {
	Insert(ctx context.Context, m models.Meeting) (bool, error)
}

// UsageTracker records billing-relevant events.
// Implemented by usage.Publisher.
type UsageTracker interface {
	LogEvent(ctx context.Context, organizationID, eventType, userID string, payload any, count int) error
}

// SeenFilter is an optional idempotency pre-check in front of the store's
// uniqueness constraint. Implemented by dedup.Filter.
type SeenFilter interface {
	IsNew(ctx context.Context, calendarID, eventUID string) (bool, error)
}

// Result summarises one materialization pass.
type Result struct {
	Created int
	Skipped int
	Errors  int
}

// Materializer persists meetings for fetched events.
type Materializer struct {
	store Store
	usage UsageTracker
	seen  SeenFilter
}

// Config holds the materializer's dependencies. Seen may be nil.
type Config struct {
	Store Store
	Usage UsageTracker
	Seen  SeenFilter
}

// New creates a meeting materializer.
func New(cfg Config) *Materializer {
	return &Materializer{
		store: cfg.Store,
		usage: cfg.Usage,
		seen:  cfg.Seen,
	}
}

// MaterializeAll converts each event into a meeting row. Events without a
// join URL are skipped; a single event's persistence failure increments
// Errors and the loop continues. The returned error is non-nil only when
// usage tracking fails — the one failure this pipeline refuses to swallow.
func (m *Materializer) MaterializeAll(ctx context.Context, cal models.Calendar, events []models.CalendarEvent) (*Result, error) {
	res := &Result{}

	for _, e := range events {
		if e.MeetingURL == "" {
			res.Skipped++
			continue
		}

		if m.seen != nil {
			isNew, err := m.seen.IsNew(ctx, cal.ID, e.UID)
			if err != nil {
				slog.Warn("dedup check failed, falling through to store constraint", "error", err)
			} else if !isNew {
				res.Skipped++
				continue
			}
		}

		mt, err := FromEvent(cal, e)
		if err != nil {
			slog.Error("meeting build failed",
				"calendar", cal.ID,
				"event", e.UID,
				"error", err,
			)
			res.Errors++
			continue
		}

		created, err := m.store.Insert(ctx, mt)
		if err != nil {
			slog.Error("meeting persistence failed",
				"calendar", cal.ID,
				"event", e.UID,
				"error", err,
			)
			res.Errors++
			continue
		}
		if !created {
			// Already materialized by an earlier cycle.
			res.Skipped++
			continue
		}

		res.Created++

		if err := m.usage.LogEvent(ctx, cal.OrganizationID, "meeting_created", cal.OwnerID, map[string]string{
			"meeting_id":  mt.ID.String(),
			"calendar_id": cal.ID,
			"event_uid":   e.UID,
		}, 1); err != nil {
			return res, fmt.Errorf("track meeting creation: %w", err)
		}
	}

	slog.Info("materialization complete",
		"calendar", cal.ID,
		"created", res.Created,
		"skipped", res.Skipped,
		"errors", res.Errors,
	)

	return res, nil
}

// FromEvent builds a meeting row from an event. The full source event is
// kept as metadata for later audit.
func FromEvent(cal models.Calendar, e models.CalendarEvent) (models.Meeting, error) {
	snapshot, err := json.Marshal(e)
	if err != nil {
		return models.Meeting{}, fmt.Errorf("marshal event snapshot: %w", err)
	}

	participants := make([]string, 0, len(e.Attendees))
	for _, a := range e.Attendees {
		if a.Email != "" {
			participants = append(participants, a.Email)
		}
	}

	return models.Meeting{
		ID:             uuid.New(),
		Title:          e.Name,
		HostEmail:      cal.Email,
		MeetingDate:    e.StartTime,
		JoinURL:        e.MeetingURL,
		Participants:   participants,
		DurationMins:   durationMins(e),
		CalendarID:     cal.ID,
		SourceEventID:  e.UID,
		BotID:          "",
		Analysed:       false,
		OrganizationID: cal.OrganizationID,
		UserID:         cal.OwnerID,
		Metadata:       snapshot,
	}, nil
}

// durationMins rounds (end - start) to whole minutes using millisecond
// timestamps; never negative.
func durationMins(e models.CalendarEvent) int {
	ms := e.EndTime.UnixMilli() - e.StartTime.UnixMilli()
	if ms <= 0 {
		return 0
	}
	return int(math.Round(float64(ms) / 60000))
}
