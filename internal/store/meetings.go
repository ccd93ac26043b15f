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

package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetscribe/calsync/internal/models"
)

// MeetingStore provides CRUD operations for meeting records in Postgres.
type MeetingStore struct {
	pool *pgxpool.Pool
}

// NewMeetingStore creates a meeting store backed by the given Postgres
// pool. It ensures the meetings table exists on creation.
func NewMeetingStore(ctx context.Context, pool *pgxpool.Pool) (*MeetingStore, error) {
	s := &MeetingStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure meeting schema: %w", err)
	}
	slog.Info("meeting store initialised")
	return s, nil
}

func (s *MeetingStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS meetings (
			id              UUID PRIMARY KEY,
			title           TEXT NOT NULL,
			host_email      TEXT DEFAULT '',
			meeting_date    TIMESTAMPTZ NOT NULL,
			join_url        TEXT NOT NULL,
			participants    TEXT[] NOT NULL DEFAULT '{}',
			duration_mins   INT NOT NULL DEFAULT 0,
			calendar_id     TEXT NOT NULL REFERENCES calendars(id) ON DELETE CASCADE,
			source_event_id TEXT NOT NULL,
			bot_id          TEXT DEFAULT '',
			analysed        BOOLEAN DEFAULT FALSE,
			organization_id TEXT NOT NULL,
			user_id         TEXT NOT NULL,
			metadata        JSONB,
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(calendar_id, source_event_id)
		);
		CREATE INDEX IF NOT EXISTS idx_meetings_calendar ON meetings(calendar_id);
		CREATE INDEX IF NOT EXISTS idx_meetings_org ON meetings(organization_id);
	`)
	return err
}

// Insert persists a meeting. Returns false when a meeting for the same
// (calendar, source event) already exists — the event was materialized by
// an earlier sync cycle and must not be duplicated.
func (s *MeetingStore) Insert(ctx context.Context, m models.Meeting) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO meetings
			(id, title, host_email, meeting_date, join_url, participants,
			 duration_mins, calendar_id, source_event_id, bot_id, analysed,
			 organization_id, user_id, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (calendar_id, source_event_id) DO NOTHING
	`, m.ID, m.Title, m.HostEmail, m.MeetingDate, m.JoinURL, m.Participants,
		m.DurationMins, m.CalendarID, m.SourceEventID, m.BotID, m.Analysed,
		m.OrganizationID, m.UserID, m.Metadata)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// FindBySourceEvent retrieves the meeting materialized from a calendar event.
func (s *MeetingStore) FindBySourceEvent(ctx context.Context, calendarID, sourceEventID string) (*models.Meeting, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, title, host_email, meeting_date, join_url, participants,
		       duration_mins, calendar_id, source_event_id, bot_id, analysed,
		       organization_id, user_id, metadata, created_at
		FROM meetings
		WHERE calendar_id = $1 AND source_event_id = $2
	`, calendarID, sourceEventID)
	return scanMeeting(row)
}

// SetBotID records the dispatched bot for a meeting.
func (s *MeetingStore) SetBotID(ctx context.Context, calendarID, sourceEventID, botID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE meetings
		SET bot_id = $1
		WHERE calendar_id = $2 AND source_event_id = $3
	`, botID, calendarID, sourceEventID)
	return err
}

// DeleteUnanalysedByCalendar removes meetings that never completed
// analysis when their calendar is disconnected. Returns the number of
// rows deleted.
func (s *MeetingStore) DeleteUnanalysedByCalendar(ctx context.Context, calendarID string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM meetings
		WHERE calendar_id = $1 AND analysed = FALSE
	`, calendarID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func scanMeeting(row pgx.Row) (*models.Meeting, error) {
	var m models.Meeting
	err := row.Scan(
		&m.ID, &m.Title, &m.HostEmail, &m.MeetingDate, &m.JoinURL,
		&m.Participants, &m.DurationMins, &m.CalendarID, &m.SourceEventID,
		&m.BotID, &m.Analysed, &m.OrganizationID, &m.UserID, &m.Metadata,
		&m.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
