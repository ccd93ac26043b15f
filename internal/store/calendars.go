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

// Package store provides Postgres-backed persistence for calendars and
// meetings. Writes are single-row upserts keyed by a natural identity;
// insert conflicts are reported back as "already exists" rather than
// raised, which makes every sync operation safe to re-run.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meetscribe/calsync/internal/models"
)

// CalendarStore provides CRUD operations for calendar records in Postgres.
type CalendarStore struct {
	pool *pgxpool.Pool
}

// NewCalendarStore creates a calendar store backed by the given Postgres
// pool. It ensures the calendars table exists on creation.
func NewCalendarStore(ctx context.Context, pool *pgxpool.Pool) (*CalendarStore, error) {
	s := &CalendarStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure calendar schema: %w", err)
	}
	slog.Info("calendar store initialised")
	return s, nil
}

func (s *CalendarStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS calendars (
			id              TEXT PRIMARY KEY,
			name            TEXT DEFAULT '',
			email           TEXT NOT NULL,
			provider        TEXT NOT NULL,
			resource_id     TEXT DEFAULT '',
			organization_id TEXT NOT NULL,
			owner_id        TEXT NOT NULL,
			is_active       BOOLEAN,
			created_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_calendars_owner ON calendars(organization_id, owner_id);
		CREATE INDEX IF NOT EXISTS idx_calendars_email ON calendars(organization_id, owner_id, email);
	`)
	return err
}

// CreateIfAbsent inserts a calendar keyed on its provider calendar id.
// Returns false when the row already exists — provider ids can collide
// when two reconciliation runs overlap, and the constraint is the final
// backstop for that race.
func (s *CalendarStore) CreateIfAbsent(ctx context.Context, cal models.Calendar) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO calendars
			(id, name, email, provider, resource_id, organization_id, owner_id, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, cal.ID, cal.Name, cal.Email, cal.Provider, cal.ResourceID,
		cal.OrganizationID, cal.OwnerID, cal.IsActive)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves a single calendar by its provider calendar id.
func (s *CalendarStore) Get(ctx context.Context, id string) (*models.Calendar, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, email, provider, resource_id, organization_id,
		       owner_id, is_active, created_at
		FROM calendars
		WHERE id = $1
	`, id)
	return scanCalendar(row)
}

// ListByOwner returns all calendars for an organization member. An empty
// provider lists across providers.
func (s *CalendarStore) ListByOwner(ctx context.Context, orgID, ownerID, provider string) ([]models.Calendar, error) {
	query := `
		SELECT id, name, email, provider, resource_id, organization_id,
		       owner_id, is_active, created_at
		FROM calendars
		WHERE organization_id = $1 AND owner_id = $2
	`
	args := []any{orgID, ownerID}
	if provider != "" {
		query += ` AND provider = $3`
		args = append(args, provider)
	}
	query += ` ORDER BY email`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCalendars(rows)
}

// SetActive toggles the selection flag. Activating a calendar deselects
// every other calendar sharing the same (organization, owner, email) so
// at most one stays selected.
func (s *CalendarStore) SetActive(ctx context.Context, id string, active bool) error {
	if active {
		_, err := s.pool.Exec(ctx, `
			UPDATE calendars c
			SET is_active = FALSE
			FROM calendars target
			WHERE target.id = $1
			  AND c.id <> target.id
			  AND c.organization_id = target.organization_id
			  AND c.owner_id = target.owner_id
			  AND c.email = target.email
			  AND c.is_active = TRUE
		`, id)
		if err != nil {
			return err
		}
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE calendars SET is_active = $1 WHERE id = $2
	`, active, id)
	return err
}

// Delete removes a calendar record.
func (s *CalendarStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM calendars WHERE id = $1`, id)
	return err
}

func scanCalendar(row pgx.Row) (*models.Calendar, error) {
	var c models.Calendar
	err := row.Scan(
		&c.ID, &c.Name, &c.Email, &c.Provider, &c.ResourceID,
		&c.OrganizationID, &c.OwnerID, &c.IsActive, &c.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func collectCalendars(rows pgx.Rows) ([]models.Calendar, error) {
	var cals []models.Calendar
	for rows.Next() {
		var c models.Calendar
		if err := rows.Scan(
			&c.ID, &c.Name, &c.Email, &c.Provider, &c.ResourceID,
			&c.OrganizationID, &c.OwnerID, &c.IsActive, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		cals = append(cals, c)
	}
	return cals, rows.Err()
}

// touchTimeout bounds schema bootstrap and ping-style calls.
const touchTimeout = 5 * time.Second

// Ping checks the Postgres connection.
func (s *CalendarStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, touchTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}
