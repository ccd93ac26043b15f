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

// Package reconcile diffs provider-reported calendars against stored
// state and persists the missing ones in bounded concurrent batches.
// Matching is by owner email, not provider id — provider ids can rotate
// across re-auth while the mailbox address stays stable.
package reconcile

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/meetscribe/calsync/internal/models"
)

// DefaultBatchSize bounds peak concurrency during calendar creation.
const DefaultBatchSize = 1000

// Gateway is the slice of the Provider Gateway the reconciler needs.
// Implemented by provider.Client.
type Gateway interface {
	ListRawCalendars(ctx context.Context, credential, platform string) ([]models.RawCalendar, error)
	CreateCalendar(ctx context.Context, credential, platform, rawCalendarID string) (*models.Calendar, error)
}

// CalendarStore is the persistence slice the reconciler needs.
// Implemented by store.CalendarStore.
type CalendarStore interface {
	ListByOwner(ctx context.Context, orgID, ownerID, provider string) ([]models.Calendar, error)
	CreateIfAbsent(ctx context.Context, cal models.Calendar) (bool, error)
}

// Notifier receives a fire-and-forget signal per created calendar.
// Implemented by notify.Notifier.
type Notifier interface {
	CalendarCreated(cal models.Calendar)
}

// Request identifies one owner's calendars at one provider.
type Request struct {
	Credential     string
	Provider       string
	OrganizationID string
	OwnerID        string
}

// Result summarises a reconciliation run.
type Result struct {
	Success        bool
	SyncedCount    int
	TotalAvailable int
	Elapsed        time.Duration
}

// Reconciler persists provider calendars the store does not yet have.
type Reconciler struct {
	gateway   Gateway
	store     CalendarStore
	notifier  Notifier
	batchSize int
}

// Config holds the reconciler's dependencies.
type Config struct {
	Gateway   Gateway
	Store     CalendarStore
	Notifier  Notifier
	BatchSize int
}

// New creates a calendar reconciler.
func New(cfg Config) *Reconciler {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	return &Reconciler{
		gateway:   cfg.Gateway,
		store:     cfg.Store,
		notifier:  cfg.Notifier,
		batchSize: batch,
	}
}

// Reconcile lists the provider's calendars, computes the missing set by
// email, and creates the missing records. A failed listing fails the whole
// operation; a failed creation only excludes that calendar from the count.
// Re-running with no provider-side changes yields SyncedCount = 0.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	raw, err := r.gateway.ListRawCalendars(ctx, req.Credential, req.Provider)
	if err != nil {
		// Listing failure means the operation is infeasible — no partial
		// count is reported.
		return nil, err
	}

	stored, err := r.store.ListByOwner(ctx, req.OrganizationID, req.OwnerID, req.Provider)
	if err != nil {
		return nil, err
	}

	missing := missingByEmail(raw, stored)

	slog.Info("calendar reconciliation computed",
		"org", req.OrganizationID,
		"owner", req.OwnerID,
		"provider", req.Provider,
		"available", len(raw),
		"stored", len(stored),
		"missing", len(missing),
	)

	synced := 0
	for batchStart := 0; batchStart < len(missing); batchStart += r.batchSize {
		batchEnd := batchStart + r.batchSize
		if batchEnd > len(missing) {
			batchEnd = len(missing)
		}

		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, rc := range missing[batchStart:batchEnd] {
			wg.Add(1)
			go func(rc models.RawCalendar) {
				defer wg.Done()
				if r.createOne(ctx, req, rc) {
					mu.Lock()
					synced++
					mu.Unlock()
				}
			}(rc)
		}
		// Every attempt in the batch settles, success or failure, before
		// the next batch starts.
		wg.Wait()
	}

	result := &Result{
		Success:        true,
		SyncedCount:    synced,
		TotalAvailable: len(raw),
		Elapsed:        time.Since(start),
	}

	slog.Info("calendar reconciliation complete",
		"org", req.OrganizationID,
		"owner", req.OwnerID,
		"synced", result.SyncedCount,
		"available", result.TotalAvailable,
		"elapsed", result.Elapsed,
	)

	return result, nil
}

// createOne handles a single missing calendar: provider-side creation,
// store insert, and the post-creation notification. Failures are logged
// and contained here — one calendar never blocks its batch siblings.
func (r *Reconciler) createOne(ctx context.Context, req Request, rc models.RawCalendar) bool {
	cal, err := r.gateway.CreateCalendar(ctx, req.Credential, req.Provider, rc.ID)
	if err != nil {
		slog.Error("calendar creation failed at gateway",
			"org", req.OrganizationID,
			"raw_calendar", rc.ID,
			"error", err,
		)
		return false
	}

	cal.OrganizationID = req.OrganizationID
	cal.OwnerID = req.OwnerID
	if cal.Email == "" {
		cal.Email = rc.Email
	}
	if cal.Name == "" {
		cal.Name = rc.Name
	}

	created, err := r.store.CreateIfAbsent(ctx, *cal)
	if err != nil {
		slog.Error("calendar persistence failed",
			"org", req.OrganizationID,
			"calendar", cal.ID,
			"error", err,
		)
		return false
	}
	if !created {
		// Constraint backstop: a concurrent run won the insert race.
		slog.Debug("calendar already exists, skipping",
			"org", req.OrganizationID,
			"calendar", cal.ID,
		)
		return false
	}

	slog.Info("calendar created",
		"org", req.OrganizationID,
		"calendar", cal.ID,
		"email", cal.Email,
	)

	if r.notifier != nil {
		r.notifier.CalendarCreated(*cal)
	}

	return true
}

// missingByEmail returns the raw calendars whose email is not present
// among the stored calendars. The point-in-time computation accepts that
// two overlapping runs may both pass the pre-check; the store's primary
// key is the final backstop.
func missingByEmail(raw []models.RawCalendar, stored []models.Calendar) []models.RawCalendar {
	have := make(map[string]bool, len(stored))
	for _, c := range stored {
		have[strings.ToLower(c.Email)] = true
	}

	var missing []models.RawCalendar
	seen := make(map[string]bool, len(raw))
	for _, rc := range raw {
		if rc.Email == "" {
			continue
		}
		key := strings.ToLower(rc.Email)
		if have[key] || seen[key] {
			continue
		}
		seen[key] = true
		missing = append(missing, rc)
	}
	return missing
}
