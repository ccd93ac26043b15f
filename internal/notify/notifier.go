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

// Package notify delivers best-effort notifications after calendar
// creation. Deliveries run as detached tasks: the caller never waits on
// them and never sees their failures — outcomes only reach the logs.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/meetscribe/calsync/internal/models"
)

// Notifier posts calendar-created notifications to a configured endpoint.
// An empty URL disables delivery entirely.
type Notifier struct {
	url        string
	httpClient *http.Client
	wg         sync.WaitGroup
}

// NewNotifier creates a notifier targeting the given endpoint.
func NewNotifier(url string) *Notifier {
	return &Notifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// calendarCreatedPayload is the notification body.
type calendarCreatedPayload struct {
	Type           string `json:"type"`
	CalendarID     string `json:"calendar_id"`
	Email          string `json:"email"`
	Provider       string `json:"provider"`
	OrganizationID string `json:"organization_id"`
	OwnerID        string `json:"owner_id"`
}

// CalendarCreated fires a detached notification for a newly created
// calendar. It returns immediately; the delivery runs in its own goroutine
// with a catch-all recover so a sink bug can never reach the reconciler.
func (n *Notifier) CalendarCreated(cal models.Calendar) {
	if n.url == "" {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("notification delivery panicked", "panic", r)
			}
		}()

		if err := n.send(context.Background(), cal); err != nil {
			slog.Warn("calendar notification failed",
				"calendar", cal.ID,
				"error", err,
			)
		}
	}()
}

// send performs one delivery attempt.
func (n *Notifier) send(ctx context.Context, cal models.Calendar) error {
	payload := calendarCreatedPayload{
		Type:           "calendar.created",
		CalendarID:     cal.ID,
		Email:          cal.Email,
		Provider:       cal.Provider,
		OrganizationID: cal.OrganizationID,
		OwnerID:        cal.OwnerID,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("deliver notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification endpoint returned HTTP %d", resp.StatusCode)
	}

	slog.Debug("calendar notification delivered", "calendar", cal.ID)
	return nil
}

// Flush waits for in-flight deliveries. Used by tests and shutdown.
func (n *Notifier) Flush() {
	n.wg.Wait()
}
