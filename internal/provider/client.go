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

// Package provider implements the Provider Gateway client: a thin HTTP
// wrapper around the calendar aggregation API that lists raw calendars,
// lists upcoming events, and creates provider-side calendar subscriptions.
// The gateway treats the wire protocol as opaque; user credentials are
// passed through as refresh tokens and never inspected.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2"

	"github.com/meetscribe/calsync/internal/models"
)

// UnavailableError marks a gateway call that failed outright — the whole
// sync operation fails rather than reporting partial counts.
type UnavailableError struct {
	Message string
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("provider gateway unavailable: %s", e.Message)
}

// IsUnavailable reports whether err is a gateway availability failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// Client is the long-lived Provider Gateway client. It is constructed once
// at startup from configuration; construction fails if the API key is absent.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	callTimeout time.Duration
}

// ClientConfig holds the settings for the gateway client.
type ClientConfig struct {
	BaseURL     string
	APIKey      string
	CallTimeout time.Duration
}

// NewClient builds the gateway client. The API key is mandatory: a
// misconfigured deployment must fail at process start, not on first use.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("provider gateway: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("provider gateway: API key is required")
	}

	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	// The gateway authenticates with a static bearer token; oauth2's
	// transport handles the Authorization header on every request.
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.APIKey})
	httpClient := oauth2.NewClient(context.Background(), ts)

	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  httpClient,
		callTimeout: timeout,
	}, nil
}

// listCalendarsResponse is the gateway envelope for calendar listings.
type listCalendarsResponse struct {
	Success   bool                 `json:"success"`
	Calendars []models.RawCalendar `json:"calendars"`
	Error     string               `json:"error"`
}

// ListRawCalendars returns every calendar the provider reports for the
// given credential. A failed call surfaces as UnavailableError with the
// gateway's message.
func (c *Client) ListRawCalendars(ctx context.Context, credential, platform string) ([]models.RawCalendar, error) {
	body := map[string]string{
		"refresh_token": credential,
		"platform":      platform,
	}

	var out listCalendarsResponse
	if err := c.post(ctx, "/v1/calendars/list", body, &out); err != nil {
		return nil, &UnavailableError{Message: err.Error()}
	}
	if !out.Success {
		return nil, &UnavailableError{Message: out.Error}
	}

	return out.Calendars, nil
}

// listEventsResponse is the gateway envelope for event listings.
type listEventsResponse struct {
	Success    bool                   `json:"success"`
	Events     []models.CalendarEvent `json:"events"`
	NextCursor string                 `json:"next_cursor"`
	Error      string                 `json:"error"`
}

// ListCalendarEvents fetches the events of one calendar whose start time
// falls inside [startGte, startLte], following pagination cursors.
func (c *Client) ListCalendarEvents(ctx context.Context, calendarID string, startGte, startLte time.Time) ([]models.CalendarEvent, error) {
	params := url.Values{}
	params.Set("start_date_gte", startGte.UTC().Format(time.RFC3339))
	params.Set("start_date_lte", startLte.UTC().Format(time.RFC3339))

	var events []models.CalendarEvent

	for {
		path := fmt.Sprintf("/v1/calendars/%s/events?%s", url.PathEscape(calendarID), params.Encode())

		var page listEventsResponse
		if err := c.get(ctx, path, &page); err != nil {
			return nil, &UnavailableError{Message: err.Error()}
		}
		if !page.Success {
			return nil, &UnavailableError{Message: page.Error}
		}

		events = append(events, page.Events...)

		if page.NextCursor == "" {
			break
		}
		params.Set("cursor", page.NextCursor)
	}

	slog.Debug("calendar events fetched",
		"calendar", calendarID,
		"events", len(events),
	)

	return events, nil
}

// createCalendarResponse is the gateway envelope for calendar creation.
type createCalendarResponse struct {
	Success  bool   `json:"success"`
	Calendar *struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Email      string `json:"email"`
		ResourceID string `json:"resource_id"`
	} `json:"calendar"`
	Error string `json:"error"`
}

// CreateCalendar asks the gateway to create a provider-side subscription
// for a raw calendar and returns the resulting calendar identity.
func (c *Client) CreateCalendar(ctx context.Context, credential, platform, rawCalendarID string) (*models.Calendar, error) {
	body := map[string]string{
		"refresh_token":   credential,
		"platform":        platform,
		"raw_calendar_id": rawCalendarID,
	}

	var out createCalendarResponse
	if err := c.post(ctx, "/v1/calendars", body, &out); err != nil {
		return nil, err
	}
	if !out.Success || out.Calendar == nil {
		return nil, fmt.Errorf("gateway calendar creation failed: %s", out.Error)
	}

	return &models.Calendar{
		ID:         out.Calendar.ID,
		Name:       out.Calendar.Name,
		Email:      out.Calendar.Email,
		Provider:   platform,
		ResourceID: out.Calendar.ResourceID,
	}, nil
}

// post issues a JSON POST and decodes the response envelope.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal gateway request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

// get issues a GET and decodes the response envelope.
func (c *Client) get(ctx context.Context, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("gateway call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("gateway error response",
			"status", resp.StatusCode,
			"path", req.URL.Path,
			"body", string(body),
		)
		return fmt.Errorf("gateway returned HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}

	return nil
}
