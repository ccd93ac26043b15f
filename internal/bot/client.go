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

// Package bot wraps the recording-bot trigger API. A dispatch is a single
// black-box call; retry policy lives in the scheduler, not here.
package bot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/meetscribe/calsync/internal/models"
)

// Client dispatches recording bots through the bot API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// ClientConfig holds the settings for the bot client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
}

// NewClient builds the bot client, failing fast on missing credentials.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("bot trigger: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("bot trigger: API key is required")
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		// No Timeout here — every dispatch arrives with a context
		// deadline set by the scheduler.
		httpClient: &http.Client{},
	}, nil
}

// scheduleRequest is the dispatch payload.
type scheduleRequest struct {
	CalendarID string           `json:"calendar_id"`
	Bot        models.BotConfig `json:"bot_config"`
}

// scheduleResponse is the trigger's envelope.
type scheduleResponse struct {
	Success bool `json:"success"`
	Data    struct {
		BotID string `json:"bot_id"`
	} `json:"data"`
	Error string `json:"error"`
}

// ScheduleBot asks the recording service to join one meeting. Returns the
// assigned bot id on success.
func (c *Client) ScheduleBot(ctx context.Context, calendarID string, cfg models.BotConfig) (string, error) {
	payload, err := json.Marshal(scheduleRequest{
		CalendarID: calendarID,
		Bot:        cfg,
	})
	if err != nil {
		return "", fmt.Errorf("marshal bot request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/bots", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build bot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("bot dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		slog.Error("bot trigger error response",
			"status", resp.StatusCode,
			"calendar", calendarID,
			"body", string(body),
		)
		return "", fmt.Errorf("bot trigger returned HTTP %d", resp.StatusCode)
	}

	var out scheduleResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode bot response: %w", err)
	}
	if !out.Success {
		return "", fmt.Errorf("bot trigger rejected dispatch: %s", out.Error)
	}

	return out.Data.BotID, nil
}

// Ping checks that the bot API answers at all. Used by the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
