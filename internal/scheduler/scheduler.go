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

// Package scheduler dispatches recording bots for eligible calendar
// events in bounded-size concurrent batches, with per-event retry and
// exponential backoff. A single event's failure — retries included — is
// contained at the event boundary and converted into an outcome; it never
// aborts the batch.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meetscribe/calsync/internal/models"
)

const (
	// DefaultBatchSize bounds peak concurrency per batch.
	DefaultBatchSize = 1000

	// maxAttempts is 1 initial dispatch + 3 retries.
	maxAttempts = 4

	// initialBackoff is the delay before the first retry; it doubles on
	// each subsequent retry (1s, 2s, 4s). No jitter.
	initialBackoff = 1000 * time.Millisecond
)

// Dispatcher is the recording-bot trigger the scheduler drives.
// Implemented by bot.Client.
type Dispatcher interface {
	ScheduleBot(ctx context.Context, calendarID string, cfg models.BotConfig) (string, error)
}

// Summary aggregates a full scheduling run. Scheduled + Failed always
// equals len(Outcomes): no event is silently dropped from the tally.
type Summary struct {
	Total       int
	Scheduled   int
	Failed      int
	SuccessRate string
	Outcomes    []models.ScheduleOutcome
}

// Scheduler runs bot dispatch over event batches.
type Scheduler struct {
	dispatcher     Dispatcher
	batchSize      int
	callTimeout    time.Duration
	initialBackoff time.Duration
}

// Config holds the scheduler's dependencies and tuning.
type Config struct {
	Dispatcher  Dispatcher
	BatchSize   int
	CallTimeout time.Duration

	// InitialBackoff overrides the retry base delay; tests use it to
	// avoid real seconds-long sleeps.
	InitialBackoff time.Duration
}

// New creates a bot scheduler.
func New(cfg Config) *Scheduler {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	timeout := cfg.CallTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	backoff := cfg.InitialBackoff
	if backoff == 0 {
		backoff = initialBackoff
	}
	return &Scheduler{
		dispatcher:     cfg.Dispatcher,
		batchSize:      batch,
		callTimeout:    timeout,
		initialBackoff: backoff,
	}
}

// Schedule dispatches a bot per event. Batches run sequentially relative
// to each other; events within a batch run concurrently and the batch
// waits for every attempt to settle before the next batch starts.
func (s *Scheduler) Schedule(ctx context.Context, calendarID string, events []models.CalendarEvent) *Summary {
	outcomes := make([]models.ScheduleOutcome, len(events))

	for batchStart := 0; batchStart < len(events); batchStart += s.batchSize {
		batchEnd := batchStart + s.batchSize
		if batchEnd > len(events) {
			batchEnd = len(events)
		}

		var wg sync.WaitGroup
		for i := batchStart; i < batchEnd; i++ {
			wg.Add(1)
			go func(idx int, event models.CalendarEvent) {
				defer wg.Done()
				outcomes[idx] = s.dispatchOne(ctx, calendarID, event)
			}(i, events[i])
		}
		wg.Wait()
	}

	summary := &Summary{
		Total:    len(events),
		Outcomes: outcomes,
	}
	for _, o := range outcomes {
		if o.Success {
			summary.Scheduled++
		} else {
			summary.Failed++
		}
	}
	summary.SuccessRate = formatRate(summary.Scheduled, summary.Total)

	slog.Info("bot scheduling complete",
		"calendar", calendarID,
		"total", summary.Total,
		"scheduled", summary.Scheduled,
		"failed", summary.Failed,
		"success_rate", summary.SuccessRate,
	)

	return summary
}

// dispatchOne runs the full retry cycle for a single event and always
// returns an outcome, never panics or raises past the batch.
func (s *Scheduler) dispatchOne(ctx context.Context, calendarID string, event models.CalendarEvent) models.ScheduleOutcome {
	cfg := models.BotConfig{
		MeetingURL: event.MeetingURL,
		Title:      event.Name,
		JoinAt:     event.StartTime,
		EventUID:   event.UID,
	}

	var lastErr error
	delay := s.initialBackoff

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return models.ScheduleOutcome{
					Event: event,
					Error: ctx.Err().Error(),
				}
			case <-time.After(delay):
			}
			delay *= 2
		}

		callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
		botID, err := s.dispatcher.ScheduleBot(callCtx, calendarID, cfg)
		cancel()

		if err == nil {
			if attempt > 1 {
				slog.Info("bot dispatch succeeded after retry",
					"calendar", calendarID,
					"event", event.UID,
					"attempt", attempt,
				)
			}
			return models.ScheduleOutcome{
				Success: true,
				Event:   event,
				BotID:   botID,
			}
		}

		lastErr = err
		slog.Warn("bot dispatch attempt failed",
			"calendar", calendarID,
			"event", event.UID,
			"attempt", attempt,
			"error", err,
		)
	}

	return models.ScheduleOutcome{
		Event: event,
		Error: lastErr.Error(),
	}
}

func formatRate(scheduled, total int) string {
	if total == 0 {
		return "N/A"
	}
	return fmt.Sprintf("%.1f%%", float64(scheduled)/float64(total)*100)
}
