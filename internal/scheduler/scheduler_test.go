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

package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/calsync/internal/models"
)

// --- Mock dispatcher ---

type mockDispatcher struct {
	mu       sync.Mutex
	attempts map[string]int // per-event attempt counts
	failFor  map[string]int // event UID -> number of attempts that fail
	failAll  bool

	inFlight    int
	maxInFlight int
}

func newMockDispatcher() *mockDispatcher {
	return &mockDispatcher{
		attempts: make(map[string]int),
		failFor:  make(map[string]int),
	}
}

func (m *mockDispatcher) ScheduleBot(_ context.Context, _ string, cfg models.BotConfig) (string, error) {
	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	m.attempts[cfg.EventUID]++
	attempt := m.attempts[cfg.EventUID]
	failUntil := m.failFor[cfg.EventUID]
	failAll := m.failAll
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if failAll || attempt <= failUntil {
		return "", fmt.Errorf("dispatch refused for %s (attempt %d)", cfg.EventUID, attempt)
	}
	return "bot-" + cfg.EventUID, nil
}

func (m *mockDispatcher) attemptCount(uid string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts[uid]
}

func testEvents(n int) []models.CalendarEvent {
	start := time.Date(2026, 9, 1, 10, 0, 0, 0, time.UTC)
	events := make([]models.CalendarEvent, n)
	for i := range events {
		events[i] = models.CalendarEvent{
			UID:         fmt.Sprintf("evt-%d", i),
			Name:        fmt.Sprintf("Meeting %d", i),
			StartTime:   start.Add(time.Duration(i) * time.Hour),
			EndTime:     start.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			MeetingURL:  fmt.Sprintf("https://meet.example.com/%d", i),
			IsOrganizer: true,
		}
	}
	return events
}

func testScheduler(d Dispatcher, batchSize int) *Scheduler {
	return New(Config{
		Dispatcher:     d,
		BatchSize:      batchSize,
		CallTimeout:    time.Second,
		InitialBackoff: time.Millisecond,
	})
}

// TestSchedule_AllSucceed verifies the happy path: every event gets a bot
// and the summary counts add up.
func TestSchedule_AllSucceed(t *testing.T) {
	d := newMockDispatcher()
	s := testScheduler(d, 10)

	events := testEvents(5)
	summary := s.Schedule(context.Background(), "cal-1", events)

	if summary.Total != 5 || summary.Scheduled != 5 || summary.Failed != 0 {
		t.Errorf("summary = %d/%d/%d, want 5/5/0", summary.Total, summary.Scheduled, summary.Failed)
	}
	if summary.SuccessRate != "100.0%" {
		t.Errorf("success rate = %q, want 100.0%%", summary.SuccessRate)
	}
	for _, o := range summary.Outcomes {
		if !o.Success {
			t.Errorf("event %s failed: %s", o.Event.UID, o.Error)
		}
		if o.BotID != "bot-"+o.Event.UID {
			t.Errorf("event %s bot id = %q", o.Event.UID, o.BotID)
		}
	}
}

// TestSchedule_FailureContainment verifies that one event's permanent
// failure never disturbs the others and every event still gets an outcome.
func TestSchedule_FailureContainment(t *testing.T) {
	d := newMockDispatcher()
	d.failFor["evt-2"] = 10 // beyond max attempts: permanently failing

	s := testScheduler(d, 10)
	events := testEvents(5)
	summary := s.Schedule(context.Background(), "cal-1", events)

	if summary.Scheduled != 4 || summary.Failed != 1 {
		t.Errorf("scheduled/failed = %d/%d, want 4/1", summary.Scheduled, summary.Failed)
	}
	if summary.Scheduled+summary.Failed != len(summary.Outcomes) {
		t.Error("outcome tally does not cover every event")
	}
	if summary.SuccessRate != "80.0%" {
		t.Errorf("success rate = %q, want 80.0%%", summary.SuccessRate)
	}

	for _, o := range summary.Outcomes {
		if o.Event.UID == "evt-2" {
			if o.Success {
				t.Error("evt-2 should have failed")
			}
			if !strings.Contains(o.Error, "evt-2") {
				t.Errorf("evt-2 error = %q, want dispatcher message", o.Error)
			}
		} else if !o.Success {
			t.Errorf("event %s should have succeeded", o.Event.UID)
		}
	}
}

// TestSchedule_RetriesThenSucceeds verifies that transient failures are
// retried and a success inside the retry budget counts as scheduled.
func TestSchedule_RetriesThenSucceeds(t *testing.T) {
	d := newMockDispatcher()
	d.failFor["evt-0"] = 2 // fail twice, succeed on attempt 3

	s := testScheduler(d, 10)
	summary := s.Schedule(context.Background(), "cal-1", testEvents(1))

	if summary.Scheduled != 1 {
		t.Fatalf("expected success after retries, got failed: %s", summary.Outcomes[0].Error)
	}
	if got := d.attemptCount("evt-0"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

// TestSchedule_RetryBudgetExhausted verifies the attempt cap: one initial
// dispatch plus three retries, then the event fails for this cycle.
func TestSchedule_RetryBudgetExhausted(t *testing.T) {
	d := newMockDispatcher()
	d.failAll = true

	s := testScheduler(d, 10)
	summary := s.Schedule(context.Background(), "cal-1", testEvents(1))

	if summary.Failed != 1 {
		t.Fatal("expected failure after exhausted retries")
	}
	if got := d.attemptCount("evt-0"); got != 4 {
		t.Errorf("attempts = %d, want 4 (1 + 3 retries)", got)
	}
	if summary.Outcomes[0].Error == "" {
		t.Error("failed outcome should carry the last error")
	}
}

// TestSchedule_BackoffDoubles verifies the retry delays grow as
// base, 2*base, 4*base — a permanently failing event takes at least
// 7*base to settle.
func TestSchedule_BackoffDoubles(t *testing.T) {
	d := newMockDispatcher()
	d.failAll = true

	base := 20 * time.Millisecond
	s := New(Config{
		Dispatcher:     d,
		BatchSize:      10,
		CallTimeout:    time.Second,
		InitialBackoff: base,
	})

	start := time.Now()
	s.Schedule(context.Background(), "cal-1", testEvents(1))
	elapsed := time.Since(start)

	if elapsed < 7*base {
		t.Errorf("retry cycle took %v, want at least %v (base + 2*base + 4*base)", elapsed, 7*base)
	}
}

// TestSchedule_BatchBoundsConcurrency verifies that no more dispatches
// run at once than the batch size allows.
func TestSchedule_BatchBoundsConcurrency(t *testing.T) {
	d := newMockDispatcher()
	s := testScheduler(d, 3)

	s.Schedule(context.Background(), "cal-1", testEvents(10))

	d.mu.Lock()
	max := d.maxInFlight
	d.mu.Unlock()

	if max > 3 {
		t.Errorf("max in-flight dispatches = %d, want <= 3", max)
	}
}

// TestSchedule_EmptyInput verifies the zero-event edge: no dispatches and
// an N/A success rate instead of a division by zero.
func TestSchedule_EmptyInput(t *testing.T) {
	d := newMockDispatcher()
	s := testScheduler(d, 10)

	summary := s.Schedule(context.Background(), "cal-1", nil)

	if summary.Total != 0 || len(summary.Outcomes) != 0 {
		t.Errorf("expected empty summary, got total=%d", summary.Total)
	}
	if summary.SuccessRate != "N/A" {
		t.Errorf("success rate = %q, want N/A", summary.SuccessRate)
	}
}

// TestSchedule_ContextCancelDuringBackoff verifies that cancellation cuts
// the retry cycle short and still yields a failed outcome.
func TestSchedule_ContextCancelDuringBackoff(t *testing.T) {
	d := newMockDispatcher()
	d.failAll = true

	s := New(Config{
		Dispatcher:     d,
		BatchSize:      10,
		CallTimeout:    time.Second,
		InitialBackoff: time.Hour, // never elapses; cancellation must win
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan *Summary, 1)
	go func() {
		done <- s.Schedule(ctx, "cal-1", testEvents(1))
	}()

	select {
	case summary := <-done:
		if summary.Failed != 1 {
			t.Error("cancelled dispatch should count as failed")
		}
		if summary.Outcomes[0].Error == "" {
			t.Error("cancelled outcome should carry the context error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Schedule did not return after context cancellation")
	}
}
