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

package sync

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meetscribe/calsync/internal/config"
	"github.com/meetscribe/calsync/internal/meeting"
	"github.com/meetscribe/calsync/internal/models"
	"github.com/meetscribe/calsync/internal/reconcile"
	"github.com/meetscribe/calsync/internal/scheduler"
)

// --- Mock event lister ---

type mockEvents struct {
	events []models.CalendarEvent
	err    error
}

func (m *mockEvents) ListCalendarEvents(_ context.Context, _ string, _, _ time.Time) ([]models.CalendarEvent, error) {
	return m.events, m.err
}

// --- Mock calendar store ---

type mockCalendars struct {
	mu       sync.Mutex
	cals     map[string]*models.Calendar
	inactive map[string]bool
}

func newMockCalendars(cals ...*models.Calendar) *mockCalendars {
	m := &mockCalendars{
		cals:     make(map[string]*models.Calendar),
		inactive: make(map[string]bool),
	}
	for _, c := range cals {
		m.cals[c.ID] = c
	}
	return m
}

func (m *mockCalendars) Get(_ context.Context, id string) (*models.Calendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cals[id], nil
}

func (m *mockCalendars) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inactive[id] = !active
	return nil
}

// --- Mock meeting store (persistence + lookup slices) ---

type mockMeetings struct {
	mu       sync.Mutex
	rows     map[string]*models.Meeting // keyed by source event ID
	botIDs   map[string]string
	deleted  []string
	findErr  error
	setCalls int
}

func newMockMeetings() *mockMeetings {
	return &mockMeetings{
		rows:   make(map[string]*models.Meeting),
		botIDs: make(map[string]string),
	}
}

func (m *mockMeetings) Insert(_ context.Context, mt models.Meeting) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[mt.SourceEventID]; ok {
		return false, nil
	}
	m.rows[mt.SourceEventID] = &mt
	return true, nil
}

func (m *mockMeetings) FindBySourceEvent(_ context.Context, _, sourceEventID string) (*models.Meeting, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}
	row, ok := m.rows[sourceEventID]
	if !ok {
		return nil, nil
	}
	cp := *row
	cp.BotID = m.botIDs[sourceEventID]
	return &cp, nil
}

func (m *mockMeetings) SetBotID(_ context.Context, _, sourceEventID, botID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botIDs[sourceEventID] = botID
	m.setCalls++
	return nil
}

func (m *mockMeetings) DeleteUnanalysedByCalendar(_ context.Context, calendarID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, calendarID)
	return 2, nil
}

// --- Mock bot dispatcher ---

type mockDispatcher struct {
	mu      sync.Mutex
	calls   []string
	failAll bool
}

func (m *mockDispatcher) ScheduleBot(_ context.Context, _ string, cfg models.BotConfig) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll {
		return "", fmt.Errorf("bot service down")
	}
	m.calls = append(m.calls, cfg.EventUID)
	return "bot-" + cfg.EventUID, nil
}

func (m *mockDispatcher) dispatched() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// --- Mock usage sink ---

type mockUsage struct {
	mu  sync.Mutex
	n   int
	err error
}

func (m *mockUsage) LogEvent(_ context.Context, _, _, _ string, _ any, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.n++
	return nil
}

// --- Mock reconciler gateway ---

type mockGateway struct {
	raw     []models.RawCalendar
	listErr error
}

func (m *mockGateway) ListRawCalendars(_ context.Context, _, _ string) ([]models.RawCalendar, error) {
	return m.raw, m.listErr
}

func (m *mockGateway) CreateCalendar(_ context.Context, _, platform, rawCalendarID string) (*models.Calendar, error) {
	return &models.Calendar{ID: "cal_" + rawCalendarID, Provider: platform}, nil
}

type mockReconStore struct {
	mu     sync.Mutex
	stored []models.Calendar
}

func (m *mockReconStore) ListByOwner(_ context.Context, _, _, _ string) ([]models.Calendar, error) {
	return m.stored, nil
}

func (m *mockReconStore) CreateIfAbsent(_ context.Context, cal models.Calendar) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stored = append(m.stored, cal)
	return true, nil
}

// --- Fixture ---

type fixture struct {
	svc        *Service
	events     *mockEvents
	calendars  *mockCalendars
	meetings   *mockMeetings
	dispatcher *mockDispatcher
	usage      *mockUsage
	gateway    *mockGateway
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		events: &mockEvents{},
		calendars: newMockCalendars(&models.Calendar{
			ID:             "cal-1",
			Email:          "alice@test.com",
			Provider:       models.ProviderGoogle,
			OrganizationID: "org-1",
			OwnerID:        "user-1",
		}),
		meetings:   newMockMeetings(),
		dispatcher: &mockDispatcher{},
		usage:      &mockUsage{},
		gateway:    &mockGateway{},
	}

	f.svc = NewService(ServiceConfig{
		Accounts: []config.OrgAccount{
			{OrganizationID: "org-1", OwnerID: "user-1", Provider: models.ProviderGoogle, RefreshToken: "tok"},
		},
		Events:    f.events,
		Calendars: f.calendars,
		Meetings:  f.meetings,
		Reconciler: reconcile.New(reconcile.Config{
			Gateway:   f.gateway,
			Store:     &mockReconStore{},
			BatchSize: 10,
		}),
		Materializer: meeting.New(meeting.Config{
			Store: f.meetings,
			Usage: f.usage,
		}),
		Scheduler: scheduler.New(scheduler.Config{
			Dispatcher:     f.dispatcher,
			BatchSize:      10,
			CallTimeout:    time.Second,
			InitialBackoff: time.Millisecond,
		}),
		EventWindow: 7 * 24 * time.Hour,
	})

	return f
}

func upcomingEvent(uid string, organizer bool, url string) models.CalendarEvent {
	start := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	return models.CalendarEvent{
		UID:         uid,
		Name:        "Meeting " + uid,
		StartTime:   start,
		EndTime:     start.Add(30 * time.Minute),
		IsOrganizer: organizer,
		MeetingURL:  url,
	}
}

// TestSyncCalendarEvents_EndToEnd verifies the full pass: meetings
// materialized, eligible events dispatched, bot IDs recorded.
func TestSyncCalendarEvents_EndToEnd(t *testing.T) {
	f := newFixture(t)
	f.events.events = []models.CalendarEvent{
		upcomingEvent("evt-1", true, "https://meet.example.com/1"),
		upcomingEvent("evt-2", true, "https://meet.example.com/2"),
		upcomingEvent("evt-3", false, "https://meet.example.com/3"), // not organizer
		upcomingEvent("evt-4", true, ""),                            // no join URL
	}

	res := f.svc.SyncCalendarEvents(context.Background(), "cal-1")

	if !res.Success {
		t.Fatalf("sync failed: %s", res.Message)
	}
	if res.TotalEvents != 4 {
		t.Errorf("total events = %d, want 4", res.TotalEvents)
	}
	if res.MeetingsCreated != 3 {
		t.Errorf("meetings created = %d, want 3 (evt-4 has no URL)", res.MeetingsCreated)
	}
	if res.ScheduledEvents != 2 {
		t.Errorf("scheduled = %d, want 2 (organizer + URL only)", res.ScheduledEvents)
	}
	if res.SuccessRate != "100.0%" {
		t.Errorf("success rate = %q", res.SuccessRate)
	}

	f.meetings.mu.Lock()
	bot1 := f.meetings.botIDs["evt-1"]
	bot3 := f.meetings.botIDs["evt-3"]
	f.meetings.mu.Unlock()

	if bot1 != "bot-evt-1" {
		t.Errorf("evt-1 bot id = %q, want bot-evt-1", bot1)
	}
	if bot3 != "" {
		t.Error("non-organizer event must not get a bot")
	}
}

// TestSyncCalendarEvents_BotGuard verifies the re-run guard: an event
// whose meeting already has a bot is not dispatched again.
func TestSyncCalendarEvents_BotGuard(t *testing.T) {
	f := newFixture(t)
	f.events.events = []models.CalendarEvent{
		upcomingEvent("evt-1", true, "https://meet.example.com/1"),
	}

	ctx := context.Background()
	first := f.svc.SyncCalendarEvents(ctx, "cal-1")
	if first.ScheduledEvents != 1 {
		t.Fatalf("first run scheduled %d, want 1", first.ScheduledEvents)
	}

	second := f.svc.SyncCalendarEvents(ctx, "cal-1")
	if !second.Success {
		t.Fatalf("second run failed: %s", second.Message)
	}
	if second.ScheduledEvents != 0 {
		t.Errorf("second run scheduled %d, want 0 (bot already recorded)", second.ScheduledEvents)
	}
	if second.MeetingsSkipped != 1 {
		t.Errorf("second run skipped %d meetings, want 1", second.MeetingsSkipped)
	}
	if got := f.dispatcher.dispatched(); len(got) != 1 {
		t.Errorf("dispatcher called %d times across both runs, want 1", len(got))
	}
}

// TestSyncCalendarEvents_RecurringCollapses verifies that a recurring
// series yields a single meeting and a single bot.
func TestSyncCalendarEvents_RecurringCollapses(t *testing.T) {
	f := newFixture(t)

	e1 := upcomingEvent("occ-1", true, "https://meet.example.com/r")
	e2 := upcomingEvent("occ-2", true, "https://meet.example.com/r")
	e2.StartTime = e1.StartTime.Add(24 * time.Hour)
	e2.EndTime = e2.StartTime.Add(30 * time.Minute)
	for _, e := range []*models.CalendarEvent{&e1, &e2} {
		e.IsRecurring = true
		e.RecurringSeriesID = "series-a"
	}
	f.events.events = []models.CalendarEvent{e2, e1}

	res := f.svc.SyncCalendarEvents(context.Background(), "cal-1")

	if res.MeetingsCreated != 1 {
		t.Errorf("meetings created = %d, want 1 (series collapses)", res.MeetingsCreated)
	}
	if res.ScheduledEvents != 1 {
		t.Errorf("scheduled = %d, want 1", res.ScheduledEvents)
	}
	if got := f.dispatcher.dispatched(); len(got) != 1 || got[0] != "occ-1" {
		t.Errorf("dispatched %v, want just occ-1 (earliest occurrence)", got)
	}
}

// TestSyncCalendarEvents_UnknownCalendar verifies the not-found result.
func TestSyncCalendarEvents_UnknownCalendar(t *testing.T) {
	f := newFixture(t)

	res := f.svc.SyncCalendarEvents(context.Background(), "cal-missing")

	if res.Success {
		t.Error("unknown calendar should not succeed")
	}
	if res.Message == "" {
		t.Error("result should explain the failure")
	}
}

// TestSyncCalendarEvents_FetchFailure verifies that an unreachable
// provider fails the sync without partial scheduling.
func TestSyncCalendarEvents_FetchFailure(t *testing.T) {
	f := newFixture(t)
	f.events.err = fmt.Errorf("gateway timeout")

	res := f.svc.SyncCalendarEvents(context.Background(), "cal-1")

	if res.Success {
		t.Error("fetch failure should fail the sync")
	}
	if len(f.dispatcher.dispatched()) != 0 {
		t.Error("no bots should be dispatched when the fetch fails")
	}
}

// TestSyncCalendarEvents_UsageFailure verifies that a broken usage sink
// fails the sync while keeping the partial materialization counters.
func TestSyncCalendarEvents_UsageFailure(t *testing.T) {
	f := newFixture(t)
	f.usage.err = fmt.Errorf("queue unreachable")
	f.events.events = []models.CalendarEvent{
		upcomingEvent("evt-1", true, "https://meet.example.com/1"),
	}

	res := f.svc.SyncCalendarEvents(context.Background(), "cal-1")

	if res.Success {
		t.Error("usage failure must surface")
	}
	if res.MeetingsCreated != 1 {
		t.Errorf("partial counters lost: created = %d, want 1", res.MeetingsCreated)
	}
	if len(f.dispatcher.dispatched()) != 0 {
		t.Error("no bots should be dispatched after a usage failure")
	}
}

// TestRefreshCalendars_NoAccount verifies the structured failure when the
// organization has no connected account for the provider.
func TestRefreshCalendars_NoAccount(t *testing.T) {
	f := newFixture(t)

	res := f.svc.RefreshCalendars(context.Background(), "org-unknown", models.ProviderGoogle)

	if res.Success {
		t.Error("unknown org should not succeed")
	}
	if res.Message == "" {
		t.Error("result should explain the missing account")
	}
}

// TestRefreshCalendars_Success verifies the reconciliation counters flow
// through to the result.
func TestRefreshCalendars_Success(t *testing.T) {
	f := newFixture(t)
	f.gateway.raw = []models.RawCalendar{
		{ID: "raw-a", Name: "Work", Email: "alice@test.com"},
		{ID: "raw-b", Name: "Team", Email: "team@test.com"},
	}

	res := f.svc.RefreshCalendars(context.Background(), "org-1", models.ProviderGoogle)

	if !res.Success {
		t.Fatalf("refresh failed: %s", res.Message)
	}
	if res.SyncedCalendars != 2 || res.TotalAvailable != 2 {
		t.Errorf("synced/available = %d/%d, want 2/2", res.SyncedCalendars, res.TotalAvailable)
	}
}

// TestRefreshCalendars_ProviderDown verifies that a listing failure
// produces a failed result, not partial counts.
func TestRefreshCalendars_ProviderDown(t *testing.T) {
	f := newFixture(t)
	f.gateway.listErr = fmt.Errorf("connection refused")

	res := f.svc.RefreshCalendars(context.Background(), "org-1", models.ProviderGoogle)

	if res.Success {
		t.Error("provider failure should fail the refresh")
	}
	if res.SyncedCalendars != 0 || res.TotalAvailable != 0 {
		t.Error("no partial counts on listing failure")
	}
}

// TestDisconnectCalendar verifies deactivation plus unanalysed cleanup.
func TestDisconnectCalendar(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.DisconnectCalendar(context.Background(), "cal-1"); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	f.calendars.mu.Lock()
	inactive := f.calendars.inactive["cal-1"]
	f.calendars.mu.Unlock()
	if !inactive {
		t.Error("calendar should be deactivated")
	}

	f.meetings.mu.Lock()
	deleted := len(f.meetings.deleted)
	f.meetings.mu.Unlock()
	if deleted != 1 {
		t.Error("unanalysed meetings should be removed")
	}
}
