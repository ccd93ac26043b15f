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

package models

import "time"

// Attendee is a single event participant.
type Attendee struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// CalendarEvent is an upcoming event fetched from the Provider Gateway.
// Events are transient: each sync cycle fetches them fresh, and an event
// is either discarded or materialized into a Meeting.
type CalendarEvent struct {
	UID               string     `json:"uid"`
	Name              string     `json:"name"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	IsOrganizer       bool       `json:"is_organizer"`
	IsRecurring       bool       `json:"is_recurring"`
	RecurringSeriesID string     `json:"recurring_series_id,omitempty"`
	RecurrenceRule    string     `json:"recurrence_rule,omitempty"`
	MeetingURL        string     `json:"meeting_url,omitempty"`
	Attendees         []Attendee `json:"attendees,omitempty"`
}

// Eligible reports whether a recording bot may be scheduled for the event:
// it must carry a join URL and the fetching user must be the organizer.
func (e CalendarEvent) Eligible() bool {
	return e.MeetingURL != "" && e.IsOrganizer
}

// ScheduleOutcome is the per-event result of a bot dispatch attempt,
// including all internal retries. Aggregated into batch counters, never
// persisted.
type ScheduleOutcome struct {
	Success bool
	Event   CalendarEvent
	BotID   string
	Error   string
}

// BotConfig is the payload handed to the recording-bot trigger for one event.
type BotConfig struct {
	MeetingURL string    `json:"meeting_url"`
	Title      string    `json:"title"`
	JoinAt     time.Time `json:"join_at"`
	EventUID   string    `json:"event_uid"`
}
