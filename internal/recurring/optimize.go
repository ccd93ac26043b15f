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

// Package recurring collapses recurring series into a single schedulable
// occurrence and expands RRULE masters into window occurrences. A recurring
// meeting must not spawn one recording bot per future occurrence at sync
// time — only the next upcoming instance is scheduled, and later instances
// are picked up by the next sync cycle closer to their start.
package recurring

import "github.com/meetscribe/calsync/internal/models"

// Optimize reduces an event list to a deduplicated schedulable set: each
// recurring series keeps only its earliest occurrence, everything else
// passes through unchanged. Pure function — no side effects, input order
// is preserved for pass-through events and used to break start-time ties.
func Optimize(events []models.CalendarEvent) []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(events))
	earliest := make(map[string]models.CalendarEvent)
	var seriesOrder []string

	for _, e := range events {
		if !e.IsRecurring || e.RecurringSeriesID == "" {
			out = append(out, e)
			continue
		}

		cur, ok := earliest[e.RecurringSeriesID]
		if !ok {
			seriesOrder = append(seriesOrder, e.RecurringSeriesID)
			earliest[e.RecurringSeriesID] = e
			continue
		}

		// Strict Before keeps the first-encountered event on equal starts.
		if e.StartTime.Before(cur.StartTime) {
			earliest[e.RecurringSeriesID] = e
		}
	}

	for _, id := range seriesOrder {
		out = append(out, earliest[id])
	}

	return out
}
