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

package recurring

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/meetscribe/calsync/internal/models"
)

// ExpandMasters replaces series masters carrying an RRULE with their
// occurrences inside [windowStart, windowEnd). Some providers return only
// the master event for a recurring series; without expansion the pipeline
// would schedule a bot for the master's (possibly past) start time.
//
// Events without an RRULE pass through unchanged. A master whose rule
// fails to parse also passes through unchanged — a bot at the wrong time
// beats a silently dropped meeting.
func ExpandMasters(events []models.CalendarEvent, windowStart, windowEnd time.Time) []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(events))

	for _, e := range events {
		if e.RecurrenceRule == "" {
			out = append(out, e)
			continue
		}

		starts, err := ruleStarts(e, windowStart, windowEnd)
		if err != nil {
			slog.Warn("recurrence rule parse failed, keeping master as-is",
				"event", e.UID,
				"rule", e.RecurrenceRule,
				"error", err,
			)
			out = append(out, e)
			continue
		}

		duration := e.EndTime.Sub(e.StartTime)
		if duration <= 0 {
			duration = 30 * time.Minute
		}

		for _, start := range starts {
			occ := e
			occ.UID = fmt.Sprintf("%s_%d", e.UID, start.Unix())
			occ.StartTime = start
			occ.EndTime = start.Add(duration)
			occ.RecurrenceRule = ""
			occ.IsRecurring = true
			if occ.RecurringSeriesID == "" {
				occ.RecurringSeriesID = e.UID
			}
			out = append(out, occ)
		}
	}

	return out
}

// ruleStarts expands an event's RRULE into start times within the window.
func ruleStarts(e models.CalendarEvent, windowStart, windowEnd time.Time) ([]time.Time, error) {
	opt, err := rrule.StrToROption(e.RecurrenceRule)
	if err != nil {
		return nil, err
	}

	opt.Dtstart = e.StartTime
	rule, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, err
	}

	return rule.Between(windowStart, windowEnd, true), nil
}
