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

import (
	"time"

	"github.com/google/uuid"
)

// Meeting is a persisted recording target created from a calendar event.
// BotID stays empty until a bot is scheduled; the completion pipeline
// flips Analysed once the recording has been processed.
type Meeting struct {
	ID             uuid.UUID
	Title          string
	HostEmail      string
	MeetingDate    time.Time
	JoinURL        string
	Participants   []string
	DurationMins   int
	CalendarID     string
	SourceEventID  string
	BotID          string
	Analysed       bool
	OrganizationID string
	UserID         string
	Metadata       []byte
	CreatedAt      time.Time
}
