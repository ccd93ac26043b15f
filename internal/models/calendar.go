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

// Package models defines the data structures shared across the calendar
// sync service.
package models

import "time"

// Supported calendar providers.
const (
	ProviderGoogle    = "google"
	ProviderMicrosoft = "microsoft"
)

// Calendar is a provider calendar persisted for an organization member.
// The ID is the provider's calendar identifier and acts as the primary key.
type Calendar struct {
	ID             string
	Name           string
	Email          string
	Provider       string
	ResourceID     string
	OrganizationID string
	OwnerID        string
	IsActive       *bool
	CreatedAt      time.Time
}

// RawCalendar is a calendar as reported by the Provider Gateway. It is
// never persisted; the reconciler only uses it to decide create-vs-skip.
type RawCalendar struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	ResourceID string `json:"resource_id,omitempty"`
}
