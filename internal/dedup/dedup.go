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

// Package dedup provides event deduplication using Redis SETNX with TTL.
// It is a cheap pre-check in front of the meetings table's uniqueness
// constraint: refetching the same upcoming-event window every sync cycle
// would otherwise hit Postgres with a conflict per already-seen event.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen event. Sync windows span
	// a week, so a seen key only needs to outlive overlapping cycles.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "calsync:seen:"
)

// Filter tracks which calendar events have already been materialized.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the (calendar, event) pair has NOT been seen
// before. If true, the pair is marked as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, calendarID, eventUID string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", keyPrefix, calendarID, eventUID)

	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}
