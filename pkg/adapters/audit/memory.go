// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package audit

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxEvents bounds a Memory adapter built with a zero size.
const DefaultMaxEvents = 10000

var (
	ErrNilEvent      = errors.New("audit: nil event")
	ErrEventNotFound = errors.New("audit: event not found")
)

// Memory keeps the most recent events in memory. The oldest event is
// dropped once the limit is reached. Safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	events []*Event
	byID   map[string]*Event
	max    int
	clock  func() time.Time
}

// NewMemory returns an adapter holding at most max events.
func NewMemory(max int) *Memory {
	if max <= 0 {
		max = DefaultMaxEvents
	}
	return &Memory{
		events: make([]*Event, 0, 64),
		byID:   make(map[string]*Event),
		max:    max,
		clock:  time.Now,
	}
}

// Log implements Adapter.
func (m *Memory) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return ErrNilEvent
	}
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = m.clock()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) >= m.max {
		oldest := m.events[0]
		delete(m.byID, oldest.ID)
		m.events = m.events[1:]
	}
	m.events = append(m.events, event)
	m.byID[event.ID] = event
	return nil
}

// Events implements Adapter.
func (m *Memory) Events(ctx context.Context, query *Query) ([]*Event, error) {
	if query == nil {
		query = &Query{}
	}
	m.mu.RLock()
	var out []*Event
	for _, e := range m.events {
		if query.matches(e) {
			out = append(out, e)
		}
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if query.Limit > 0 && len(out) > query.Limit {
		out = out[:query.Limit]
	}
	return out, nil
}

// Event implements Adapter.
func (m *Memory) Event(ctx context.Context, id string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.byID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	return e, nil
}

// Statistics implements Adapter.
func (m *Memory) Statistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{
		ByType:      make(map[EventType]int64),
		ByOutcome:   make(map[Outcome]int64),
		ByPrincipal: make(map[string]int64),
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		stats.Total++
		stats.ByType[e.Type]++
		stats.ByOutcome[e.Outcome]++
		if e.Principal != "" {
			stats.ByPrincipal[e.Principal]++
		}
	}
	return stats, nil
}

// Len returns the number of retained events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (q *Query) matches(e *Event) bool {
	if len(q.Types) > 0 && !containsType(q.Types, e.Type) {
		return false
	}
	if len(q.Outcomes) > 0 && !containsOutcome(q.Outcomes, e.Outcome) {
		return false
	}
	if q.Principal != "" && e.Principal != q.Principal {
		return false
	}
	if q.KeyID != "" && !containsString(e.KeyIDs, q.KeyID) {
		return false
	}
	if q.RequestID != "" && e.RequestID != q.RequestID {
		return false
	}
	if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
		return false
	}
	return true
}

func containsType(types []EventType, t EventType) bool {
	for _, x := range types {
		if x == t {
			return true
		}
	}
	return false
}

func containsOutcome(outcomes []Outcome, o Outcome) bool {
	for _, x := range outcomes {
		if x == o {
			return true
		}
	}
	return false
}

func containsString(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
