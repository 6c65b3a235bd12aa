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
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestMemory_Log(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		event := &Event{
			Type:      EventSign,
			Outcome:   OutcomeSuccess,
			Principal: "org.example.mail",
			KeyIDs:    []string{"00000000000000AB"},
			Action:    "detached_sign",
		}
		if err := m.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if event.ID == "" {
			t.Error("event id was not generated")
		}
		if event.Timestamp.IsZero() {
			t.Error("event timestamp was not set")
		}

		got, err := m.Event(ctx, event.ID)
		if err != nil {
			t.Fatalf("Event failed: %v", err)
		}
		if got.Type != EventSign {
			t.Errorf("expected type %s, got %s", EventSign, got.Type)
		}
	})

	t.Run("NilEvent", func(t *testing.T) {
		if err := m.Log(ctx, nil); !errors.Is(err, ErrNilEvent) {
			t.Errorf("expected ErrNilEvent, got %v", err)
		}
	})

	t.Run("CustomIDAndTimestamp", func(t *testing.T) {
		ts := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
		event := &Event{ID: "custom", Timestamp: ts, Type: EventKeyImport, Outcome: OutcomeSuccess}
		if err := m.Log(ctx, event); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
		if event.ID != "custom" || !event.Timestamp.Equal(ts) {
			t.Errorf("caller supplied id and timestamp were replaced: %s %v", event.ID, event.Timestamp)
		}
	})
}

func TestMemory_Bounded(t *testing.T) {
	m := NewMemory(3)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := m.Log(ctx, &Event{ID: fmt.Sprint(i), Type: EventEncrypt}); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 retained events, got %d", m.Len())
	}
	if _, err := m.Event(ctx, "0"); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("oldest event should have been dropped, got %v", err)
	}
	if _, err := m.Event(ctx, "4"); err != nil {
		t.Errorf("newest event missing: %v", err)
	}
}

func TestMemory_Events(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	events := []*Event{
		{Type: EventSign, Outcome: OutcomeSuccess, Principal: "org.a", KeyIDs: []string{"K1"}, RequestID: "r1"},
		{Type: EventSign, Outcome: OutcomePending, Principal: "org.a", KeyIDs: []string{"K1"}, RequestID: "r2"},
		{Type: EventDecrypt, Outcome: OutcomeFailure, Principal: "org.b", KeyIDs: []string{"K2"}, RequestID: "r3"},
		{Type: EventAppRegister, Outcome: OutcomeSuccess, Principal: "admin"},
	}
	for i, e := range events {
		e.Timestamp = base.Add(time.Duration(i) * time.Minute)
		if err := m.Log(ctx, e); err != nil {
			t.Fatalf("Log failed: %v", err)
		}
	}

	tests := []struct {
		name  string
		query *Query
		want  int
	}{
		{"All", nil, 4},
		{"ByType", &Query{Types: []EventType{EventSign}}, 2},
		{"ByOutcome", &Query{Outcomes: []Outcome{OutcomeFailure, OutcomePending}}, 2},
		{"ByPrincipal", &Query{Principal: "org.b"}, 1},
		{"ByKey", &Query{KeyID: "K1"}, 2},
		{"ByRequest", &Query{RequestID: "r2"}, 1},
		{"Since", &Query{Since: base.Add(2 * time.Minute)}, 2},
		{"Until", &Query{Until: base.Add(time.Minute)}, 2},
		{"Limit", &Query{Limit: 1}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Events(ctx, tt.query)
			if err != nil {
				t.Fatalf("Events failed: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}

	all, _ := m.Events(ctx, nil)
	if all[0].Type != EventAppRegister {
		t.Errorf("expected newest first, got %s", all[0].Type)
	}
}

func TestMemory_Statistics(t *testing.T) {
	m := NewMemory(0)
	ctx := context.Background()
	_ = m.Log(ctx, &Event{Type: EventSign, Outcome: OutcomeSuccess, Principal: "org.a"})
	_ = m.Log(ctx, &Event{Type: EventSign, Outcome: OutcomeFailure, Principal: "org.a"})
	_ = m.Log(ctx, &Event{Type: EventBackup, Outcome: OutcomePending})

	stats, err := m.Statistics(ctx)
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 3 {
		t.Errorf("expected 3 events, got %d", stats.Total)
	}
	if stats.ByType[EventSign] != 2 {
		t.Errorf("expected 2 sign events, got %d", stats.ByType[EventSign])
	}
	if stats.ByOutcome[OutcomePending] != 1 {
		t.Errorf("expected 1 pending event, got %d", stats.ByOutcome[OutcomePending])
	}
	if stats.ByPrincipal["org.a"] != 2 {
		t.Errorf("expected 2 events for org.a, got %d", stats.ByPrincipal["org.a"])
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	m := NewMemory(100)
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = m.Log(ctx, &Event{Type: EventEncrypt, Outcome: OutcomeSuccess})
				_, _ = m.Events(ctx, &Query{Limit: 5})
			}
		}()
	}
	wg.Wait()
	if m.Len() != 100 {
		t.Errorf("expected the adapter to hold 100 events, got %d", m.Len())
	}
}

func TestNop(t *testing.T) {
	var a Adapter = Nop{}
	if err := a.Log(context.Background(), &Event{}); err != nil {
		t.Errorf("Nop.Log returned %v", err)
	}
	if _, err := a.Event(context.Background(), "x"); !errors.Is(err, ErrEventNotFound) {
		t.Errorf("expected ErrEventNotFound, got %v", err)
	}
}
