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

// Package audit records who did what with which key. The dispatcher emits
// one event per request and the admin surfaces emit one per change to the
// key ring or the app registry.
//
// Adapter is the extension point; Memory is a bounded in-process adapter
// used by the server and by tests.
package audit

import (
	"context"
	"time"
)

// EventType categorizes an audit event.
type EventType string

const (
	// Operations requested by calling applications.
	EventCheckPermission EventType = "pgp.check_permission"
	EventSign            EventType = "pgp.sign"
	EventEncrypt         EventType = "pgp.encrypt"
	EventDecrypt         EventType = "pgp.decrypt"
	EventKeyLookup       EventType = "pgp.key_lookup"
	EventKeyExport       EventType = "pgp.key_export"
	EventBackup          EventType = "pgp.backup"
	EventInputSupplied   EventType = "pgp.input_supplied"

	// Key ring administration.
	EventKeyGenerate EventType = "key.generate"
	EventKeyImport   EventType = "key.import"
	EventKeyDelete   EventType = "key.delete"
	EventKeyVerify   EventType = "key.verify"
	EventKeyRevoke   EventType = "key.revoke"

	// App registry administration.
	EventAppRegister EventType = "app.register"
	EventAppDelete   EventType = "app.delete"
	EventAppAllow    EventType = "app.allow_keys"
	EventAppRevoke   EventType = "app.revoke_keys"
	EventAppAccount  EventType = "app.account"

	// Authentication at the transport.
	EventAuthFailure EventType = "auth.failure"
)

// Outcome is the result of the audited operation.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePending Outcome = "pending"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is one audit record.
type Event struct {
	ID        string
	Timestamp time.Time
	Type      EventType
	Outcome   Outcome

	// Principal is the calling application or admin identity.
	Principal string

	// KeyIDs are the keys the operation touched, as hex ids.
	KeyIDs []string

	// Action is the protocol action or admin command.
	Action string

	// Detail is the error message, or the input a pending result waits for.
	Detail string

	// RequestID is the correlation id of the request.
	RequestID string

	Metadata map[string]string
}

// Query filters events. Zero fields match everything.
type Query struct {
	Types     []EventType
	Outcomes  []Outcome
	Principal string
	KeyID     string
	RequestID string
	Since     time.Time
	Until     time.Time
	Limit     int
}

// Statistics summarizes the recorded events.
type Statistics struct {
	Total       int64
	ByType      map[EventType]int64
	ByOutcome   map[Outcome]int64
	ByPrincipal map[string]int64
}

// Adapter stores audit events.
type Adapter interface {
	// Log records event. ID and Timestamp are filled in when empty.
	Log(ctx context.Context, event *Event) error

	// Events returns the matching events, newest first.
	Events(ctx context.Context, query *Query) ([]*Event, error)

	// Event returns one event by id.
	Event(ctx context.Context, id string) (*Event, error)

	// Statistics summarizes every recorded event.
	Statistics(ctx context.Context) (*Statistics, error)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Log(context.Context, *Event) error                { return nil }
func (Nop) Events(context.Context, *Query) ([]*Event, error) { return nil, nil }
func (Nop) Event(context.Context, string) (*Event, error)    { return nil, ErrEventNotFound }
func (Nop) Statistics(context.Context) (*Statistics, error) {
	return &Statistics{}, nil
}
