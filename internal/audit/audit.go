// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package audit implements the append-only event log described in
// spec.md §6 ("Persisted state layout"): one JSON line per lifecycle
// event, fields limited to {trail_id, timestamp, event kind, agent_id,
// domain, short reason, session_id}. It never carries credential bytes, AEAD keys, or vault
// master-secret bytes — the Entry type simply has no field that could
// hold them.
//
// Audit logging is treated as a collaborator (spec.md §9, Open Questions):
// the broker depends on the Sink interface, not a concrete writer, so a
// different destination (syslog, a message bus) can be substituted without
// touching the core.
package audit

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates the audit event vocabulary from spec.md §6 plus the
// pairing/session lifecycle events this expansion adds (SPEC_FULL.md §2.1).
type Kind string

const (
	KindRequest          Kind = "REQUEST"
	KindApproved         Kind = "APPROVED"
	KindDenied           Kind = "DENIED"
	KindSuccess          Kind = "SUCCESS"
	KindNotFound         Kind = "NOT_FOUND"
	KindError            Kind = "ERROR"
	KindRevoked          Kind = "REVOKED"
	KindPairingCreated   Kind = "PAIRING_CREATED"
	KindPairingConfirmed Kind = "PAIRING_CONFIRMED"
	KindSessionCreated   Kind = "SESSION_CREATED"
	KindSessionExpired   Kind = "SESSION_EXPIRED"
)

// Entry is one audit line. Every field is safe to persist and safe to
// show to an operator; nothing here is secret material.
type Entry struct {
	TrailID   string    `json:"trail_id"`
	Timestamp time.Time `json:"timestamp"`
	Kind      Kind      `json:"event"`
	AgentID   string    `json:"agent_id,omitempty"`
	Domain    string    `json:"domain,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
}

// Sink receives finished audit entries. The default Record below writes
// JSON lines to the process log; tests substitute an in-memory Sink.
type Sink interface {
	Write(Entry)
}

// WriterFunc adapts a function to the Sink interface.
type WriterFunc func(Entry)

func (f WriterFunc) Write(e Entry) { f(e) }

var (
	mu  sync.Mutex
	snk Sink = WriterFunc(writeJSONLine)
)

func writeJSONLine(e Entry) {
	body, err := json.Marshal(e)
	if err != nil {
		log.Printf("audit: failed to marshal entry: %v", err)
		return
	}
	log.Println(string(body))
}

// SetSink replaces the process-wide audit sink. Intended for tests and for
// wiring an alternate collaborator at startup.
func SetSink(s Sink) {
	mu.Lock()
	defer mu.Unlock()
	snk = s
}

// NewTrailID returns a fresh identifier correlating the entries of one
// request across its lifecycle (REQUEST -> APPROVED/DENIED/ERROR).
func NewTrailID() string {
	return uuid.NewString()
}

// Record timestamps and dispatches an entry to the current sink.
func Record(e Entry) {
	mu.Lock()
	s := snk
	mu.Unlock()

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.Write(e)
}
