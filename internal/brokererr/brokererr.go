// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package brokererr defines the typed error taxonomy from spec.md §7
// (Error Taxonomy). Every error the core produces carries one of the Kind
// values below so that callers — the HTTP router, the CLI, and the client
// SDK — can decide how to react without parsing message strings, the way
// the teacher's reqres.ErrorCode distinguishes bad_request from
// server_fault.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

const (
	// KindUserDecision means a human explicitly denied the request.
	KindUserDecision Kind = "user_decision"
	// KindUserInput means the human supplied something the system could
	// not use (e.g. a master secret that fails to unlock the vault).
	KindUserInput Kind = "user_input"
	// KindProtocolFailure means the PAKE handshake or AEAD envelope was
	// malformed, mismatched, or failed authentication.
	KindProtocolFailure Kind = "protocol_failure"
	// KindSessionFailure means the pairing or session referenced no
	// longer exists or has expired.
	KindSessionFailure Kind = "session_failure"
	// KindVaultFailure means the vault driver itself errored or the
	// credential was not found.
	KindVaultFailure Kind = "vault_failure"
	// KindTransport means the underlying HTTP exchange failed.
	KindTransport Kind = "transport"
	// KindFatal means a condition the broker cannot recover from, e.g.
	// loss of local entropy source.
	KindFatal Kind = "fatal"
)

// Error is the concrete error type returned throughout the core. Op names
// the failing operation (e.g. "pairing.exchange"), Kind classifies it, and
// Reason is a short, human-safe description — never the secret material
// that caused the failure.
type Error struct {
	Op     string
	Kind   Kind
	Reason string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds an Error with no wrapped cause.
func New(op string, kind Kind, reason string) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason}
}

// Wrap builds an Error that wraps an underlying cause, preserving it for
// errors.Is/errors.As while still carrying a broker-level Kind.
func Wrap(op string, kind Kind, reason string, cause error) *Error {
	return &Error{Op: op, Kind: kind, Reason: reason, cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, defaulting
// to KindFatal for anything it does not recognize — an unclassified error
// must never be mistaken for a benign one.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindFatal
}
