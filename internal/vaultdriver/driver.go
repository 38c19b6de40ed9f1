// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package vaultdriver declares the opaque vault contract from spec.md §6:
// the specific password-vault backend is deliberately out of scope, kept
// behind this three-operation interface so VaultOrchestrator never embeds
// backend-specific parsing beyond "find the first login item with both
// username and password populated" (spec.md §9).
package vaultdriver

import "context"

// Item is one entry a vault list/search returns. Type distinguishes login
// items from notes, cards, and so on; only login items with both
// credential fields populated are eligible for brokerage.
type Item struct {
	Type     string
	Username string
	Password string
}

// WrongMasterError is returned by Unlock when the master secret itself is
// rejected, distinct from any other driver failure.
type WrongMasterError struct {
	Cause error
}

func (e *WrongMasterError) Error() string { return "vaultdriver: wrong master secret" }
func (e *WrongMasterError) Unwrap() error { return e.Cause }

// Driver is the opaque external collaborator the broker transacts with.
// A real implementation typically shells out to a vault CLI as a
// subprocess; the master secret bytes are passed via a channel that never
// appears in that subprocess's argument list (spec.md §6).
type Driver interface {
	// Unlock exchanges the master secret for an opaque session handle.
	// Returns *WrongMasterError if the secret itself was rejected.
	Unlock(ctx context.Context, masterSecret []byte) (sessionHandle string, err error)

	// List searches for items matching search under the given unlocked
	// session handle.
	List(ctx context.Context, search, sessionHandle string) ([]Item, error)

	// Lock invalidates the session handle. Must be safe to call even if
	// the handle is already invalid (idempotent from the broker's view).
	Lock(ctx context.Context, sessionHandle string) error
}
