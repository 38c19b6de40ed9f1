// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package vault

import "sync"

// exclusive enforces spec.md §5's "only one vault operation may be in
// flight at a time" rule with a second mutex distinct from the registry
// lock. Unlike the teacher's file-based lock.Lock/Unlock/IsLocked, which
// marks a durable on-disk state, this is purely an in-process gate: the
// vault driver here is a single shared external subprocess, not
// persisted state, so a plain mutex is the whole mechanism.
type exclusive struct {
	mu     sync.Mutex
	locked bool
}

// Lock blocks until the vault driver is free for exclusive use.
func (e *exclusive) Lock() {
	e.mu.Lock()
	e.locked = true
}

// Unlock releases exclusive use of the vault driver.
func (e *exclusive) Unlock() {
	e.locked = false
	e.mu.Unlock()
}

// IsLocked reports whether the vault driver is currently claimed. Racy by
// nature (for diagnostics only); callers must still go through Lock for
// correctness.
func (e *exclusive) IsLocked() bool {
	return e.locked
}
