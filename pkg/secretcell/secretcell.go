// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package secretcell implements the owned, deterministically-cleared
// in-memory secret container from spec.md §4.2. A Cell takes ownership of
// a byte buffer, hands out read-only borrows while live, and guarantees
// the buffer is overwritten exactly once — on an explicit Clear call or on
// exit from a scope opened with WithScope. Nothing in this package ever
// formats, logs, or compares cell contents; String always renders
// "[REDACTED]".
package secretcell

import (
	"errors"
	"sync"
)

// ErrCleared is returned by Borrow once the cell has been cleared.
var ErrCleared = errors.New("secretcell: cleared")

const wipeByte = 0

// Cell owns a sensitive byte buffer. The zero value is not usable; build
// one with New.
type Cell struct {
	mu      sync.Mutex
	buf     []byte
	cleared bool
}

// New takes ownership of buf. The caller must not retain an alias to buf;
// retain the returned *Cell instead.
func New(buf []byte) *Cell {
	return &Cell{buf: buf}
}

// Borrow returns a read-only view of the buffer valid for as long as the
// cell remains un-cleared. The returned slice aliases the cell's storage;
// callers must not retain it past the call that required it.
func (c *Cell) Borrow() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleared {
		return nil, ErrCleared
	}
	return c.buf, nil
}

// Clear overwrites the buffer with a constant byte and marks the cell
// cleared. Idempotent: calling it again is a no-op.
func (c *Cell) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cleared {
		return
	}
	for i := range c.buf {
		c.buf[i] = wipeByte
	}
	c.buf = nil
	c.cleared = true
}

// Cleared reports whether Clear has already run.
func (c *Cell) Cleared() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleared
}

// String never exposes cell contents, cleared or not.
func (c *Cell) String() string {
	return "[REDACTED]"
}

// WithScope takes ownership of buf, runs fn with the resulting cell, and
// guarantees Clear runs exactly once on every exit from fn — normal
// return or panic. The broker never relies on a caller remembering to
// call Clear manually; this is the release-action pattern spec.md §9
// mandates for every sensitive-resource acquisition.
func WithScope(buf []byte, fn func(*Cell) error) error {
	cell := New(buf)
	defer cell.Clear()
	return fn(cell)
}
