// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package net provides the low-level HTTP plumbing the router builds on:
// reading request bodies, marshaling and writing JSON responses with
// cache-invalidation headers, a generic fallback for unmatched routes, and
// a thin wrapper around http.HandlerFunc. None of it knows about pairing,
// sessions, or vaults — that is the router's job.
package net
