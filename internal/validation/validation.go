// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package validation provides the request-field validators spec.md §3 and
// §4.4 require before a pairing or credential request is allowed into the
// registry: agent identifiers, the timestamp freshness window, and nonce
// shape. Validators return a *brokererr.Error with KindUserInput or
// KindProtocolFailure rather than terminating the process — these are
// ordinary request-shaped failures, not programming errors.
package validation

import (
	"encoding/hex"
	"strconv"
	"time"
	"unicode"

	"github.com/credbroker/credbroker/internal/brokererr"
)

const (
	maxAgentIDLen   = 128
	maxAgentNameLen = 128
	maxReasonLen    = 200
	maxDomainLen    = 253
	minNonceHexLen  = 16

	// RequestWindow is the timestamp freshness tolerance from spec.md §5:
	// a request timestamped exactly 300s old is accepted, 301s is not.
	RequestWindow = 5 * time.Minute
)

func isPrintable(s string) bool {
	for _, r := range s {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// AgentID validates agent_id: non-empty, printable, ≤128 chars.
func AgentID(s string) error {
	if s == "" || len(s) > maxAgentIDLen || !isPrintable(s) {
		return brokererr.New("validation.agent_id", brokererr.KindUserInput, "agent_id missing or invalid")
	}
	return nil
}

// AgentName validates agent_name: non-empty, printable, ≤128 chars.
func AgentName(s string) error {
	if s == "" || len(s) > maxAgentNameLen || !isPrintable(s) {
		return brokererr.New("validation.agent_name", brokererr.KindUserInput, "agent_name missing or invalid")
	}
	return nil
}

// Reason validates the credential-request reason: printable, ≤200 chars.
// Empty is allowed; the field is advisory, shown to the approving human.
func Reason(s string) error {
	if len(s) > maxReasonLen || !isPrintable(s) {
		return brokererr.New("validation.reason", brokererr.KindUserInput, "reason invalid")
	}
	return nil
}

// Domain validates the credential-request domain's length and character
// set before it ever reaches the vault orchestrator.
func Domain(s string) error {
	if s == "" || len(s) > maxDomainLen {
		return brokererr.New("validation.domain", brokererr.KindUserInput, "domain length out of bounds")
	}
	for _, r := range s {
		alnum := unicode.IsLetter(r) || unicode.IsDigit(r)
		if !alnum && r != '.' && r != '-' {
			return brokererr.New("validation.domain", brokererr.KindUserInput, "domain contains invalid characters")
		}
	}
	return nil
}

// NonceHex validates the nonce field: hex-encoded, at least 64 bits
// (16 hex chars) of entropy.
func NonceHex(s string) error {
	if len(s) < minNonceHexLen {
		return brokererr.New("validation.nonce", brokererr.KindProtocolFailure, "nonce too short")
	}
	if _, err := hex.DecodeString(s); err != nil {
		return brokererr.New("validation.nonce", brokererr.KindProtocolFailure, "nonce not hex-encoded")
	}
	return nil
}

// Timestamp parses an ISO-8601 UTC timestamp and checks it is within
// window of now (spec.md §5, §8 boundary: exactly 300s old is accepted,
// 301s is rejected, with window defaulting to RequestWindow at 5 minutes).
// window <= 0 falls back to RequestWindow, so callers that haven't been
// threaded through a configured value still get the spec default.
func Timestamp(s string, now time.Time, window time.Duration) (time.Time, error) {
	if window <= 0 {
		window = RequestWindow
	}

	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, brokererr.Wrap("validation.timestamp", brokererr.KindProtocolFailure, "timestamp not ISO-8601", err)
	}
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	if age > window {
		return time.Time{}, brokererr.New("validation.timestamp", brokererr.KindProtocolFailure, "stale timestamp")
	}
	return ts, nil
}

// PairingCode validates the 6-digit code shape (spec.md §3): exactly six
// ASCII digits, no leading zero by construction of the generator, but
// validated here for input received from the wire regardless.
func PairingCode(s string) error {
	if len(s) != 6 {
		return brokererr.New("validation.pairing_code", brokererr.KindUserInput, "pairing code must be six digits")
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 100000 || n > 999999 {
		return brokererr.New("validation.pairing_code", brokererr.KindUserInput, "pairing code out of range")
	}
	return nil
}
