// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package registry implements the PairingRegistry from spec.md §4.3: the
// in-process table of pending pairings (pre-exchange) and live sessions
// (post-exchange). All mutations are serialized under one mutex, per the
// single-mutex model spec.md §9 recommends for this workload — the lock
// is never held across a network or user-input wait; handlers copy out
// what they need and release it first.
package registry

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/credbroker/credbroker/internal/brokererr"
	"github.com/credbroker/credbroker/pkg/pake"
)

const (
	pairingCodeMin = 100000
	pairingCodeMax = 999999

	// sessionIDBytes is the raw entropy behind a session_id; 16 bytes is
	// 128 bits, the minimum spec.md §3 requires.
	sessionIDBytes = 16

	// defaults mirror spec.md §5's timing constants; New applies them
	// unless overridden by WithPairingTTL/WithSessionIdleTTL/WithNonceWindow.
	defaultPairingTTL     = 5 * time.Minute
	defaultSessionIdleTTL = 30 * time.Minute
	defaultNonceWindow    = 5 * time.Minute

	maxPairingRerolls = 64
)

// PendingPairing is a code issued at /pairing/initiate awaiting human
// confirmation and PAKE exchange.
type PendingPairing struct {
	PairingCode        string
	AgentID            string
	AgentName          string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	UserConfirmed      bool
	StashedClientMsg   []byte
}

// Session is live post-exchange state: the derived AEAD engine plus
// sliding-TTL bookkeeping and the nonce ledger used to reject replays.
type Session struct {
	SessionID  string
	AgentID    string
	AgentName  string
	Engine     *pake.Engine
	CreatedAt  time.Time
	LastAccess time.Time
	ExpiresAt  time.Time

	nonces map[string]time.Time
}

// SessionView is a read-only snapshot safe to copy out from under the
// registry lock before a handler suspends on user input or vault I/O.
type SessionView struct {
	SessionID string
	AgentID   string
	AgentName string
}

// Outcome is the tri-state result of Exchange.
type Outcome struct {
	Waiting bool
	// Success fields, valid when Waiting is false and Err is nil.
	SessionID      string
	ServerPakeMsg  []byte
	AgentID        string
	Err            error
}

// Registry holds pending pairings and live sessions under a single mutex.
type Registry struct {
	mu       sync.Mutex
	pairings map[string]*PendingPairing
	sessions map[string]*Session

	pairingTTL     time.Duration
	sessionIdleTTL time.Duration
	nonceWindow    time.Duration

	// onPairingCreated notifies the approver side that a new pairing
	// awaits confirmation; nil is a valid no-op collaborator for tests.
	onPairingCreated func(agentID, agentName, pairingCode string)
}

// Option configures a Registry built by New, for the timing knobs
// SPEC_FULL.md §2.3 exposes as viper settings (internal/config).
type Option func(*Registry)

// WithPairingTTL overrides the default pending-pairing lifetime.
func WithPairingTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.pairingTTL = d
		}
	}
}

// WithSessionIdleTTL overrides the default session idle timeout.
func WithSessionIdleTTL(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.sessionIdleTTL = d
		}
	}
}

// WithNonceWindow overrides the default nonce-replay retention window.
func WithNonceWindow(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.nonceWindow = d
		}
	}
}

// New builds an empty Registry. notify may be nil.
func New(notify func(agentID, agentName, pairingCode string), opts ...Option) *Registry {
	r := &Registry{
		pairings:         make(map[string]*PendingPairing),
		sessions:         make(map[string]*Session),
		onPairingCreated: notify,
		pairingTTL:       defaultPairingTTL,
		sessionIdleTTL:   defaultSessionIdleTTL,
		nonceWindow:      defaultNonceWindow,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreatePairing generates a fresh 6-digit code, unique among live
// pendings, and inserts a PendingPairing with the registry's pairing TTL
// (5 minutes unless overridden by WithPairingTTL).
func (r *Registry) CreatePairing(agentID, agentName string) (string, time.Time, error) {
	r.mu.Lock()

	code, err := r.rollUniqueCodeLocked()
	if err != nil {
		r.mu.Unlock()
		return "", time.Time{}, err
	}

	now := time.Now().UTC()
	expiresAt := now.Add(r.pairingTTL)
	r.pairings[code] = &PendingPairing{
		PairingCode: code,
		AgentID:     agentID,
		AgentName:   agentName,
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
	}
	r.sweepLocked(now)
	notify := r.onPairingCreated
	r.mu.Unlock()

	if notify != nil {
		notify(agentID, agentName, code)
	}
	return code, expiresAt, nil
}

func (r *Registry) rollUniqueCodeLocked() (string, error) {
	for i := 0; i < maxPairingRerolls; i++ {
		code, err := randomPairingCode()
		if err != nil {
			return "", err
		}
		if _, exists := r.pairings[code]; !exists {
			return code, nil
		}
	}
	return "", brokererr.New("registry.create_pairing", brokererr.KindFatal, "could not allocate a unique pairing code")
}

func randomPairingCode() (string, error) {
	span := uint32(pairingCodeMax - pairingCodeMin + 1)
	// Reject draws at or above the largest multiple of span so that n%span
	// is uniform over the range.
	limit := (1 << 32) / uint64(span) * uint64(span)
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			return "", fmt.Errorf("registry: entropy source failure: %w", err)
		}
		n := uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])
		if uint64(n) < limit {
			return fmt.Sprintf("%06d", pairingCodeMin+int(n%span)), nil
		}
	}
}

// MarkUserEntered flips UserConfirmed for the named pairing code. Returns
// false if no such pending pairing exists or it has already expired.
func (r *Registry) MarkUserEntered(pairingCode string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.pairings[pairingCode]
	if !ok {
		return false
	}
	if time.Now().UTC().After(p.ExpiresAt) {
		delete(r.pairings, pairingCode)
		return false
	}
	p.UserConfirmed = true
	return true
}

// Exchange implements the PAKE exchange handshake on the server side of a
// pending pairing. The client's PAKE message is stashed on first call and
// not recomputed on subsequent polls.
func (r *Registry) Exchange(pairingCode string, clientPakeMsg []byte) Outcome {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	r.sweepLocked(now)

	p, ok := r.pairings[pairingCode]
	if !ok {
		return Outcome{Err: brokererr.New("registry.exchange", brokererr.KindSessionFailure, "unknown or expired pairing code")}
	}

	if p.StashedClientMsg == nil {
		p.StashedClientMsg = append([]byte(nil), clientPakeMsg...)
	}

	if !p.UserConfirmed {
		return Outcome{Waiting: true}
	}

	// Pairing codes are one-shot regardless of outcome: always delete.
	defer delete(r.pairings, pairingCode)

	engine := pake.New(pake.RoleServer)
	serverMsg, err := engine.Start([]byte(pairingCode))
	if err != nil {
		return Outcome{Err: brokererr.Wrap("registry.exchange", brokererr.KindProtocolFailure, "server engine start failed", err)}
	}
	if err := engine.Finish(p.StashedClientMsg); err != nil {
		return Outcome{Err: brokererr.Wrap("registry.exchange", brokererr.KindProtocolFailure, "pake handshake rejected", err)}
	}

	sessionID, err := randomSessionID()
	if err != nil {
		return Outcome{Err: brokererr.Wrap("registry.exchange", brokererr.KindFatal, "session id generation failed", err)}
	}

	session := &Session{
		SessionID:  sessionID,
		AgentID:    p.AgentID,
		AgentName:  p.AgentName,
		Engine:     engine,
		CreatedAt:  now,
		LastAccess: now,
		ExpiresAt:  now.Add(r.sessionIdleTTL),
		nonces:     make(map[string]time.Time),
	}
	r.sessions[sessionID] = session

	return Outcome{
		SessionID:     sessionID,
		ServerPakeMsg: serverMsg,
		AgentID:       p.AgentID,
	}
}

func randomSessionID() (string, error) {
	buf := make([]byte, sessionIDBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("registry: entropy source failure: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// GetSessionView returns a copyable snapshot of a live session, or false
// if it does not exist or has expired. Callers that need to suspend
// (dispatcher wait, vault I/O) must use this instead of holding a *Session
// across the wait.
func (r *Registry) GetSessionView(sessionID string) (SessionView, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.liveSessionLocked(sessionID, time.Now().UTC())
	if !ok {
		return SessionView{}, false
	}
	return SessionView{SessionID: s.SessionID, AgentID: s.AgentID, AgentName: s.AgentName}, true
}

// StatusSnapshot is the data behind GET /session/status.
type StatusSnapshot struct {
	AgentID    string
	LastAccess time.Time
	ExpiresAt  time.Time
}

// Status returns session timestamps without sliding the TTL (spec.md §9
// Open Questions: status reads do not reset the idle timer).
func (r *Registry) Status(sessionID string) (StatusSnapshot, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.liveSessionLocked(sessionID, time.Now().UTC())
	if !ok {
		return StatusSnapshot{}, false
	}
	return StatusSnapshot{AgentID: s.AgentID, LastAccess: s.LastAccess, ExpiresAt: s.ExpiresAt}, true
}

func (r *Registry) liveSessionLocked(sessionID string, now time.Time) (*Session, bool) {
	s, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	if now.After(s.ExpiresAt) {
		delete(r.sessions, sessionID)
		return nil, false
	}
	return s, true
}

// Decrypt decrypts an authenticated request envelope under the named
// session's AEAD engine and reports the live session's AgentID/AgentName,
// without touching last_access — the caller slides the TTL only after
// nonce/timestamp validation succeeds (TouchSession).
func (r *Registry) Decrypt(sessionID string, ciphertext []byte) ([]byte, SessionView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.liveSessionLocked(sessionID, time.Now().UTC())
	if !ok {
		return nil, SessionView{}, brokererr.New("registry.decrypt", brokererr.KindSessionFailure, "session unknown or expired")
	}

	plaintext, err := s.Engine.Decrypt(ciphertext)
	if err != nil {
		return nil, SessionView{}, brokererr.Wrap("registry.decrypt", brokererr.KindProtocolFailure, "decrypt failed", err)
	}
	return plaintext, SessionView{SessionID: s.SessionID, AgentID: s.AgentID, AgentName: s.AgentName}, nil
}

// Encrypt encrypts a response envelope under the named session's engine.
func (r *Registry) Encrypt(sessionID string, plaintext []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.liveSessionLocked(sessionID, time.Now().UTC())
	if !ok {
		return nil, brokererr.New("registry.encrypt", brokererr.KindSessionFailure, "session unknown or expired")
	}
	ciphertext, err := s.Engine.Encrypt(plaintext)
	if err != nil {
		return nil, brokererr.Wrap("registry.encrypt", brokererr.KindProtocolFailure, "encrypt failed", err)
	}
	return ciphertext, nil
}

// CheckAndRecordNonce rejects a duplicate nonce within the registry's nonce
// window (5 minutes unless overridden by WithNonceWindow) and otherwise
// records it, pruning entries older than the window.
func (r *Registry) CheckAndRecordNonce(sessionID, nonce string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.liveSessionLocked(sessionID, time.Now().UTC())
	if !ok {
		return brokererr.New("registry.nonce", brokererr.KindSessionFailure, "session unknown or expired")
	}

	now := time.Now().UTC()
	for n, seenAt := range s.nonces {
		if now.Sub(seenAt) > r.nonceWindow {
			delete(s.nonces, n)
		}
	}
	if _, seen := s.nonces[nonce]; seen {
		return brokererr.New("registry.nonce", brokererr.KindProtocolFailure, "duplicate nonce")
	}
	s.nonces[nonce] = now
	return nil
}

// TouchSession updates last_access and slides expires_at forward by the
// idle TTL. Called after a successful authenticated request decrypt.
func (r *Registry) TouchSession(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.liveSessionLocked(sessionID, time.Now().UTC())
	if !ok {
		return
	}
	now := time.Now().UTC()
	s.LastAccess = now
	s.ExpiresAt = now.Add(r.sessionIdleTTL)
}

// Revoke deletes the session, if present, clearing its PakeEngine.
// Idempotent: a second call is a no-op.
func (r *Registry) Revoke(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[sessionID]
	if !ok {
		return
	}
	s.Engine.Drop()
	delete(r.sessions, sessionID)
}

// ActiveSessionCount reports the number of live (unexpired) sessions, for
// GET /health.
func (r *Registry) ActiveSessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(time.Now().UTC())
	return len(r.sessions)
}

// ActivePairingCount reports the number of pending (unconfirmed or
// awaiting exchange) pairings, for GET /health.
func (r *Registry) ActivePairingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sweepLocked(time.Now().UTC())
	return len(r.pairings)
}

// Sweep deletes every pending pairing and session whose expiry has
// passed. Safe to call on a periodic timer; idempotent given no
// intervening mutations.
func (r *Registry) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepLocked(time.Now().UTC())
}

func (r *Registry) sweepLocked(now time.Time) {
	for code, p := range r.pairings {
		if now.After(p.ExpiresAt) {
			delete(r.pairings, code)
		}
	}
	for id, s := range r.sessions {
		if now.After(s.ExpiresAt) {
			s.Engine.Drop()
			delete(r.sessions, id)
		}
	}
}
