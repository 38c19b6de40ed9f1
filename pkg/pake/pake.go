// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package pake implements the PakeEngine from spec.md §4.1: one side of a
// SPAKE2 exchange over the Ristretto255 group (github.com/gtank/ristretto255,
// the same group library avahowell-occlude uses for OPAQUE) plus the AEAD
// that follows the exchange, built from XChaCha20-Poly1305 with an
// HKDF-SHA256-derived key — the construction other_examples' shurli invite
// handshake uses, generalized from X25519 to the Ristretto255 group so the
// password binds into the curve instead of being mixed in afterward.
//
// Engine state moves Fresh -> Started -> Ready exactly once; any call out
// of order is a ProtocolMisuse error, and no field is ever logged or
// compared in user-visible output.
package pake

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	ristretto "github.com/gtank/ristretto255"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/sha3"
)

// Role selects which fixed auxiliary point (M or N) an engine uses, per
// the SPAKE2 construction.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

type state int

const (
	stateFresh state = iota
	stateStarted
	stateReady
)

var (
	// ErrProtocolMisuse covers start/finish called out of order.
	ErrProtocolMisuse = errors.New("pake: protocol misuse")
	// ErrPakeFailure covers a rejected or malformed peer message during finish.
	ErrPakeFailure = errors.New("pake: handshake failed")
	// ErrNotReady covers encrypt/decrypt before finish has completed.
	ErrNotReady = errors.New("pake: engine not ready")
	// ErrDecryptFailure is returned, with no further detail, for any
	// tampered, truncated, or wrong-key ciphertext.
	ErrDecryptFailure = errors.New("pake: decrypt failed")
)

const hkdfInfo = "credbroker-spake2-v1"

// pointM and pointN are the fixed, nothing-up-my-sleeve auxiliary generators
// SPAKE2 mixes the password into, one per role so that a client message and
// a server message are never mutually replayable. They are derived once via
// hash-to-curve over fixed domain strings, identically on every engine.
var (
	pointM = hashToElement("credbroker-spake2-point-M")
	pointN = hashToElement("credbroker-spake2-point-N")
)

func hashToElement(label string) *ristretto.Element {
	h := sha3.Sum512([]byte(label))
	return new(ristretto.Element).FromUniformBytes(h[:])
}

// Engine is one side of a SPAKE2 exchange and the AEAD cipher derived from
// it. The zero value is not usable; build one with New.
type Engine struct {
	role  Role
	st    state
	x     *ristretto.Scalar // our ephemeral scalar
	w     *ristretto.Scalar // password scalar
	myMsg []byte            // our outgoing public element, encoded
	key   []byte            // derived 32-byte AEAD key, cleared on engine Drop
}

// New allocates a fresh engine for the given role.
func New(role Role) *Engine {
	return &Engine{role: role, st: stateFresh}
}

// Start supplies the password (the pairing code) and produces the public
// element to send to the peer. Must be called exactly once. password is
// zeroed before Start returns.
func (e *Engine) Start(password []byte) (outgoing []byte, err error) {
	defer zero(password)

	if e.st != stateFresh {
		return nil, fmt.Errorf("%w: start called out of order", ErrProtocolMisuse)
	}

	h := sha3.Sum512(password)
	e.w = new(ristretto.Scalar).FromUniformBytes(h[:])

	var xb [64]byte
	if _, randErr := io.ReadFull(rand.Reader, xb[:]); randErr != nil {
		return nil, fmt.Errorf("pake: entropy source failure: %w", randErr)
	}
	e.x = new(ristretto.Scalar).FromUniformBytes(xb[:])

	aux := auxPoint(e.role)
	pub := new(ristretto.Element).ScalarBaseMult(e.x)
	blind := new(ristretto.Element).ScalarMult(e.w, aux)
	pub.Add(pub, blind)

	e.myMsg = pub.Encode(nil)
	e.st = stateStarted

	out := make([]byte, len(e.myMsg))
	copy(out, e.myMsg)
	return out, nil
}

// Finish consumes the peer's public element, derives the shared AEAD key,
// and transitions the engine to Ready.
func (e *Engine) Finish(incoming []byte) error {
	if e.st != stateStarted {
		return fmt.Errorf("%w: finish called before start or twice", ErrProtocolMisuse)
	}

	peer := new(ristretto.Element)
	if err := peer.Decode(incoming); err != nil {
		return fmt.Errorf("%w: malformed peer message", ErrPakeFailure)
	}

	peerAux := auxPoint(otherRole(e.role))
	blind := new(ristretto.Element).ScalarMult(e.w, peerAux)
	unblinded := new(ristretto.Element).Subtract(peer, blind)

	shared := new(ristretto.Element).ScalarMult(e.x, unblinded)
	sharedBytes := shared.Encode(nil)

	transcript := transcriptFor(e.role, e.myMsg, incoming)

	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, sharedBytes, transcript, []byte(hkdfInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return fmt.Errorf("%w: key derivation failed", ErrPakeFailure)
	}

	zero(sharedBytes)
	e.w = nil
	e.x = nil
	e.key = key
	e.st = stateReady
	return nil
}

// IsReady reports whether Finish has completed successfully.
func (e *Engine) IsReady() bool {
	return e.st == stateReady
}

// Encrypt authenticates and encrypts plaintext, returning a nonce-prefixed
// ciphertext. Each call produces a distinct ciphertext for the same input.
func (e *Engine) Encrypt(plaintext []byte) ([]byte, error) {
	if !e.IsReady() {
		return nil, ErrNotReady
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, fmt.Errorf("pake: aead init failed: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("pake: nonce generation failed: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt verifies the tag and returns the plaintext. Any tampering,
// truncation, or wrong-key ciphertext yields ErrDecryptFailure with no
// further detail.
func (e *Engine) Decrypt(ciphertext []byte) ([]byte, error) {
	if !e.IsReady() {
		return nil, ErrNotReady
	}

	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, fmt.Errorf("pake: aead init failed: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrDecryptFailure
	}

	nonce, sealed := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, ErrDecryptFailure
	}
	return plaintext, nil
}

// Drop clears the derived AEAD key. Callers should defer Drop immediately
// after constructing an Engine whose session may be revoked.
func (e *Engine) Drop() {
	zero(e.key)
	e.key = nil
	e.st = stateFresh
}

// String never renders key material.
func (e *Engine) String() string {
	return "[REDACTED]"
}

func auxPoint(r Role) *ristretto.Element {
	if r == RoleClient {
		return pointM
	}
	return pointN
}

func otherRole(r Role) Role {
	if r == RoleClient {
		return RoleServer
	}
	return RoleClient
}

// transcriptFor orders the two public messages the same way regardless of
// which side is computing it, so both engines derive an identical key.
func transcriptFor(role Role, ours, theirs []byte) []byte {
	var clientMsg, serverMsg []byte
	if role == RoleClient {
		clientMsg, serverMsg = ours, theirs
	} else {
		clientMsg, serverMsg = theirs, ours
	}
	out := make([]byte, 0, len(clientMsg)+len(serverMsg))
	out = append(out, clientMsg...)
	out = append(out, serverMsg...)
	return out
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
