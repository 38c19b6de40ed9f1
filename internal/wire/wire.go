// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package wire defines the JSON request/response bodies for every
// endpoint in spec.md §6 (External Interfaces). Types here are pure data:
// no behavior, no secret fields beyond what the wire protocol itself
// requires to carry (encrypted payloads are opaque base64 blobs from this
// package's point of view — only PakeEngine ever sees plaintext).
package wire

// PairingInitiateRequest is the body of POST /pairing/initiate.
type PairingInitiateRequest struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
}

// PairingInitiateResponse is the 200 body of POST /pairing/initiate.
type PairingInitiateResponse struct {
	PairingCode string `json:"pairing_code"`
	ExpiresAt   string `json:"expires_at"`
}

// PairingExchangeRequest is the body of POST /pairing/exchange.
type PairingExchangeRequest struct {
	PairingCode string `json:"pairing_code"`
	PakeMessage string `json:"pake_message"`
}

// PairingExchangeResponse is the 200 body of POST /pairing/exchange.
type PairingExchangeResponse struct {
	SessionID   string `json:"session_id"`
	PakeMessage string `json:"pake_message"`
	AgentID     string `json:"agent_id"`
}

// PairingWaitingResponse is the 202 body of POST /pairing/exchange.
type PairingWaitingResponse struct {
	Status string `json:"status"`
}

// CredentialRequestBody is the body of POST /credential/request.
type CredentialRequestBody struct {
	SessionID        string `json:"session_id"`
	EncryptedPayload string `json:"encrypted_payload"`
}

// CredentialEnvelope is the decrypted payload carried inside
// CredentialRequestBody.EncryptedPayload (spec.md §3, CredentialRequest).
type CredentialEnvelope struct {
	Domain    string `json:"domain"`
	Reason    string `json:"reason"`
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// CredentialResponseBody is the 200 body of POST /credential/request, for
// the "approved", "denied" and "not_found" statuses alike.
type CredentialResponseBody struct {
	Status           string `json:"status"`
	EncryptedPayload string `json:"encrypted_payload,omitempty"`
	Error            string `json:"error,omitempty"`
}

// CredentialEnvelopeResponse is the decrypted payload carried inside
// CredentialResponseBody.EncryptedPayload (spec.md §3, CredentialResponse).
type CredentialEnvelopeResponse struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Timestamp string `json:"timestamp"`
	Nonce     string `json:"nonce"`
}

// SessionRevokeRequest is the body of POST /session/revoke.
type SessionRevokeRequest struct {
	SessionID string `json:"session_id"`
}

// SessionRevokeResponse is the body of POST /session/revoke.
type SessionRevokeResponse struct {
	Revoked   bool   `json:"revoked"`
	SessionID string `json:"session_id"`
}

// SessionStatusResponse is the 200 body of GET /session/status.
type SessionStatusResponse struct {
	Active     bool   `json:"active"`
	AgentID    string `json:"agent_id"`
	LastAccess string `json:"last_access"`
	ExpiresAt  string `json:"expires_at"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	ActivePairings int    `json:"active_pairings"`
}

// ErrorResponse is the generic {"error": "..."} body used by 400/401/500
// replies throughout the router.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Status values used in CredentialResponseBody.Status and
// PairingWaitingResponse.Status.
const (
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusNotFound = "not_found"
	StatusWaiting  = "waiting"
)
