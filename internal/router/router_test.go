// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/credbroker/credbroker/internal/dispatcher"
	"github.com/credbroker/credbroker/internal/vault"
	"github.com/credbroker/credbroker/internal/vaultdriver"
	"github.com/credbroker/credbroker/internal/wire"
	"github.com/credbroker/credbroker/pkg/pake"
	"github.com/credbroker/credbroker/pkg/registry"
	"github.com/credbroker/credbroker/pkg/secretcell"
	"github.com/stretchr/testify/require"
)

type fakePrompter struct {
	approve bool
	secret  string
}

func (f *fakePrompter) PromptUser(ctx context.Context, session registry.SessionView, domain, reason string) (bool, error) {
	return f.approve, nil
}

func (f *fakePrompter) CollectMasterSecret(ctx context.Context) (*secretcell.Cell, error) {
	return secretcell.New([]byte(f.secret)), nil
}

type stubDriver struct {
	acceptSecret string
	items        []vaultdriver.Item
}

func (d *stubDriver) Unlock(ctx context.Context, secret []byte) (string, error) {
	if string(secret) != d.acceptSecret {
		return "", &vaultdriver.WrongMasterError{}
	}
	return "handle", nil
}

func (d *stubDriver) List(ctx context.Context, search, handle string) ([]vaultdriver.Item, error) {
	return d.items, nil
}

func (d *stubDriver) Lock(ctx context.Context, handle string) error { return nil }

func newTestRouter(prompter dispatcher.Prompter, driver vaultdriver.Driver) (*Router, *registry.Registry) {
	reg := registry.New(nil)
	orch := vault.New(driver)
	disp := dispatcher.New(prompter, orch, 2*time.Second)
	rt := New(reg, disp, "127.0.0.1:0", time.Minute)
	return rt, reg
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(b))
	} else {
		reader = strings.NewReader("")
	}
	r := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// pairAgent drives a full pairing handshake against the router exactly as
// the client SDK would, returning the live session_id and a ready client
// pake.Engine.
func pairAgent(t *testing.T, rt *Router, reg *registry.Registry) (string, *pake.Engine) {
	t.Helper()

	w := doJSON(t, rt.Handler(), http.MethodPost, "/pairing/initiate", wire.PairingInitiateRequest{
		AgentID: "flight-001", AgentName: "Flight Agent",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var initRes wire.PairingInitiateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &initRes))
	require.Len(t, initRes.PairingCode, 6)

	client := pake.New(pake.RoleClient)
	clientMsg, err := client.Start([]byte(initRes.PairingCode))
	require.NoError(t, err)

	// First poll: user has not confirmed yet.
	w = doJSON(t, rt.Handler(), http.MethodPost, "/pairing/exchange", wire.PairingExchangeRequest{
		PairingCode: initRes.PairingCode, PakeMessage: encodeB64(clientMsg),
	})
	require.Equal(t, http.StatusAccepted, w.Code)

	require.True(t, reg.MarkUserEntered(initRes.PairingCode))

	w = doJSON(t, rt.Handler(), http.MethodPost, "/pairing/exchange", wire.PairingExchangeRequest{
		PairingCode: initRes.PairingCode, PakeMessage: encodeB64(clientMsg),
	})
	require.Equal(t, http.StatusOK, w.Code)
	var exchRes wire.PairingExchangeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exchRes))
	require.NotEmpty(t, exchRes.SessionID)

	serverMsg, err := decodeB64(exchRes.PakeMessage)
	require.NoError(t, err)
	require.NoError(t, client.Finish(serverMsg))

	return exchRes.SessionID, client
}

func encryptedEnvelope(t *testing.T, client *pake.Engine, domain, reason string) string {
	t.Helper()
	env := wire.CredentialEnvelope{
		Domain:    domain,
		Reason:    reason,
		AgentID:   "flight-001",
		AgentName: "Flight Agent",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Nonce:     hex.EncodeToString([]byte("0123456789abcdef")),
	}
	plaintext, err := json.Marshal(env)
	require.NoError(t, err)
	ciphertext, err := client.Encrypt(plaintext)
	require.NoError(t, err)
	return encodeB64(ciphertext)
}

func TestHappyPath_PairThenApprovedCredential(t *testing.T) {
	driver := &stubDriver{acceptSecret: "vault-master", items: []vaultdriver.Item{
		{Type: "login", Username: "alice", Password: "hunter2"},
	}}
	rt, reg := newTestRouter(&fakePrompter{approve: true, secret: "vault-master"}, driver)

	sessionID, client := pairAgent(t, rt, reg)

	w := doJSON(t, rt.Handler(), http.MethodPost, "/credential/request", wire.CredentialRequestBody{
		SessionID:        sessionID,
		EncryptedPayload: encryptedEnvelope(t, client, "airline.example", "book a flight"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res wire.CredentialResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, wire.StatusApproved, res.Status)

	ciphertext, err := decodeB64(res.EncryptedPayload)
	require.NoError(t, err)
	plaintext, err := client.Decrypt(ciphertext)
	require.NoError(t, err)

	var envRes wire.CredentialEnvelopeResponse
	require.NoError(t, json.Unmarshal(plaintext, &envRes))
	require.Equal(t, "alice", envRes.Username)
	require.Equal(t, "hunter2", envRes.Password)
}

func TestDeniedCredential(t *testing.T) {
	rt, reg := newTestRouter(&fakePrompter{approve: false}, &stubDriver{})
	sessionID, client := pairAgent(t, rt, reg)

	w := doJSON(t, rt.Handler(), http.MethodPost, "/credential/request", wire.CredentialRequestBody{
		SessionID:        sessionID,
		EncryptedPayload: encryptedEnvelope(t, client, "airline.example", "book a flight"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res wire.CredentialResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, wire.StatusDenied, res.Status)
}

func TestNotFoundCredential(t *testing.T) {
	driver := &stubDriver{acceptSecret: "vault-master"}
	rt, reg := newTestRouter(&fakePrompter{approve: true, secret: "vault-master"}, driver)
	sessionID, client := pairAgent(t, rt, reg)

	w := doJSON(t, rt.Handler(), http.MethodPost, "/credential/request", wire.CredentialRequestBody{
		SessionID:        sessionID,
		EncryptedPayload: encryptedEnvelope(t, client, "unknown.example", "book a flight"),
	})
	require.Equal(t, http.StatusOK, w.Code)

	var res wire.CredentialResponseBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, wire.StatusNotFound, res.Status)
}

func TestWrongPairingCodeNeverConfirms(t *testing.T) {
	rt, reg := newTestRouter(&fakePrompter{approve: true}, &stubDriver{})

	w := doJSON(t, rt.Handler(), http.MethodPost, "/pairing/initiate", wire.PairingInitiateRequest{
		AgentID: "flight-001", AgentName: "Flight Agent",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var initRes wire.PairingInitiateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &initRes))

	client := pake.New(pake.RoleClient)
	clientMsg, err := client.Start([]byte(initRes.PairingCode))
	require.NoError(t, err)

	// The human enters the wrong code; our real code is never confirmed.
	require.False(t, reg.MarkUserEntered("000000"))

	w = doJSON(t, rt.Handler(), http.MethodPost, "/pairing/exchange", wire.PairingExchangeRequest{
		PairingCode: initRes.PairingCode, PakeMessage: encodeB64(clientMsg),
	})
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestCredentialRequest_UnknownSessionIsUnauthorized(t *testing.T) {
	rt, _ := newTestRouter(&fakePrompter{approve: true}, &stubDriver{})

	w := doJSON(t, rt.Handler(), http.MethodPost, "/credential/request", wire.CredentialRequestBody{
		SessionID:        "no-such-session",
		EncryptedPayload: encodeB64([]byte("irrelevant")),
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCredentialRequest_TamperedCiphertextInvalidatesSession(t *testing.T) {
	rt, reg := newTestRouter(&fakePrompter{approve: true}, &stubDriver{})
	sessionID, client := pairAgent(t, rt, reg)

	ciphertextB64 := encryptedEnvelope(t, client, "airline.example", "book a flight")
	ciphertext, err := decodeB64(ciphertextB64)
	require.NoError(t, err)
	ciphertext[len(ciphertext)-1] ^= 0xFF // flip the auth tag

	w := doJSON(t, rt.Handler(), http.MethodPost, "/credential/request", wire.CredentialRequestBody{
		SessionID:        sessionID,
		EncryptedPayload: encodeB64(ciphertext),
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	// The session must now be gone.
	status := doJSON(t, rt.Handler(), http.MethodGet, "/session/status?session_id="+sessionID, nil)
	require.Equal(t, http.StatusNotFound, status.Code)
}

func TestSessionRevoke_IsIdempotentAndVisibleToStatus(t *testing.T) {
	rt, reg := newTestRouter(&fakePrompter{approve: true}, &stubDriver{})
	sessionID, _ := pairAgent(t, rt, reg)

	w := doJSON(t, rt.Handler(), http.MethodPost, "/session/revoke", wire.SessionRevokeRequest{SessionID: sessionID})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, rt.Handler(), http.MethodPost, "/session/revoke", wire.SessionRevokeRequest{SessionID: sessionID})
	require.Equal(t, http.StatusOK, w.Code)

	status := doJSON(t, rt.Handler(), http.MethodGet, "/session/status?session_id="+sessionID, nil)
	require.Equal(t, http.StatusNotFound, status.Code)
}

func TestSessionStatus_ReportsAgentID(t *testing.T) {
	rt, reg := newTestRouter(&fakePrompter{approve: true}, &stubDriver{})
	sessionID, _ := pairAgent(t, rt, reg)

	w := doJSON(t, rt.Handler(), http.MethodGet, "/session/status?session_id="+sessionID, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res wire.SessionStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Active)
	require.Equal(t, "flight-001", res.AgentID)
}

func TestHealth_ReportsActiveSessionCount(t *testing.T) {
	rt, reg := newTestRouter(&fakePrompter{approve: true}, &stubDriver{})
	_, _ = pairAgent(t, rt, reg)

	// A second agent initiates pairing but never completes the exchange,
	// so it should count as an active pairing, not an active session.
	w := doJSON(t, rt.Handler(), http.MethodPost, "/pairing/initiate", wire.PairingInitiateRequest{
		AgentID: "flight-002", AgentName: "Second Agent",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, rt.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res wire.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "ok", res.Status)
	require.Equal(t, 1, res.ActiveSessions)
	require.Equal(t, 1, res.ActivePairings)
}

func TestFallback_UnknownRouteIsBadRequest(t *testing.T) {
	rt, _ := newTestRouter(&fakePrompter{approve: true}, &stubDriver{})
	w := doJSON(t, rt.Handler(), http.MethodGet, "/nonexistent", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
