// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

// Package sdk implements the agent-side client from spec.md §4.7: the
// inverse of the broker's pairing-exchange and credential-request
// handlers. It owns a client-role pake.Engine and a session_id, and hands
// the caller back scope-bound secretcell.Cell values rather than raw
// strings for anything a vault produced.
package sdk

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/credbroker/credbroker/internal/wire"
	"github.com/credbroker/credbroker/pkg/pake"
	"github.com/credbroker/credbroker/pkg/retry"
	"github.com/credbroker/credbroker/pkg/secretcell"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultPollDeadline = 60 * time.Second
)

var (
	// ErrPairingTimeout is returned when pairing does not complete before
	// the poll deadline — the human never entered the code in time.
	ErrPairingTimeout = errors.New("sdk: pairing did not complete before deadline")
	// ErrPairingRejected covers a 400 from /pairing/exchange: unknown,
	// expired, or otherwise invalid pairing code.
	ErrPairingRejected = errors.New("sdk: pairing exchange rejected")
	// ErrNotPaired is returned by Request if called before a successful Pair.
	ErrNotPaired = errors.New("sdk: not paired")
	// ErrSessionUnusable is returned when a response fails to decrypt; per
	// spec.md §4.7 this is fatal for the session, and the SDK discards it.
	ErrSessionUnusable = errors.New("sdk: session unusable, re-pair required")
)

// CredentialDecision is the outcome of Request: a structured decision, not
// an exception, for the expected denial/not-found paths.
type CredentialDecision struct {
	Status   string
	Username *secretcell.Cell
	Password *secretcell.Cell
	Reason   string
}

// Client is the agent-facing handle on one broker pairing/session.
type Client struct {
	httpClient *http.Client
	baseURL    string
	agentID    string
	agentName  string

	pollInterval time.Duration
	pollDeadline time.Duration

	retrier *retry.ExponentialRetrier

	engine    *pake.Engine
	sessionID string

	// OnPairingCode, if set, is called once the broker has issued a
	// pairing code and before polling begins — the hook the agent's
	// surface uses to display the code to the approving human (spec.md
	// §4.7: "displays the code to the agent's surface").
	OnPairingCode func(code string)
}

// New builds a Client targeting baseURL (e.g. "http://127.0.0.1:5000").
func New(baseURL, agentID, agentName string) *Client {
	return &Client{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		baseURL:      baseURL,
		agentID:      agentID,
		agentName:    agentName,
		pollInterval: defaultPollInterval,
		pollDeadline: defaultPollDeadline,
		retrier: retry.NewExponentialRetrier(
			retry.WithMaxRetries(3),
			retry.WithBackOffOptions(retry.WithInitialInterval(1*time.Second)),
		),
	}
}

// SessionID reports the live session_id after a successful Pair, or "" if
// not yet paired.
func (c *Client) SessionID() string { return c.sessionID }

// Pair performs /pairing/initiate, then polls /pairing/exchange at
// pollInterval until the human confirms, the broker rejects the code, or
// pollDeadline elapses.
func (c *Client) Pair(ctx context.Context) (pairingCode string, err error) {
	reqBody, err := json.Marshal(wire.PairingInitiateRequest{AgentID: c.agentID, AgentName: c.agentName})
	if err != nil {
		return "", fmt.Errorf("sdk: encode pairing_initiate: %w", err)
	}
	body, status, err := c.doWithRetry(ctx, http.MethodPost, "/pairing/initiate", reqBody)
	if err != nil {
		return "", fmt.Errorf("sdk: pairing_initiate failed: %w", err)
	}
	if status != http.StatusOK {
		return "", fmt.Errorf("%w: initiate returned %d", ErrPairingRejected, status)
	}

	var initRes wire.PairingInitiateResponse
	if err := json.Unmarshal(body, &initRes); err != nil {
		return "", fmt.Errorf("sdk: decode pairing_initiate response: %w", err)
	}

	engine := pake.New(pake.RoleClient)
	clientMsg, err := engine.Start([]byte(initRes.PairingCode))
	if err != nil {
		return "", fmt.Errorf("sdk: pake start failed: %w", err)
	}

	if c.OnPairingCode != nil {
		c.OnPairingCode(initRes.PairingCode)
	}

	deadline := time.Now().Add(c.pollDeadline)
	for {
		if time.Now().After(deadline) {
			return "", ErrPairingTimeout
		}

		exchBody, err := json.Marshal(wire.PairingExchangeRequest{
			PairingCode: initRes.PairingCode,
			PakeMessage: b64(clientMsg),
		})
		if err != nil {
			return "", fmt.Errorf("sdk: encode pairing_exchange: %w", err)
		}

		respBody, status, err := c.doWithRetry(ctx, http.MethodPost, "/pairing/exchange", exchBody)
		if err != nil {
			return "", fmt.Errorf("sdk: pairing_exchange failed: %w", err)
		}

		switch status {
		case http.StatusAccepted:
			// Waiting: the human has not entered the code yet.
		case http.StatusOK:
			var exchRes wire.PairingExchangeResponse
			if err := json.Unmarshal(respBody, &exchRes); err != nil {
				return "", fmt.Errorf("sdk: decode pairing_exchange response: %w", err)
			}
			serverMsg, err := unb64(exchRes.PakeMessage)
			if err != nil {
				return "", fmt.Errorf("sdk: decode server pake message: %w", err)
			}
			if err := engine.Finish(serverMsg); err != nil {
				return "", fmt.Errorf("sdk: pake finish failed: %w", err)
			}
			c.engine = engine
			c.sessionID = exchRes.SessionID
			return initRes.PairingCode, nil
		default:
			return "", fmt.Errorf("%w: exchange returned %d", ErrPairingRejected, status)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Request builds the credential envelope, encrypts it with the paired
// session's key, and returns the broker's decision.
func (c *Client) Request(ctx context.Context, domain, reason string) (CredentialDecision, error) {
	if c.engine == nil || !c.engine.IsReady() || c.sessionID == "" {
		return CredentialDecision{}, ErrNotPaired
	}

	nonce, err := randomNonceHex()
	if err != nil {
		return CredentialDecision{}, fmt.Errorf("sdk: nonce generation failed: %w", err)
	}
	env := wire.CredentialEnvelope{
		Domain:    domain,
		Reason:    reason,
		AgentID:   c.agentID,
		AgentName: c.agentName,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Nonce:     nonce,
	}
	plaintext, err := json.Marshal(env)
	if err != nil {
		return CredentialDecision{}, fmt.Errorf("sdk: encode envelope: %w", err)
	}
	ciphertext, err := c.engine.Encrypt(plaintext)
	if err != nil {
		return CredentialDecision{}, fmt.Errorf("sdk: encrypt envelope: %w", err)
	}

	reqBody, err := json.Marshal(wire.CredentialRequestBody{SessionID: c.sessionID, EncryptedPayload: b64(ciphertext)})
	if err != nil {
		return CredentialDecision{}, fmt.Errorf("sdk: encode request body: %w", err)
	}

	body, status, err := c.doWithRetry(ctx, http.MethodPost, "/credential/request", reqBody)
	if err != nil {
		return CredentialDecision{}, fmt.Errorf("sdk: credential_request failed: %w", err)
	}
	if status == http.StatusUnauthorized {
		c.invalidateSession()
		return CredentialDecision{}, ErrSessionUnusable
	}
	if status != http.StatusOK {
		return CredentialDecision{}, fmt.Errorf("sdk: credential_request returned %d", status)
	}

	var res wire.CredentialResponseBody
	if err := json.Unmarshal(body, &res); err != nil {
		return CredentialDecision{}, fmt.Errorf("sdk: decode credential_request response: %w", err)
	}

	switch res.Status {
	case wire.StatusApproved:
		return c.decryptApproval(res)
	case wire.StatusDenied, wire.StatusNotFound:
		return CredentialDecision{Status: res.Status, Reason: res.Error}, nil
	default:
		return CredentialDecision{}, fmt.Errorf("sdk: unrecognized status %q", res.Status)
	}
}

func (c *Client) decryptApproval(res wire.CredentialResponseBody) (CredentialDecision, error) {
	ciphertext, err := unb64(res.EncryptedPayload)
	if err != nil {
		c.invalidateSession()
		return CredentialDecision{}, ErrSessionUnusable
	}
	plaintext, err := c.engine.Decrypt(ciphertext)
	if err != nil {
		c.invalidateSession()
		return CredentialDecision{}, ErrSessionUnusable
	}

	var envRes wire.CredentialEnvelopeResponse
	if err := json.Unmarshal(plaintext, &envRes); err != nil {
		c.invalidateSession()
		return CredentialDecision{}, ErrSessionUnusable
	}

	return CredentialDecision{
		Status:   wire.StatusApproved,
		Username: secretcell.New([]byte(envRes.Username)),
		Password: secretcell.New([]byte(envRes.Password)),
	}, nil
}

// invalidateSession drops the client's engine and session_id after a
// decrypt failure — per spec.md §4.7 this is fatal for the session.
func (c *Client) invalidateSession() {
	if c.engine != nil {
		c.engine.Drop()
	}
	c.engine = nil
	c.sessionID = ""
}

func (c *Client) doWithRetry(ctx context.Context, method, path string, reqBody []byte) ([]byte, int, error) {
	var respBody []byte
	var statusCode int

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(reqBody))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err // network failure: transient, retry
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		statusCode = resp.StatusCode
		respBody = b

		if resp.StatusCode >= 500 {
			return fmt.Errorf("sdk: server error %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			// 4xx is not retried per spec.md §4.7; status/body are already
			// captured above for the caller to build a decision from.
			return nil
		}
		return nil
	}

	err := c.retrier.RetryWithBackoff(ctx, op)
	if err != nil {
		return respBody, statusCode, err
	}
	return respBody, statusCode, nil
}

func randomNonceHex() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func b64(b []byte) string            { return base64.StdEncoding.EncodeToString(b) }
func unb64(s string) ([]byte, error) { return base64.StdEncoding.DecodeString(s) }
