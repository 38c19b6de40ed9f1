// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/credbroker/credbroker/internal/audit"
	"github.com/credbroker/credbroker/internal/brokererr"
	"github.com/credbroker/credbroker/internal/dispatcher"
	applog "github.com/credbroker/credbroker/internal/log"
	"github.com/credbroker/credbroker/internal/metrics"
	netutil "github.com/credbroker/credbroker/internal/net"
	"github.com/credbroker/credbroker/internal/validation"
	"github.com/credbroker/credbroker/internal/wire"
)

func (rt *Router) handleCredentialRequest(w http.ResponseWriter, r *http.Request, trailID string) {
	if r.Method != http.MethodPost {
		netutil.RespondError(http.StatusBadRequest, "method not allowed", w)
		return
	}

	body := netutil.ReadRequestBody(r, w)
	if body == nil {
		return
	}
	req, ok := netutil.DecodeJSON[wire.CredentialRequestBody](body, w)
	if !ok {
		return
	}

	ciphertext, err := decodeB64(req.EncryptedPayload)
	if err != nil {
		netutil.RespondError(http.StatusBadRequest, "encrypted_payload not valid base64", w)
		return
	}

	plaintext, session, err := rt.reg.Decrypt(req.SessionID, ciphertext)
	if err != nil {
		rt.failCredentialDecrypt(w, trailID, req.SessionID, err)
		return
	}

	var env wire.CredentialEnvelope
	if jsonErr := json.Unmarshal(plaintext, &env); jsonErr != nil {
		// A well-decrypted envelope that fails to parse indicates protocol
		// misuse, not merely a malformed request: invalidate the session.
		rt.reg.Revoke(req.SessionID)
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, SessionID: req.SessionID, Reason: "envelope unparseable"})
		netutil.RespondError(http.StatusBadRequest, "malformed credential envelope", w)
		return
	}

	if err := validateEnvelopeFields(env); err != nil {
		netutil.RespondError(http.StatusBadRequest, err.Error(), w)
		return
	}

	now := time.Now().UTC()
	if _, err := validation.Timestamp(env.Timestamp, now, rt.requestWindow); err != nil {
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, SessionID: req.SessionID, AgentID: env.AgentID, Reason: "stale timestamp"})
		netutil.RespondError(http.StatusBadRequest, "stale timestamp", w)
		return
	}
	if err := rt.reg.CheckAndRecordNonce(req.SessionID, env.Nonce); err != nil {
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, SessionID: req.SessionID, AgentID: env.AgentID, Reason: "duplicate nonce"})
		netutil.RespondError(http.StatusBadRequest, "duplicate nonce", w)
		return
	}
	rt.reg.TouchSession(req.SessionID)

	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindRequest, SessionID: req.SessionID, AgentID: env.AgentID, Domain: env.Domain, Reason: env.Reason})

	waitStart := time.Now()
	decision := rt.disp.Dispatch(r.Context(), session, env.Domain, env.Reason)
	metrics.ApprovalWaitSeconds.Observe(time.Since(waitStart).Seconds())

	rt.respondDecision(w, trailID, req.SessionID, env, decision)
}

func validateEnvelopeFields(env wire.CredentialEnvelope) error {
	if err := validation.AgentID(env.AgentID); err != nil {
		return err
	}
	if err := validation.AgentName(env.AgentName); err != nil {
		return err
	}
	if err := validation.Domain(env.Domain); err != nil {
		return err
	}
	if err := validation.Reason(env.Reason); err != nil {
		return err
	}
	return validation.NonceHex(env.Nonce)
}

func (rt *Router) failCredentialDecrypt(w http.ResponseWriter, trailID, sessionID string, err error) {
	if brokererr.KindOf(err) == brokererr.KindSessionFailure {
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, SessionID: sessionID, Reason: "session unknown or expired"})
		netutil.RespondError(http.StatusUnauthorized, "session unknown or expired", w)
		return
	}
	// Decrypt/PAKE failure: invalidate the session, per spec.md §7.
	rt.reg.Revoke(sessionID)
	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, SessionID: sessionID, Reason: "decrypt failed"})
	netutil.RespondError(http.StatusBadRequest, "request could not be authenticated", w)
}

func (rt *Router) respondDecision(w http.ResponseWriter, trailID, sessionID string, env wire.CredentialEnvelope, decision dispatcher.Decision) {
	switch decision.Kind {
	case dispatcher.DecisionApprove:
		rt.respondApproved(w, trailID, sessionID, env, decision)
	case dispatcher.DecisionDeny:
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindDenied, SessionID: sessionID, AgentID: env.AgentID, Domain: env.Domain})
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeDenied).Inc()
		out := netutil.MarshalBody(wire.CredentialResponseBody{Status: wire.StatusDenied, Error: "declined by approver"}, w)
		if out == nil {
			return
		}
		netutil.Respond(http.StatusOK, out, w)
	default: // DecisionError
		rt.respondError(w, trailID, sessionID, env, decision)
	}
}

func (rt *Router) respondApproved(w http.ResponseWriter, trailID, sessionID string, env wire.CredentialEnvelope, decision dispatcher.Decision) {
	respEnv := wire.CredentialEnvelopeResponse{
		Username:  decision.Username,
		Password:  decision.Password,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Nonce:     env.Nonce,
	}
	plaintext, err := json.Marshal(respEnv)
	if err != nil {
		applog.Log().Error("credential_response marshal failed", "err", err.Error())
		netutil.RespondError(http.StatusInternalServerError, "internal error", w)
		return
	}
	ciphertext, err := rt.reg.Encrypt(sessionID, plaintext)
	if err != nil {
		applog.Log().Warn("credential_response encrypt failed", "err", err.Error())
		netutil.RespondError(http.StatusInternalServerError, "internal error", w)
		return
	}

	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindApproved, SessionID: sessionID, AgentID: env.AgentID, Domain: env.Domain})
	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindSuccess, SessionID: sessionID, AgentID: env.AgentID, Domain: env.Domain})
	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeApproved).Inc()

	out := netutil.MarshalBody(wire.CredentialResponseBody{Status: wire.StatusApproved, EncryptedPayload: encodeB64(ciphertext)}, w)
	if out == nil {
		return
	}
	netutil.Respond(http.StatusOK, out, w)
}

func (rt *Router) respondError(w http.ResponseWriter, trailID, sessionID string, env wire.CredentialEnvelope, decision dispatcher.Decision) {
	if decision.ReasonCode == dispatcher.ReasonNotFound {
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindNotFound, SessionID: sessionID, AgentID: env.AgentID, Domain: env.Domain})
		metrics.RequestsTotal.WithLabelValues(metrics.OutcomeNotFound).Inc()
		out := netutil.MarshalBody(wire.CredentialResponseBody{Status: wire.StatusNotFound, Error: "no matching credential found"}, w)
		if out == nil {
			return
		}
		netutil.Respond(http.StatusOK, out, w)
		return
	}

	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, SessionID: sessionID, AgentID: env.AgentID, Domain: env.Domain, Reason: decision.ReasonCode})
	metrics.RequestsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	metrics.VaultFetchFailuresTotal.WithLabelValues(decision.ReasonCode).Inc()
	netutil.RespondError(http.StatusInternalServerError, "credential request failed", w)
}
