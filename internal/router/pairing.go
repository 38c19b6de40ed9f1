// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"net/http"
	"time"

	"github.com/credbroker/credbroker/internal/audit"
	"github.com/credbroker/credbroker/internal/brokererr"
	"github.com/credbroker/credbroker/internal/metrics"
	netutil "github.com/credbroker/credbroker/internal/net"
	"github.com/credbroker/credbroker/internal/validation"
	"github.com/credbroker/credbroker/internal/wire"
)

func (rt *Router) handlePairingInitiate(w http.ResponseWriter, r *http.Request, trailID string) {
	if r.Method != http.MethodPost {
		netutil.RespondError(http.StatusBadRequest, "method not allowed", w)
		return
	}

	body := netutil.ReadRequestBody(r, w)
	if body == nil {
		return
	}
	req, ok := netutil.DecodeJSON[wire.PairingInitiateRequest](body, w)
	if !ok {
		return
	}

	if err := validation.AgentID(req.AgentID); err != nil {
		netutil.RespondError(http.StatusBadRequest, err.Error(), w)
		return
	}
	if err := validation.AgentName(req.AgentName); err != nil {
		netutil.RespondError(http.StatusBadRequest, err.Error(), w)
		return
	}

	code, expiresAt, err := rt.reg.CreatePairing(req.AgentID, req.AgentName)
	if err != nil {
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, AgentID: req.AgentID, Reason: "pairing allocation failed"})
		netutil.RespondError(http.StatusInternalServerError, "could not allocate pairing code", w)
		return
	}

	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindPairingCreated, AgentID: req.AgentID})
	metrics.PairingsTotal.WithLabelValues(metrics.PairingCreated).Inc()

	res := wire.PairingInitiateResponse{
		PairingCode: code,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}
	out := netutil.MarshalBody(res, w)
	if out == nil {
		return
	}
	netutil.Respond(http.StatusOK, out, w)
}

func (rt *Router) handlePairingExchange(w http.ResponseWriter, r *http.Request, trailID string) {
	if r.Method != http.MethodPost {
		netutil.RespondError(http.StatusBadRequest, "method not allowed", w)
		return
	}

	body := netutil.ReadRequestBody(r, w)
	if body == nil {
		return
	}
	req, ok := netutil.DecodeJSON[wire.PairingExchangeRequest](body, w)
	if !ok {
		return
	}

	if err := validation.PairingCode(req.PairingCode); err != nil {
		netutil.RespondError(http.StatusBadRequest, err.Error(), w)
		return
	}
	clientMsg, err := decodeB64(req.PakeMessage)
	if err != nil {
		netutil.RespondError(http.StatusBadRequest, "pake_message not valid base64", w)
		return
	}

	outcome := rt.reg.Exchange(req.PairingCode, clientMsg)
	if outcome.Err != nil {
		audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindError, Reason: "pairing exchange failed"})
		netutil.RespondError(http.StatusBadRequest, exchangeErrorReason(outcome.Err), w)
		return
	}
	if outcome.Waiting {
		out := netutil.MarshalBody(wire.PairingWaitingResponse{Status: wire.StatusWaiting}, w)
		if out == nil {
			return
		}
		netutil.Respond(http.StatusAccepted, out, w)
		return
	}

	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindPairingConfirmed, AgentID: outcome.AgentID, SessionID: outcome.SessionID})
	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindSessionCreated, AgentID: outcome.AgentID, SessionID: outcome.SessionID})
	metrics.PairingsTotal.WithLabelValues(metrics.PairingConfirmed).Inc()

	res := wire.PairingExchangeResponse{
		SessionID:   outcome.SessionID,
		PakeMessage: encodeB64(outcome.ServerPakeMsg),
		AgentID:     outcome.AgentID,
	}
	out := netutil.MarshalBody(res, w)
	if out == nil {
		return
	}
	netutil.Respond(http.StatusOK, out, w)
}

// exchangeErrorReason reports a generic, non-leaking reason for the agent
// (spec.md §7: protocol failures must not reveal key-state detail).
func exchangeErrorReason(err error) string {
	switch brokererr.KindOf(err) {
	case brokererr.KindSessionFailure:
		return "unknown or expired pairing code"
	default:
		return "pairing exchange rejected"
	}
}
