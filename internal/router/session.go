// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package router

import (
	"net/http"
	"time"

	"github.com/credbroker/credbroker/internal/audit"
	"github.com/credbroker/credbroker/internal/metrics"
	netutil "github.com/credbroker/credbroker/internal/net"
	"github.com/credbroker/credbroker/internal/wire"
)

func (rt *Router) handleSessionRevoke(w http.ResponseWriter, r *http.Request, trailID string) {
	if r.Method != http.MethodPost {
		netutil.RespondError(http.StatusBadRequest, "method not allowed", w)
		return
	}

	body := netutil.ReadRequestBody(r, w)
	if body == nil {
		return
	}
	req, ok := netutil.DecodeJSON[wire.SessionRevokeRequest](body, w)
	if !ok {
		return
	}

	// Cancel any in-flight dispatcher wait for this session before
	// deleting it, so a pending prompt returns promptly instead of
	// leaving the vault claimed until the approval wait times out.
	rt.disp.Cancel(req.SessionID)
	rt.reg.Revoke(req.SessionID)

	audit.Record(audit.Entry{TrailID: trailID, Kind: audit.KindRevoked, SessionID: req.SessionID})

	out := netutil.MarshalBody(wire.SessionRevokeResponse{Revoked: true, SessionID: req.SessionID}, w)
	if out == nil {
		return
	}
	netutil.Respond(http.StatusOK, out, w)
}

func (rt *Router) handleSessionStatus(w http.ResponseWriter, r *http.Request, trailID string) {
	if r.Method != http.MethodGet {
		netutil.RespondError(http.StatusBadRequest, "method not allowed", w)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	snapshot, ok := rt.reg.Status(sessionID)
	if !ok {
		netutil.RespondError(http.StatusNotFound, "unknown session", w)
		return
	}

	res := wire.SessionStatusResponse{
		Active:     true,
		AgentID:    snapshot.AgentID,
		LastAccess: snapshot.LastAccess.Format(time.RFC3339),
		ExpiresAt:  snapshot.ExpiresAt.Format(time.RFC3339),
	}
	out := netutil.MarshalBody(res, w)
	if out == nil {
		return
	}
	netutil.Respond(http.StatusOK, out, w)
}

func (rt *Router) handleHealth(w http.ResponseWriter, r *http.Request, trailID string) {
	active := rt.reg.ActiveSessionCount()
	pairings := rt.reg.ActivePairingCount()
	metrics.ActiveSessions.Set(float64(active))

	out := netutil.MarshalBody(wire.HealthResponse{Status: "ok", ActiveSessions: active, ActivePairings: pairings}, w)
	if out == nil {
		return
	}
	netutil.Respond(http.StatusOK, out, w)
}
