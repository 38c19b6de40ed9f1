// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package net

import (
	"encoding/json"
	"net/http"

	applog "github.com/credbroker/credbroker/internal/log"
	"github.com/credbroker/credbroker/internal/wire"
)

// MarshalBody serializes res to JSON. On failure it writes a 500 directly
// to w and returns nil, so callers can treat a nil return as "already
// handled".
func MarshalBody(res any, w http.ResponseWriter) []byte {
	body, err := json.Marshal(res)
	if err != nil {
		applog.Log().Error("marshal_body", "msg", "failed to marshal response", "err", err.Error())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return nil
	}
	return body
}

// Respond writes a JSON response with cache-invalidation headers, since
// every reply here may carry credential-adjacent metadata.
func Respond(statusCode int, body []byte, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.WriteHeader(statusCode)

	if _, err := w.Write(body); err != nil {
		applog.Log().Error("respond", "msg", "failed to write response", "err", err.Error())
	}
}

// RespondError is a convenience wrapper for the generic {"error": "..."}
// body used throughout the router.
func RespondError(statusCode int, reason string, w http.ResponseWriter) {
	body := MarshalBody(wire.ErrorResponse{Error: reason}, w)
	if body == nil {
		return
	}
	Respond(statusCode, body, w)
}

// Fallback handles requests to undefined routes or unsupported methods.
func Fallback(w http.ResponseWriter, r *http.Request) {
	applog.Log().Info("fallback", "method", r.Method, "path", r.URL.Path)
	RespondError(http.StatusBadRequest, "unknown route", w)
}
