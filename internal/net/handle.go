// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package net

import (
	"net/http"
	"time"

	applog "github.com/credbroker/credbroker/internal/log"
	"github.com/google/uuid"
)

// Handler processes one HTTP request, given the trail ID this request was
// assigned for correlating its log lines. Domain-level audit events
// (REQUEST, APPROVED, DENIED, ...) are emitted by the router's own
// handlers at the semantic points that call for them, not here.
type Handler func(w http.ResponseWriter, r *http.Request, trailID string)

// HandleRoute registers h on mux at pattern, timing the call and logging
// entry/exit at debug level with a fresh trail ID.
func HandleRoute(mux *http.ServeMux, pattern string, h Handler) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		trailID := uuid.NewString()
		start := time.Now()

		applog.Log().Debug("route_enter", "trail_id", trailID, "path", r.URL.Path, "method", r.Method)
		h(w, r, trailID)
		applog.Log().Debug("route_exit", "trail_id", trailID, "path", r.URL.Path, "duration", time.Since(start).String())
	})
}
