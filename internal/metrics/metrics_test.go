// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesRegisteredMetrics(t *testing.T) {
	RequestsTotal.WithLabelValues(OutcomeApproved).Inc()
	ActiveSessions.Set(3)

	r := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, r)

	require.Equal(t, 200, w.Code)
	require.Contains(t, w.Body.String(), "credbroker_requests_total")
	require.Contains(t, w.Body.String(), "credbroker_sessions_active")
}
