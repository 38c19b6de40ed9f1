// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package net

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type sampleReq struct {
	Name string `json:"name"`
}

func TestReadRequestBody_ReturnsBytes(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/x", strings.NewReader(`{"name":"a"}`))
	w := httptest.NewRecorder()

	body := ReadRequestBody(r, w)
	require.Equal(t, `{"name":"a"}`, string(body))
	require.Equal(t, http.StatusOK, w.Code)
}

func TestDecodeJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	req, ok := DecodeJSON[sampleReq]([]byte(`{"name":"flight-agent"}`), w)
	require.True(t, ok)
	require.Equal(t, "flight-agent", req.Name)
}

func TestDecodeJSON_MalformedBodyRespondsBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	_, ok := DecodeJSON[sampleReq]([]byte(`not json`), w)
	require.False(t, ok)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotEmpty(t, body["error"])
}

func TestRespond_SetsCacheHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(http.StatusOK, []byte(`{}`), w)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store, no-cache, must-revalidate, private", w.Header().Get("Cache-Control"))
}

func TestFallback_RespondsBadRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	w := httptest.NewRecorder()

	Fallback(w, r)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRoute_AssignsTrailID(t *testing.T) {
	mux := http.NewServeMux()
	var seen string
	HandleRoute(mux, "/ping", func(w http.ResponseWriter, r *http.Request, trailID string) {
		seen = trailID
		w.WriteHeader(http.StatusOK)
	})

	r := httptest.NewRequest(http.MethodGet, "/ping", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, seen)
}
