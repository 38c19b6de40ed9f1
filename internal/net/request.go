// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package net

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	applog "github.com/credbroker/credbroker/internal/log"
)

func requestBody(r *http.Request) (body []byte, err error) {
	body, err = io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	defer func(b io.ReadCloser) {
		err = errors.Join(err, b.Close())
	}(r.Body)
	return body, err
}

// ReadRequestBody reads the entire request body. On any read error it
// writes a 400 to w and returns a nil slice; callers should treat a nil
// return as "already handled".
func ReadRequestBody(r *http.Request, w http.ResponseWriter) []byte {
	body, err := requestBody(r)
	if err != nil {
		applog.Log().Info("read_request_body", "msg", "failed to read body", "err", err.Error())
		RespondError(http.StatusBadRequest, "could not read request body", w)
		return nil
	}
	return body
}

// DecodeJSON unmarshals body into a fresh Req. On failure it writes a 400
// to w and returns false; callers should stop handling the request.
func DecodeJSON[Req any](body []byte, w http.ResponseWriter) (Req, bool) {
	var request Req
	if err := json.Unmarshal(body, &request); err != nil {
		applog.Log().Info("decode_json", "msg", "failed to unmarshal request", "err", err.Error())
		RespondError(http.StatusBadRequest, "malformed request body", w)
		return request, false
	}
	return request, true
}
