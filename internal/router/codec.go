// Copyright 2026 credbroker contributors.
// SPDX-License-Identifier: Apache-2.0

package router

import "encoding/base64"

func decodeB64(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func encodeB64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
