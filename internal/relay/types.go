// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package relay

type SessionResponse struct {
	ClientSecret ClientSecret `json:"client_secret"`
}

type ClientSecret struct {
	Value string `json:"value"`
}

// SessionError is returned by GET /session when no usable credential is
// configured. demo_mode tells the browser to degrade instead of retry.
type SessionError struct {
	Error    string `json:"error"`
	Details  string `json:"details,omitempty"`
	DemoMode bool   `json:"demo_mode"`
}

// ErrorEnvelope is the normalized failure shape of the proxy endpoints.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

type StatusResponse struct {
	Status string `json:"status"`
}
