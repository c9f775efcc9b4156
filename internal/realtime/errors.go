// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// Error types in the normalized envelope returned to callers of the
// signaling proxy. The client branches on Type, never on message text.
const (
	TypeAuthenticationError = "authentication_error"
	TypeModelError          = "model_error"
	TypeAPIConnectionError  = "api_connection_error"
	TypeAPIError            = "api_error"
)

// APIError is the normalized form of an upstream failure. Status is the
// HTTP status to relay back to the browser (502 when the upstream never
// answered).
type APIError struct {
	Status  int
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	cause   error
}

func (e *APIError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("realtime: %s (%d, %s): %s: %v", e.Type, e.Status, e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("realtime: %s (%d, %s): %s", e.Type, e.Status, e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.cause
}

// ErrConnection reports a network-level failure with no upstream status.
func ErrConnection(cause error) *APIError {
	return &APIError{
		Status:  http.StatusBadGateway,
		Message: "No response received from the realtime API. The service may be down or unreachable.",
		Type:    TypeAPIConnectionError,
		Code:    "network_error",
		cause:   cause,
	}
}

// ErrKeyMissing and ErrKeyMalformed are returned before any upstream
// call is attempted.
func ErrKeyMissing() *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Message: "API key is not configured on the server",
		Type:    TypeAuthenticationError,
		Code:    "api_key_missing",
	}
}

func ErrKeyMalformed() *APIError {
	return &APIError{
		Status:  http.StatusUnauthorized,
		Message: `API key is malformed, should start with "sk-"`,
		Type:    TypeAuthenticationError,
		Code:    "api_key_malformed",
	}
}

// normalizeStatus maps an upstream error response onto the envelope the
// proxy returns. The upstream body is honored when it already carries a
// structured error; 401 and 404 get fixed messages so the client can
// show something actionable.
func normalizeStatus(status int, body []byte) *APIError {
	switch status {
	case http.StatusUnauthorized:
		return &APIError{
			Status:  status,
			Message: "Realtime API authentication failed. Your API key may be invalid or you may not have access to this model.",
			Type:    TypeAuthenticationError,
			Code:    "api_key_invalid",
		}
	case http.StatusNotFound:
		return &APIError{
			Status:  status,
			Message: "The requested model does not exist or you may not have access to it.",
			Type:    TypeModelError,
			Code:    "model_not_found",
		}
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiType := envelope.Error.Type
		if apiType == "" {
			apiType = TypeAPIError
		}
		return &APIError{
			Status:  status,
			Message: envelope.Error.Message,
			Type:    apiType,
			Code:    envelope.Error.Code,
		}
	}

	msg := string(body)
	if msg == "" {
		msg = "Unknown error"
	}
	return &APIError{
		Status:  status,
		Message: msg,
		Type:    TypeAPIError,
		Code:    "upstream_error",
	}
}
