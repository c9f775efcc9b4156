// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package session

import (
	"errors"
	"fmt"
)

// Category classifies a session failure so callers can branch without
// string matching.
type Category string

const (
	// CategoryCredential: the relay had no usable secret for us.
	CategoryCredential Category = "credential_error"
	// CategoryMediaAccess: local audio input could not be acquired.
	CategoryMediaAccess Category = "media_access_error"
	// CategorySignaling: the offer/answer exchange was rejected or the
	// proxy was unreachable.
	CategorySignaling Category = "signaling_error"
	// CategoryChannel: the auxiliary event channel failed.
	CategoryChannel Category = "channel_error"
)

// Error is a typed session failure. Status and RemoteType are populated
// for signaling failures that carry a normalized proxy envelope.
type Error struct {
	Category   Category
	Message    string
	Status     int
	RemoteType string
	Cause      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("session: %s (status=%d, remote=%s): %s", e.Category, e.Status, e.RemoteType, e.Message)
	}
	return fmt.Sprintf("session: %s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func newError(category Category, message string, cause error) *Error {
	return &Error{Category: category, Message: message, Cause: cause}
}

// IsCategory reports whether err is a session error of the given category.
func IsCategory(err error, category Category) bool {
	var sessErr *Error
	if errors.As(err, &sessErr) {
		return sessErr.Category == category
	}
	return false
}

// errStopped aborts a negotiation torn down by Stop before completion;
// it never surfaces to callers.
var errStopped = errors.New("session stopped during negotiation")
