// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package session

// State is the lifecycle state of a voice session. Negotiation walks
// idle → acquiring_credential → capturing_media → offering →
// awaiting_answer → established; the event stream then toggles between
// established, listening and processing until closing returns to idle.
// failed is terminal and requires a manual restart.
type State string

const (
	StateIdle                State = "idle"
	StateAcquiringCredential State = "acquiring_credential"
	StateCapturingMedia      State = "capturing_media"
	StateOffering            State = "offering"
	StateAwaitingAnswer      State = "awaiting_answer"
	StateEstablished         State = "established"
	StateListening           State = "listening"
	StateProcessing          State = "processing"
	StateClosing             State = "closing"
	StateFailed              State = "failed"
)

// IsNegotiating returns true while a connection attempt is in flight.
func (s State) IsNegotiating() bool {
	switch s {
	case StateAcquiringCredential, StateCapturingMedia, StateOffering, StateAwaitingAnswer:
		return true
	default:
		return false
	}
}

// IsEstablished returns true once media is flowing, in any of the
// conversation sub-states.
func (s State) IsEstablished() bool {
	switch s {
	case StateEstablished, StateListening, StateProcessing:
		return true
	default:
		return false
	}
}

// IsActive returns true whenever resources may be held.
func (s State) IsActive() bool {
	return s.IsNegotiating() || s.IsEstablished() || s == StateClosing
}

func (s State) String() string {
	return string(s)
}
