// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

// Package events interprets the typed messages arriving on the
// auxiliary data channel and projects them onto observable session
// state: the status indicator and the transcript.
package events

import "encoding/json"

// Event type discriminants observed on the oai-events channel.
const (
	TypeRecognitionStarted = "recognition_started"
	TypeRecognitionResult  = "recognition_result"
	TypeGenerationStarted  = "generation_started"
	TypeGenerationComplete = "generation_complete"
	TypeServerMessage      = "server_message"
	TypeSpeechStarted      = "speech_started"
	TypeSpeechEnded        = "speech_ended"
	TypeSessionCreated     = "session.created"
	TypeSessionUpdated     = "session.updated"
	TypeContentBlockStart  = "content_block_start"
	TypeContentBlockStop   = "content_block_stop"
	TypeMetadata           = "metadata"
	TypeError              = "error"
)

// ServerEvent is the tagged envelope of an inbound channel message. The
// payload fields are a union over all known discriminants; unknown types
// keep their raw data for logging.
type ServerEvent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	IsFinal   bool            `json:"is_final,omitempty"`
	Duration  float64         `json:"duration,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	Message   string          `json:"message,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Content   *MessageContent `json:"content,omitempty"`
}

// MessageContent carries assistant content in server_message events.
type MessageContent struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

type ContentBlock struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// ClientMessage is the outbound envelope the client writes to the
// channel, e.g. the voice selection sent on open.
type ClientMessage struct {
	Type    string         `json:"type"`
	Content map[string]any `json:"content,omitempty"`
}

// VoiceConfig builds the initial client_message selecting the assistant
// voice, sent as soon as the channel opens.
func VoiceConfig(voice string) ([]byte, error) {
	return json.Marshal(ClientMessage{
		Type:    "client_message",
		Content: map[string]any{"use_voice": voice},
	})
}

// Status is the observable conversation state driven by the event
// stream while the transport is established.
type Status string

const (
	StatusListening   Status = "listening"
	StatusProcessing  Status = "processing"
	StatusEstablished Status = "established"
)
