// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package events

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/voicelabs/voicebridge/internal/transcript"
)

// Handler dispatches inbound channel messages. Each message is handled
// synchronously and independently: a malformed payload is logged and
// discarded without touching transcript or status.
type Handler struct {
	mu         sync.Mutex
	transcript *transcript.Log
	onStatus   func(Status)
	onEntry    func(transcript.Entry)
	logger     *slog.Logger

	lastUserAt time.Time
}

type HandlerOptions struct {
	Transcript *transcript.Log
	OnStatus   func(Status)
	OnEntry    func(transcript.Entry)
	Logger     *slog.Logger
}

func NewHandler(opts HandlerOptions) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.With("component", "events")
	}
	tl := opts.Transcript
	if tl == nil {
		tl = transcript.NewLog()
	}
	return &Handler{
		transcript: tl,
		onStatus:   opts.OnStatus,
		onEntry:    opts.OnEntry,
		logger:     logger,
	}
}

func (h *Handler) Transcript() *transcript.Log {
	return h.transcript
}

// Handle processes one raw channel message.
func (h *Handler) Handle(data []byte) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		h.logger.Error("failed to parse channel message", "error", err)
		return
	}

	h.logger.Debug("received event", "type", ev.Type)

	switch ev.Type {
	case TypeRecognitionStarted, TypeSpeechStarted:
		h.setStatus(StatusListening)

	case TypeRecognitionResult:
		if !ev.IsFinal {
			return
		}
		h.setStatus(StatusProcessing)
		h.append(transcript.Entry{
			Text:     ev.Text,
			Sender:   transcript.SenderUser,
			Duration: ev.Duration,
			ID:       ev.MessageID,
		})
		h.logger.Info("user message", "duration", ev.Duration, "text", ev.Text)

	case TypeGenerationStarted:
		h.logger.Info("response generation started")

	case TypeGenerationComplete:
		h.setStatus(StatusEstablished)
		if ev.Text == "" {
			return
		}
		h.append(transcript.Entry{
			Text:     ev.Text,
			Sender:   transcript.SenderAI,
			Duration: ev.Duration,
			ID:       ev.MessageID,
		})
		h.logger.Info("assistant message", "duration", ev.Duration, "text", ev.Text)

	case TypeServerMessage:
		if ev.Content == nil || ev.Content.Role != "assistant" || len(ev.Content.Content) == 0 {
			return
		}
		h.append(transcript.Entry{
			Text:   ev.Content.Content[0].Text,
			Sender: transcript.SenderAI,
		})

	case TypeSpeechEnded:
		h.logger.Info("assistant finished speaking")
		h.setStatus(StatusEstablished)

	case TypeSessionCreated:
		h.logger.Info("session created", "data", string(ev.Data))

	case TypeSessionUpdated:
		h.logger.Info("session updated", "data", string(ev.Data))

	case TypeContentBlockStart, TypeContentBlockStop, TypeMetadata:
		h.logger.Debug("informational event", "type", ev.Type)

	case TypeError:
		detail := ev.Message
		if detail == "" && len(ev.Error) > 0 {
			detail = string(ev.Error)
		}
		// An application-level error does not tear down the transport.
		h.logger.Error("error event from server", "detail", detail)

	default:
		h.logger.Warn("unknown event type", "type", ev.Type)
	}
}

func (h *Handler) setStatus(s Status) {
	if h.onStatus != nil {
		h.onStatus(s)
	}
}

func (h *Handler) append(e transcript.Entry) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.Lock()
	switch e.Sender {
	case transcript.SenderUser:
		h.lastUserAt = e.Timestamp
	case transcript.SenderAI:
		if !h.lastUserAt.IsZero() {
			latency := e.Timestamp.Sub(h.lastUserAt).Seconds()
			h.logger.Info("assistant response latency", "seconds", latency)
			h.lastUserAt = time.Time{}
		}
	}
	h.mu.Unlock()

	h.transcript.Append(e)
	if h.onEntry != nil {
		h.onEntry(e)
	}
}
