// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

// Package relay exposes the HTTP surface of the backend: the credential
// relay, the signaling proxy, and the speech-synthesis proxy. The
// credential itself never crosses any boundary un-redacted except in the
// /session payload the demo design requires.
package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/voicelabs/voicebridge/internal/config"
	"github.com/voicelabs/voicebridge/internal/realtime"
)

type Handler struct {
	Config *config.Config
	Client *realtime.Client
	logger *slog.Logger
}

func NewHandler(cfg *config.Config, client *realtime.Client) *Handler {
	return &Handler{
		Config: cfg,
		Client: client,
		logger: slog.With("component", "relay"),
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeAPIError(w http.ResponseWriter, apiErr *realtime.APIError) {
	writeJSON(w, apiErr.Status, ErrorEnvelope{Error: ErrorBody{
		Message: apiErr.Message,
		Type:    apiErr.Type,
		Code:    apiErr.Code,
	}})
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

// Session hands the browser the credential to use via the proxy. Missing
// or malformed keys get a 401 with a demo_mode hint, never a 200.
func (h *Handler) Session(w http.ResponseWriter, r *http.Request) {
	key := h.Config.APIKey
	if key == "" {
		h.logger.Warn("session requested but no API key configured")
		writeJSON(w, http.StatusUnauthorized, SessionError{
			Error:    "API key not configured",
			Details:  "Set OPENAI_API_KEY in the server environment or .env file",
			DemoMode: true,
		})
		return
	}
	if !realtime.ValidKeyShape(key) {
		h.logger.Warn("configured API key fails shape check", "api_key", realtime.Redact(key))
		writeJSON(w, http.StatusUnauthorized, SessionError{
			Error:    "API key appears to be invalid",
			Details:  "The API key does not match the expected format",
			DemoMode: true,
		})
		return
	}

	h.logger.Info("issued session credential", "api_key", realtime.Redact(key))
	writeJSON(w, http.StatusOK, SessionResponse{ClientSecret: ClientSecret{Value: key}})
}

// checkKey enforces the proxy precondition: a configured, well-shaped
// credential. Returns false after writing the 401 envelope.
func (h *Handler) checkKey(w http.ResponseWriter) bool {
	if h.Config.APIKey == "" {
		h.logger.Error("proxy request refused: API key not configured")
		writeAPIError(w, realtime.ErrKeyMissing())
		return false
	}
	if !realtime.ValidKeyShape(h.Config.APIKey) {
		h.logger.Error("proxy request refused: malformed API key",
			"api_key", realtime.Redact(h.Config.APIKey))
		writeAPIError(w, realtime.ErrKeyMalformed())
		return false
	}
	return true
}

// ExchangeSDP bridges the browser's offer to the remote negotiation
// endpoint and streams the answer back verbatim.
func (h *Handler) ExchangeSDP(w http.ResponseWriter, r *http.Request) {
	if !h.checkKey(w) {
		return
	}

	offer, err := io.ReadAll(r.Body)
	if err != nil || len(offer) == 0 {
		writeAPIError(w, &realtime.APIError{
			Status:  http.StatusBadRequest,
			Message: "Missing or unreadable SDP offer body",
			Type:    realtime.TypeAPIError,
			Code:    "invalid_request",
		})
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		model = h.Config.DefaultModel
	}
	voice := r.URL.Query().Get("voice")
	if voice == "" {
		voice = h.Config.DefaultVoice
	}

	answer, err := h.Client.ExchangeSDP(r.Context(), string(offer), model, voice)
	if err != nil {
		if apiErr, ok := err.(*realtime.APIError); ok {
			writeAPIError(w, apiErr)
			return
		}
		writeAPIError(w, realtime.ErrConnection(err))
		return
	}

	w.Header().Set("Content-Type", realtime.ContentTypeSDP)
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, answer); err != nil {
		h.logger.Error("failed to write SDP answer", "error", err)
	}
}

// Speech proxies a text-to-speech request and returns the synthesized
// audio as a downloadable MP3.
func (h *Handler) Speech(w http.ResponseWriter, r *http.Request) {
	if !h.checkKey(w) {
		return
	}

	input, err := io.ReadAll(r.Body)
	if err != nil || len(input) == 0 {
		writeAPIError(w, &realtime.APIError{
			Status:  http.StatusBadRequest,
			Message: "Missing request body",
			Type:    realtime.TypeAPIError,
			Code:    "invalid_request",
		})
		return
	}

	model := r.URL.Query().Get("model")
	if model == "" {
		model = h.Config.SpeechModel
	}
	voice := r.URL.Query().Get("voice")
	if voice == "" {
		voice = h.Config.DefaultVoice
	}

	audio, err := h.Client.Synthesize(r.Context(), string(input), model, voice)
	if err != nil {
		if apiErr, ok := err.(*realtime.APIError); ok {
			writeAPIError(w, apiErr)
			return
		}
		writeAPIError(w, realtime.ErrConnection(err))
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Content-Disposition", `attachment; filename="response.mp3"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(audio); err != nil {
		h.logger.Error("failed to write audio response", "error", err)
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/heartbeat", h.Heartbeat)
	r.Get("/session", h.Session)
	r.Post("/api/realtime/sdp", h.ExchangeSDP)
	r.Post("/api/speech", h.Speech)
}
