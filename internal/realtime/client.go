// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

// Package realtime is the outbound half of the signaling proxy: it
// forwards session-description offers and speech-synthesis requests to
// the remote realtime speech API and normalizes its error shapes.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/voicelabs/voicebridge/internal/constants"
)

const ContentTypeSDP = "application/sdp"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: constants.HTTPTimeout,
		},
		logger: slog.With("component", "realtime_client"),
	}
}

// ExchangeSDP forwards an offer verbatim to the realtime negotiation
// endpoint and returns the raw answer body. Failures come back as
// *APIError with the status to relay.
func (c *Client) ExchangeSDP(ctx context.Context, offer, model, voice string) (string, error) {
	endpoint := c.baseURL + "/realtime?" + url.Values{
		"model": {model},
		"voice": {voice},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", ContentTypeSDP)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "realtime")

	c.logger.Info("forwarding SDP offer",
		"model", model,
		"voice", voice,
		"offer_bytes", len(offer),
		"api_key", Redact(c.apiKey),
	)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("no response from realtime API", "error", err)
		return "", ErrConnection(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", ErrConnection(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := normalizeStatus(resp.StatusCode, body)
		c.logger.Error("realtime API rejected offer",
			"status", resp.StatusCode,
			"type", apiErr.Type,
		)
		return "", apiErr
	}

	c.logger.Info("received SDP answer", "answer_bytes", len(body))
	return string(body), nil
}

// Synthesize runs a text-to-speech request and returns the MP3 payload.
func (c *Client) Synthesize(ctx context.Context, input, model, voice string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"model":           model,
		"input":           input,
		"voice":           voice,
		"response_format": "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling speech request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/audio/speech", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("no response from speech API", "error", err)
		return nil, ErrConnection(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, ErrConnection(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, normalizeStatus(resp.StatusCode, body)
	}

	return body, nil
}

// ValidKeyShape performs the lexical check both the relay and the proxy
// apply before any upstream call: expected prefix and minimum length.
func ValidKeyShape(key string) bool {
	return strings.HasPrefix(key, "sk-") && len(key) >= 30
}

// Redact renders a key safe for logs: first 7 and last 4 characters.
func Redact(key string) string {
	if key == "" {
		return "(unset)"
	}
	if len(key) < 12 {
		return "(redacted)"
	}
	return fmt.Sprintf("%s...%s (%d chars)", key[:7], key[len(key)-4:], len(key))
}
