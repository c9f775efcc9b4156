// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package realtime

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestValidKeyShape(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{"", false},
		{"sk-short", false},
		{"pk-test-0123456789abcdef0123456789", false},
		{"sk-test-0123456789abcdef0123456789", true},
		{"sk-proj-abcdefghijklmnopqrstuvwxyz012345", true},
	}
	for _, tt := range tests {
		if got := ValidKeyShape(tt.key); got != tt.want {
			t.Errorf("ValidKeyShape(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestRedact(t *testing.T) {
	if got := Redact(""); got != "(unset)" {
		t.Errorf("Redact(\"\") = %q", got)
	}
	if got := Redact("sk-tiny"); got != "(redacted)" {
		t.Errorf("short key not fully redacted: %q", got)
	}

	key := "sk-test-0123456789abcdef0123456789"
	got := Redact(key)
	if !strings.HasPrefix(got, "sk-test...") {
		t.Errorf("expected prefix preserved, got %q", got)
	}
	if !strings.Contains(got, "6789") {
		t.Errorf("expected suffix preserved, got %q", got)
	}
	// The middle of the key must never appear.
	if strings.Contains(got, "0123456789abcdef") {
		t.Errorf("redacted form leaks the key: %q", got)
	}
}

func TestNormalizeStatus(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantType string
		wantCode string
	}{
		{"unauthorized", 401, "", TypeAuthenticationError, "api_key_invalid"},
		{"model not found", 404, "", TypeModelError, "model_not_found"},
		{
			"structured upstream error",
			500,
			`{"error":{"message":"boom","type":"server_error","code":"oops"}}`,
			"server_error",
			"oops",
		},
		{
			"structured error without type",
			500,
			`{"error":{"message":"boom"}}`,
			TypeAPIError,
			"",
		},
		{"opaque body", 503, "service melting", TypeAPIError, "upstream_error"},
		{"empty body", 500, "", TypeAPIError, "upstream_error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := normalizeStatus(tt.status, []byte(tt.body))
			if apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
			if apiErr.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", apiErr.Type, tt.wantType)
			}
			if apiErr.Code != tt.wantCode {
				t.Errorf("Code = %q, want %q", apiErr.Code, tt.wantCode)
			}
			if apiErr.Message == "" {
				t.Error("Message must never be empty")
			}
		})
	}
}

func TestExchangeSDPSendsBetaHeader(t *testing.T) {
	var gotBeta, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBeta = r.Header.Get("OpenAI-Beta")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("v=0\r\n"))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test-0123456789abcdef0123456789")
	answer, err := c.ExchangeSDP(context.Background(), "v=0\r\n", "m", "v")
	if err != nil {
		t.Fatal(err)
	}
	if answer != "v=0\r\n" {
		t.Errorf("unexpected answer %q", answer)
	}
	if gotBeta != "realtime" {
		t.Errorf("expected OpenAI-Beta: realtime, got %q", gotBeta)
	}
	if gotAuth != "Bearer sk-test-0123456789abcdef0123456789" {
		t.Errorf("unexpected Authorization %q", gotAuth)
	}
}

func TestErrConnectionPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp 127.0.0.1:1: connect: connection refused")
	apiErr := ErrConnection(cause)

	if !errors.Is(apiErr, cause) {
		t.Error("expected the network error to be reachable via errors.Is")
	}
	if !strings.Contains(apiErr.Error(), "connection refused") {
		t.Errorf("expected the cause in the error text, got %q", apiErr.Error())
	}
	if apiErr.Type != TypeAPIConnectionError || apiErr.Status != http.StatusBadGateway {
		t.Errorf("unexpected envelope: %+v", apiErr)
	}
}

func TestExchangeSDPConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewClient(srv.URL, "sk-test-0123456789abcdef0123456789")
	_, err := c.ExchangeSDP(context.Background(), "v=0\r\n", "m", "v")

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *APIError, got %T", err)
	}
	if apiErr.Type != TypeAPIConnectionError {
		t.Errorf("expected %q, got %q", TypeAPIConnectionError, apiErr.Type)
	}
	if apiErr.Status != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", apiErr.Status)
	}
}

func TestSynthesizeRequestShape(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte{0xFF, 0xFB})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sk-test-0123456789abcdef0123456789")
	audio, err := c.Synthesize(context.Background(), "hello", "tts-1", "nova")
	if err != nil {
		t.Fatal(err)
	}
	if len(audio) != 2 {
		t.Errorf("expected 2 audio bytes, got %d", len(audio))
	}
	if gotContentType != "application/json" {
		t.Errorf("expected application/json, got %q", gotContentType)
	}
	for _, want := range []string{`"model":"tts-1"`, `"input":"hello"`, `"voice":"nova"`, `"response_format":"mp3"`} {
		if !strings.Contains(gotBody, want) {
			t.Errorf("request body missing %s: %s", want, gotBody)
		}
	}
}
