// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/voicelabs/voicebridge/internal/audio"
	"github.com/voicelabs/voicebridge/internal/events"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stateRecorder collects OnStateChange transitions.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(_, new State) {
	r.mu.Lock()
	r.states = append(r.states, new)
	r.mu.Unlock()
}

func (r *stateRecorder) all() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]State, len(r.states))
	copy(out, r.states)
	return out
}

func TestStartFailsWithoutRelay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewController(Options{
		ServerURL: srv.URL,
		Logger:    discardLogger(),
	})

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected an error with no relay running")
	}
	if !IsCategory(err, CategoryCredential) {
		t.Errorf("expected credential category, got %v", err)
	}
	if c.State() != StateFailed {
		t.Errorf("expected failed state, got %s", c.State())
	}
}

func TestStartCredentialRefusal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"API key not configured","demo_mode":true}`))
	}))
	defer srv.Close()

	rec := &stateRecorder{}
	c := NewController(Options{
		ServerURL:     srv.URL,
		OnStateChange: rec.record,
		Logger:        discardLogger(),
	})

	err := c.Start(context.Background())
	if err == nil {
		t.Fatal("expected an error")
	}

	var sessErr *Error
	if !errors.As(err, &sessErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if sessErr.Category != CategoryCredential {
		t.Errorf("expected credential category, got %s", sessErr.Category)
	}
	if sessErr.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", sessErr.Status)
	}
	if sessErr.Message != "API key not configured" {
		t.Errorf("relay message lost, got %q", sessErr.Message)
	}

	states := rec.all()
	want := []State{StateAcquiringCredential, StateFailed}
	if len(states) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Errorf("transition[%d]: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestStartMediaAccessFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_secret":{"value":"sk-test-0123456789abcdef0123456789"}}`))
	}))
	defer srv.Close()

	c := NewController(Options{
		ServerURL: srv.URL,
		NewSource: func() (audio.Source, error) {
			return nil, errors.New("no capture device")
		},
		Logger: discardLogger(),
	})

	err := c.Start(context.Background())
	if !IsCategory(err, CategoryMediaAccess) {
		t.Errorf("expected media access category, got %v", err)
	}
	if c.State() != StateFailed {
		t.Errorf("expected failed state, got %s", c.State())
	}
}

func TestStopDuringNegotiationIsCleanNoop(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		w.Write([]byte(`{"client_secret":{"value":"sk-test-0123456789abcdef0123456789"}}`))
	}))
	defer srv.Close()

	c := NewController(Options{
		ServerURL: srv.URL,
		Logger:    discardLogger(),
	})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	<-entered
	c.Stop()
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("aborted negotiation must return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return")
	}
	if c.State() != StateIdle {
		t.Errorf("expected idle after stop, got %s", c.State())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	c := NewController(Options{Logger: discardLogger()})

	c.Stop()
	c.Stop()

	if c.State() != StateIdle {
		t.Errorf("expected idle, got %s", c.State())
	}
}

func TestStopFromStateChangeCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"client_secret":{"value":"sk-test-0123456789abcdef0123456789"}}`))
	}))
	defer srv.Close()

	var c *Controller
	c = NewController(Options{
		ServerURL: srv.URL,
		OnStateChange: func(_, new State) {
			if new == StateAcquiringCredential {
				c.Stop()
			}
		},
		Logger: discardLogger(),
	})

	done := make(chan error, 1)
	go func() { done <- c.Start(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("stopped negotiation must return nil, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start never returned after Stop from the state callback")
	}
	if c.State() != StateIdle {
		t.Errorf("expected idle, got %s", c.State())
	}
}

func TestSetActivityFromStateChangeCallback(t *testing.T) {
	var c *Controller
	c = NewController(Options{
		OnStateChange: func(_, new State) {
			if new == StateEstablished {
				c.SetActivity(events.StatusListening)
			}
		},
		Logger: discardLogger(),
	})

	c.mu.Lock()
	c.state = StateProcessing
	c.mu.Unlock()

	returned := make(chan struct{})
	go func() {
		c.SetActivity(events.StatusEstablished)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("SetActivity never returned when re-entered from the state callback")
	}
	if c.State() != StateListening {
		t.Errorf("expected listening, got %s", c.State())
	}
}

func TestStopAfterFailedStart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewController(Options{ServerURL: srv.URL, Logger: discardLogger()})
	if err := c.Start(context.Background()); err == nil {
		t.Fatal("expected Start to fail")
	}

	c.Stop()
	c.Stop()

	if c.State() != StateIdle {
		t.Errorf("expected idle, got %s", c.State())
	}
	if c.pc != nil || c.dc != nil || c.source != nil {
		t.Error("expected all resources released")
	}
}

func TestReconnectCeiling(t *testing.T) {
	fired := make(chan struct{}, 8)
	c := NewController(Options{
		MaxReconnects:  3,
		ReconnectDelay: time.Millisecond,
		Logger:         discardLogger(),
	})
	c.reconnectFn = func() { fired <- struct{}{} }

	gen := c.gen
	for attempt := 1; attempt <= 3; attempt++ {
		c.handleTransportDown(gen, "test drop")
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatalf("attempt %d never fired", attempt)
		}
	}

	// The ceiling is reached: no fourth attempt, terminal failure.
	c.handleTransportDown(gen, "test drop")
	select {
	case <-fired:
		t.Fatal("reconnect fired past the ceiling")
	case <-time.After(50 * time.Millisecond):
	}
	if c.State() != StateFailed {
		t.Errorf("expected failed state at ceiling, got %s", c.State())
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	fired := make(chan struct{}, 1)
	c := NewController(Options{
		MaxReconnects:  3,
		ReconnectDelay: 20 * time.Millisecond,
		Logger:         discardLogger(),
	})
	c.reconnectFn = func() { fired <- struct{}{} }

	c.handleTransportDown(c.gen, "test drop")
	c.Stop()

	select {
	case <-fired:
		t.Fatal("reconnect fired after user stop")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestTransportDownFromStaleGenerationIgnored(t *testing.T) {
	fired := make(chan struct{}, 1)
	c := NewController(Options{
		ReconnectDelay: time.Millisecond,
		Logger:         discardLogger(),
	})
	c.reconnectFn = func() { fired <- struct{}{} }

	staleGen := c.gen
	c.mu.Lock()
	c.teardownLocked()
	c.mu.Unlock()

	c.handleTransportDown(staleGen, "stale callback")

	select {
	case <-fired:
		t.Fatal("stale transport callback scheduled a reconnect")
	case <-time.After(30 * time.Millisecond):
	}
}

func TestSetActivityOnlyWhileEstablished(t *testing.T) {
	c := NewController(Options{Logger: discardLogger()})

	c.SetActivity(events.StatusListening)
	if c.State() != StateIdle {
		t.Errorf("activity must be ignored while idle, got %s", c.State())
	}

	c.mu.Lock()
	c.state = StateEstablished
	c.mu.Unlock()

	c.SetActivity(events.StatusListening)
	if c.State() != StateListening {
		t.Errorf("expected listening, got %s", c.State())
	}
	c.SetActivity(events.StatusProcessing)
	if c.State() != StateProcessing {
		t.Errorf("expected processing, got %s", c.State())
	}
	c.SetActivity(events.StatusEstablished)
	if c.State() != StateEstablished {
		t.Errorf("expected established, got %s", c.State())
	}
}

func TestSendWithoutChannel(t *testing.T) {
	c := NewController(Options{Logger: discardLogger()})

	err := c.Send([]byte(`{"type":"client_message"}`))
	if !IsCategory(err, CategoryChannel) {
		t.Errorf("expected channel category, got %v", err)
	}
}

func TestFetchCredentialParsesSecret(t *testing.T) {
	const secret = "sk-test-0123456789abcdef0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"client_secret":{"value":"` + secret + `"}}`))
	}))
	defer srv.Close()

	c := NewController(Options{ServerURL: srv.URL, Logger: discardLogger()})
	got, err := c.fetchCredential(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != secret {
		t.Errorf("expected %q, got %q", secret, got)
	}
}

func TestFetchCredentialMissingSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewController(Options{ServerURL: srv.URL, Logger: discardLogger()})
	_, err := c.fetchCredential(context.Background())
	if !IsCategory(err, CategoryCredential) {
		t.Errorf("expected credential category, got %v", err)
	}
}

func TestExchangeSDPParsesErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"message":"bad key","type":"authentication_error","code":"api_key_invalid"}}`))
	}))
	defer srv.Close()

	c := NewController(Options{ServerURL: srv.URL, Logger: discardLogger()})
	_, err := c.exchangeSDP(context.Background(), "v=0\r\n")

	var sessErr *Error
	if !errors.As(err, &sessErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if sessErr.Category != CategorySignaling {
		t.Errorf("expected signaling category, got %s", sessErr.Category)
	}
	if sessErr.Status != http.StatusUnauthorized {
		t.Errorf("expected status 401, got %d", sessErr.Status)
	}
	if sessErr.RemoteType != "authentication_error" {
		t.Errorf("expected remote type authentication_error, got %q", sessErr.RemoteType)
	}
	if sessErr.Message != "bad key" {
		t.Errorf("expected upstream message, got %q", sessErr.Message)
	}
}

func TestExchangeSDPReturnsAnswer(t *testing.T) {
	const answer = "v=0\r\ns=answer\r\n"
	var gotContentType, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		gotModel = r.URL.Query().Get("model")
		w.Write([]byte(answer))
	}))
	defer srv.Close()

	c := NewController(Options{
		ServerURL: srv.URL,
		Model:     "test-model",
		Voice:     "alloy",
		Logger:    discardLogger(),
	})
	got, err := c.exchangeSDP(context.Background(), "v=0\r\n")
	if err != nil {
		t.Fatal(err)
	}
	if got != answer {
		t.Errorf("expected %q, got %q", answer, got)
	}
	if gotContentType != "application/sdp" {
		t.Errorf("expected application/sdp, got %q", gotContentType)
	}
	if gotModel != "test-model" {
		t.Errorf("expected model test-model, got %q", gotModel)
	}
}

func TestStateClassification(t *testing.T) {
	negotiating := []State{StateAcquiringCredential, StateCapturingMedia, StateOffering, StateAwaitingAnswer}
	for _, s := range negotiating {
		if !s.IsNegotiating() || s.IsEstablished() {
			t.Errorf("%s misclassified", s)
		}
	}
	established := []State{StateEstablished, StateListening, StateProcessing}
	for _, s := range established {
		if !s.IsEstablished() || s.IsNegotiating() {
			t.Errorf("%s misclassified", s)
		}
	}
	for _, s := range []State{StateIdle, StateFailed} {
		if s.IsActive() {
			t.Errorf("%s must not be active", s)
		}
	}
	if !StateClosing.IsActive() {
		t.Error("closing must be active")
	}
}
