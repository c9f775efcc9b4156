// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

// Package session drives a peer connection from idle to an established
// media session against the backend's signaling proxy, and owns its full
// lifecycle: local capture, the auxiliary event channel, connection-state
// observation and bounded automatic re-negotiation.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/voicelabs/voicebridge/internal/audio"
	"github.com/voicelabs/voicebridge/internal/constants"
	"github.com/voicelabs/voicebridge/internal/events"
	"github.com/voicelabs/voicebridge/internal/realtime"
)

// Options configures a Controller. Callbacks are invoked from the
// controller's own goroutines and must not call back into it, with the
// exception of SetActivity and Stop which are safe anywhere.
type Options struct {
	// ServerURL is the base URL of the credential relay / signaling proxy.
	ServerURL string
	Model     string
	Voice     string

	// NewSource builds the local audio input for each connection
	// attempt. nil means a silent source.
	NewSource func() (audio.Source, error)

	HTTPClient     *http.Client
	MaxReconnects  int
	ReconnectDelay time.Duration
	ICEServers     []webrtc.ICEServer

	OnStateChange    func(old, new State)
	OnChannelMessage func(data []byte)
	OnChannelOpen    func()
	// OnRemoteTrack receives inbound media; ctx is cancelled on teardown.
	OnRemoteTrack func(ctx context.Context, track *webrtc.TrackRemote)

	Logger *slog.Logger
}

// Controller owns at most one live peer connection. Starting a new
// session tears down any prior one first.
type Controller struct {
	mu   sync.Mutex
	opts Options

	httpClient *http.Client
	logger     *slog.Logger

	state  State
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	source audio.Source

	// gen invalidates callbacks and in-flight negotiations from
	// torn-down attempts.
	gen uint64

	sessionCancel  context.CancelFunc
	retries        int
	userStopped    bool
	reconnectTimer *time.Timer
	startedAt      time.Time

	// reconnectFn is what the retry timer fires; tests override it.
	reconnectFn func()
}

func NewController(opts Options) *Controller {
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = constants.MaxReconnectAttempts
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = constants.ReconnectDelay
	}
	if opts.ICEServers == nil {
		opts.ICEServers = []webrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		}
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.HTTPTimeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.With("component", "session")
	}

	c := &Controller{
		opts:       opts,
		httpClient: httpClient,
		logger:     logger,
		state:      StateIdle,
	}
	c.reconnectFn = func() {
		if err := c.Start(context.Background()); err != nil {
			c.logger.Error("reconnect attempt failed", "error", err)
		}
	}
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start negotiates a new session. Any existing session is torn down
// first. On failure the controller ends in the failed state with all
// partial resources released; a Stop racing the negotiation makes its
// eventual result a clean no-op.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	c.teardownLocked()
	c.userStopped = false
	gen := c.gen
	c.mu.Unlock()

	err := c.negotiate(ctx, gen)
	if errors.Is(err, errStopped) {
		return nil
	}
	if err != nil {
		c.logger.Error("negotiation failed", "error", err)
		c.mu.Lock()
		var notify func()
		if c.gen == gen {
			c.teardownLocked()
			notify = c.setStateLocked(StateFailed)
		}
		c.mu.Unlock()
		if notify != nil {
			notify()
		}
		return err
	}
	return nil
}

func (c *Controller) negotiate(ctx context.Context, gen uint64) error {
	if err := c.transition(gen, StateAcquiringCredential); err != nil {
		return err
	}
	if _, err := c.fetchCredential(ctx); err != nil {
		return err
	}
	c.logger.Info("session credential received")

	if err := c.transition(gen, StateCapturingMedia); err != nil {
		return err
	}
	source, err := c.newSource()
	if err != nil {
		return newError(CategoryMediaAccess, "acquiring local audio input", err)
	}
	track, err := source.Track()
	if err != nil {
		source.Close()
		return newError(CategoryMediaAccess, "preparing local audio track", err)
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: c.opts.ICEServers})
	if err != nil {
		source.Close()
		return newError(CategorySignaling, "creating peer connection", err)
	}

	sessionCtx, sessionCancel := context.WithCancel(context.Background())

	// Install the attempt's resources only if no Stop slipped in.
	c.mu.Lock()
	if c.gen != gen || c.userStopped {
		c.mu.Unlock()
		pc.Close()
		source.Close()
		sessionCancel()
		return errStopped
	}
	c.pc = pc
	c.source = source
	c.sessionCancel = sessionCancel
	c.mu.Unlock()

	if _, err := pc.AddTrack(track); err != nil {
		return newError(CategorySignaling, "attaching local audio track", err)
	}
	if err := source.Start(sessionCtx); err != nil {
		return newError(CategoryMediaAccess, "starting local audio input", err)
	}

	dc, err := pc.CreateDataChannel(constants.DataChannelName, &webrtc.DataChannelInit{
		Ordered:        boolPtr(true),
		MaxRetransmits: uint16Ptr(constants.DataChannelRetrans),
	})
	if err != nil {
		return newError(CategoryChannel, "creating event channel", err)
	}
	c.mu.Lock()
	c.dc = dc
	c.mu.Unlock()

	c.wireCallbacks(gen, sessionCtx, pc, dc)

	if err := c.transition(gen, StateOffering); err != nil {
		return err
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return newError(CategorySignaling, "creating offer", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return newError(CategorySignaling, "applying local description", err)
	}
	select {
	case <-gatherComplete:
	case <-time.After(constants.ICEGatherTimeout):
		c.logger.Warn("ICE gathering timed out, sending partial offer")
	case <-ctx.Done():
		return newError(CategorySignaling, "cancelled during ICE gathering", ctx.Err())
	}

	if err := c.transition(gen, StateAwaitingAnswer); err != nil {
		return err
	}
	local := pc.LocalDescription()
	if local == nil {
		return newError(CategorySignaling, "no local description after gathering", nil)
	}
	answer, err := c.exchangeSDP(ctx, local.SDP)
	if err != nil {
		return err
	}

	// Guard against applying an answer to a torn-down connection.
	c.mu.Lock()
	stale := c.gen != gen || c.userStopped
	c.mu.Unlock()
	if stale {
		return errStopped
	}

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answer,
	}); err != nil {
		return newError(CategorySignaling, "applying remote description", err)
	}

	if err := c.transition(gen, StateEstablished); err != nil {
		return err
	}

	c.mu.Lock()
	c.retries = 0
	c.startedAt = time.Now()
	c.mu.Unlock()

	c.logger.Info("session established", "model", c.opts.Model, "voice", c.opts.Voice)
	return nil
}

func (c *Controller) newSource() (audio.Source, error) {
	if c.opts.NewSource != nil {
		return c.opts.NewSource()
	}
	return audio.NewPCMSource(nil)
}

func (c *Controller) wireCallbacks(gen uint64, sessionCtx context.Context, pc *webrtc.PeerConnection, dc *webrtc.DataChannel) {
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if c.staleGen(gen) {
			return
		}
		c.logger.Info("connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			c.handleTransportDown(gen, "connection "+state.String())
		}
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if c.staleGen(gen) {
			return
		}
		c.logger.Info("received remote track", "codec", track.Codec().MimeType)
		if c.opts.OnRemoteTrack != nil {
			go c.opts.OnRemoteTrack(sessionCtx, track)
		}
	})

	dc.OnOpen(func() {
		if c.staleGen(gen) {
			return
		}
		c.logger.Info("event channel opened")
		if payload, err := events.VoiceConfig(c.opts.Voice); err == nil {
			if sendErr := dc.Send(payload); sendErr != nil {
				c.logger.Error("failed to send voice config", "error", sendErr)
			} else {
				c.logger.Info("voice configured", "voice", c.opts.Voice)
			}
		}
		if c.opts.OnChannelOpen != nil {
			c.opts.OnChannelOpen()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.staleGen(gen) {
			return
		}
		if c.opts.OnChannelMessage != nil {
			c.opts.OnChannelMessage(msg.Data)
		}
	})

	dc.OnError(func(err error) {
		if c.staleGen(gen) {
			return
		}
		c.logger.Error("event channel error", "error", err)
	})

	dc.OnClose(func() {
		if c.staleGen(gen) {
			return
		}
		c.logger.Warn("event channel closed")
		c.handleTransportDown(gen, "event channel closed")
	})
}

func (c *Controller) staleGen(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen != gen
}

// handleTransportDown schedules a bounded automatic re-negotiation after
// a transport drop the user did not request.
func (c *Controller) handleTransportDown(gen uint64, reason string) {
	c.mu.Lock()
	if c.gen != gen || c.userStopped || c.reconnectTimer != nil {
		c.mu.Unlock()
		return
	}
	if c.retries >= c.opts.MaxReconnects {
		c.logger.Error("max reconnect attempts reached, manual restart required",
			"attempts", c.retries)
		c.teardownLocked()
		notify := c.setStateLocked(StateFailed)
		c.mu.Unlock()
		if notify != nil {
			notify()
		}
		return
	}
	c.retries++
	attempt := c.retries
	delay := c.opts.ReconnectDelay
	c.logger.Warn("transport lost, scheduling reconnect",
		"reason", reason,
		"attempt", attempt,
		"delay", delay,
	)
	c.reconnectTimer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		c.reconnectTimer = nil
		stopped := c.userStopped
		c.mu.Unlock()
		if !stopped {
			c.reconnectFn()
		}
	})
	c.mu.Unlock()
}

// Stop releases all session resources. Idempotent and safe from any
// state, including mid-negotiation: the in-flight attempt's eventual
// result is discarded.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.userStopped = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.state == StateIdle {
		c.mu.Unlock()
		return
	}
	notifyClosing := c.setStateLocked(StateClosing)
	c.teardownLocked()
	c.retries = 0
	started := c.startedAt
	c.startedAt = time.Time{}
	notifyIdle := c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if notifyClosing != nil {
		notifyClosing()
	}
	if notifyIdle != nil {
		notifyIdle()
	}
	if !started.IsZero() {
		c.logger.Info("conversation ended", "duration", time.Since(started).Round(10*time.Millisecond))
	}
}

// teardownLocked releases transport resources and invalidates callbacks
// from the current attempt. Caller holds c.mu.
func (c *Controller) teardownLocked() {
	c.gen++
	if c.sessionCancel != nil {
		c.sessionCancel()
		c.sessionCancel = nil
	}
	if c.dc != nil {
		if err := c.dc.Close(); err != nil {
			c.logger.Debug("closing event channel", "error", err)
		}
		c.dc = nil
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			c.logger.Debug("closing peer connection", "error", err)
		}
		c.pc = nil
	}
	if c.source != nil {
		if err := c.source.Close(); err != nil {
			c.logger.Debug("closing audio source", "error", err)
		}
		c.source = nil
	}
}

// SetActivity applies a conversation sub-state reported by the event
// stream. Ignored unless the session is established.
func (c *Controller) SetActivity(status events.Status) {
	c.mu.Lock()
	if !c.state.IsEstablished() {
		c.mu.Unlock()
		return
	}
	var notify func()
	switch status {
	case events.StatusListening:
		notify = c.setStateLocked(StateListening)
	case events.StatusProcessing:
		notify = c.setStateLocked(StateProcessing)
	case events.StatusEstablished:
		notify = c.setStateLocked(StateEstablished)
	}
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
}

// Send writes a raw message to the auxiliary channel.
func (c *Controller) Send(data []byte) error {
	c.mu.Lock()
	dc := c.dc
	c.mu.Unlock()
	if dc == nil {
		return newError(CategoryChannel, "event channel not open", nil)
	}
	if err := dc.Send(data); err != nil {
		return newError(CategoryChannel, "sending on event channel", err)
	}
	return nil
}

func (c *Controller) transition(gen uint64, s State) error {
	c.mu.Lock()
	if c.gen != gen || c.userStopped {
		c.mu.Unlock()
		return errStopped
	}
	notify := c.setStateLocked(s)
	c.mu.Unlock()
	if notify != nil {
		notify()
	}
	return nil
}

// setStateLocked mutates state and returns the OnStateChange delivery
// to run once c.mu is released, or nil when nothing changed. Firing the
// callback outside the lock keeps Stop and SetActivity safe to call
// from within it.
func (c *Controller) setStateLocked(s State) func() {
	if c.state == s {
		return nil
	}
	old := c.state
	c.state = s
	if c.opts.OnStateChange == nil {
		return nil
	}
	return func() { c.opts.OnStateChange(old, s) }
}

func (c *Controller) fetchCredential(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		strings.TrimRight(c.opts.ServerURL, "/")+"/session", http.NoBody)
	if err != nil {
		return "", newError(CategoryCredential, "creating session request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", newError(CategoryCredential, "credential relay unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newError(CategoryCredential, "reading session response", err)
	}

	if resp.StatusCode != http.StatusOK {
		var relayErr struct {
			Error    string `json:"error"`
			Details  string `json:"details"`
			DemoMode bool   `json:"demo_mode"`
		}
		msg := fmt.Sprintf("relay responded with status %d", resp.StatusCode)
		if json.Unmarshal(body, &relayErr) == nil && relayErr.Error != "" {
			msg = relayErr.Error
		}
		return "", &Error{Category: CategoryCredential, Message: msg, Status: resp.StatusCode}
	}

	var session struct {
		ClientSecret struct {
			Value string `json:"value"`
		} `json:"client_secret"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return "", newError(CategoryCredential, "parsing session response", err)
	}
	if session.ClientSecret.Value == "" {
		return "", newError(CategoryCredential, "session response missing client_secret", nil)
	}
	return session.ClientSecret.Value, nil
}

func (c *Controller) exchangeSDP(ctx context.Context, offer string) (string, error) {
	endpoint := strings.TrimRight(c.opts.ServerURL, "/") + "/api/realtime/sdp?" + url.Values{
		"model": {c.opts.Model},
		"voice": {c.opts.Voice},
	}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(offer))
	if err != nil {
		return "", newError(CategorySignaling, "creating signaling request", err)
	}
	req.Header.Set("Content-Type", realtime.ContentTypeSDP)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &Error{
			Category:   CategorySignaling,
			Message:    "signaling proxy unreachable",
			RemoteType: realtime.TypeAPIConnectionError,
			Cause:      err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", newError(CategorySignaling, "reading signaling response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Message string `json:"message"`
				Type    string `json:"type"`
				Code    string `json:"code"`
			} `json:"error"`
		}
		msg := fmt.Sprintf("signaling failed with status %d", resp.StatusCode)
		remoteType := ""
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Message != "" {
			msg = envelope.Error.Message
			remoteType = envelope.Error.Type
		}
		return "", &Error{
			Category:   CategorySignaling,
			Message:    msg,
			Status:     resp.StatusCode,
			RemoteType: remoteType,
		}
	}

	return string(body), nil
}

func boolPtr(v bool) *bool       { return &v }
func uint16Ptr(v uint16) *uint16 { return &v }
