// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package constants

import "time"

const (
	// MaxReconnectAttempts bounds automatic re-negotiation after a
	// transport drop; exhausting it requires a manual restart.
	MaxReconnectAttempts = 3
	ReconnectDelay       = 2 * time.Second

	HTTPTimeout      = 30 * time.Second
	ICEGatherTimeout = 15 * time.Second

	DataChannelName    = "oai-events"
	DataChannelRetrans = 3

	MonitorSendBuffer = 64
	MonitorWriteWait  = 10 * time.Second
	MonitorPingPeriod = 30 * time.Second

	SampleRate = 48000
	Channels   = 1
	// FrameSamples is samples per 20ms frame at 48kHz mono.
	FrameSamples  = SampleRate / 50
	FrameDuration = 20 * time.Millisecond
)
