// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package audio

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hraban/opus"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/voicelabs/voicebridge/internal/constants"
)

// Sink drains a remote audio track, decoding Opus payloads to PCM and
// reporting a smoothed level per frame. It is the analysis tap behind
// the waveform display; the decoded audio itself is not persisted.
type Sink struct {
	meter   *Meter
	logger  *slog.Logger
	OnLevel func(float64)
}

func NewSink(onLevel func(float64)) *Sink {
	return &Sink{
		meter:   NewMeter(0.3),
		logger:  slog.With("component", "audio_sink"),
		OnLevel: onLevel,
	}
}

// Consume reads the track until ctx is cancelled or the track ends.
// Intended to run as a goroutine from the OnTrack callback.
func (s *Sink) Consume(ctx context.Context, track *webrtc.TrackRemote) error {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		return fmt.Errorf("unsupported track kind %s", track.Kind())
	}

	s.logger.Info("remote audio track started",
		"codec", track.Codec().MimeType,
		"sample_rate", track.Codec().ClockRate,
	)
	defer s.logger.Info("remote audio track stopped")

	dec, err := opus.NewDecoder(constants.SampleRate, constants.Channels)
	if err != nil {
		return fmt.Errorf("creating opus decoder: %w", err)
	}

	pcmBuf := make([]int16, 5760) // max 120ms at 48kHz
	rtpBuf := make([]byte, 4096)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		n, _, readErr := track.Read(rtpBuf)
		if readErr != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Debug("track read error", "error", readErr)
			return nil
		}
		if n == 0 {
			continue
		}

		packet := &rtp.Packet{}
		if err := packet.Unmarshal(rtpBuf[:n]); err != nil {
			continue
		}
		if len(packet.Payload) == 0 {
			continue
		}

		decoded, err := dec.Decode(packet.Payload, pcmBuf)
		if err != nil {
			s.logger.Debug("opus decode error", "error", err)
			continue
		}
		if decoded == 0 {
			continue
		}

		level := s.meter.Update(pcmBuf[:decoded])
		if s.OnLevel != nil {
			s.OnLevel(level)
		}
	}
}
