// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

// Package audio provides the local capture source feeding the outbound
// media track and the sink that taps inbound audio for level metering.
package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/voicelabs/voicebridge/internal/constants"
)

// Source is a local audio input attached to the peer connection.
type Source interface {
	// Track returns the local track to add to the peer connection.
	Track() (webrtc.TrackLocal, error)
	// Start begins pushing frames until ctx is cancelled or Close is called.
	Start(ctx context.Context) error
	Close() error
}

// PCMSource reads raw s16le PCM (48kHz mono) from a reader, encodes
// 20ms Opus frames and writes them to a local sample track. A nil
// reader produces silence, which keeps the demo runnable without a
// capture device.
type PCMSource struct {
	reader io.Reader
	track  *webrtc.TrackLocalStaticSample
	enc    *opus.Encoder
	done   chan struct{}
	closed bool
	logger *slog.Logger

	// OnLevel, when set, receives the smoothed input level per frame.
	OnLevel func(float64)
	meter   *Meter
}

func NewPCMSource(r io.Reader) (*PCMSource, error) {
	enc, err := opus.NewEncoder(constants.SampleRate, constants.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("creating opus encoder: %w", err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: constants.SampleRate,
		Channels:  constants.Channels,
	}, "audio", "voicebridge")
	if err != nil {
		return nil, fmt.Errorf("creating local track: %w", err)
	}

	return &PCMSource{
		reader: r,
		track:  track,
		enc:    enc,
		done:   make(chan struct{}),
		meter:  NewMeter(0.3),
		logger: slog.With("component", "audio_source"),
	}, nil
}

func (s *PCMSource) Track() (webrtc.TrackLocal, error) {
	return s.track, nil
}

func (s *PCMSource) Start(ctx context.Context) error {
	go s.run(ctx)
	return nil
}

func (s *PCMSource) run(ctx context.Context) {
	s.logger.Debug("audio source started")
	defer s.logger.Debug("audio source stopped")

	pcm := make([]int16, constants.FrameSamples)
	raw := make([]byte, constants.FrameSamples*2)
	encoded := make([]byte, 1500)

	ticker := time.NewTicker(constants.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
		}

		if err := s.readFrame(raw, pcm); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Error("audio read error", "error", err)
			}
			return
		}

		if s.OnLevel != nil {
			s.OnLevel(s.meter.Update(pcm))
		}

		n, err := s.enc.Encode(pcm, encoded)
		if err != nil {
			s.logger.Error("opus encode error", "error", err)
			continue
		}

		frame := make([]byte, n)
		copy(frame, encoded[:n])
		if err := s.track.WriteSample(media.Sample{
			Data:     frame,
			Duration: constants.FrameDuration,
		}); err != nil {
			s.logger.Debug("track write error", "error", err)
			return
		}
	}
}

func (s *PCMSource) readFrame(raw []byte, pcm []int16) error {
	if s.reader == nil {
		for i := range pcm {
			pcm[i] = 0
		}
		return nil
	}
	if _, err := io.ReadFull(s.reader, raw); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return io.EOF
		}
		return err
	}
	for i := range pcm {
		pcm[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return nil
}

func (s *PCMSource) Close() error {
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
