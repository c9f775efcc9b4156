// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

// voicebridge-client is a headless voice client: it negotiates a media
// session through a running voicebridge server, prints the conversation
// to stdout and optionally exposes a live monitor WebSocket feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/voicelabs/voicebridge/internal/audio"
	"github.com/voicelabs/voicebridge/internal/events"
	"github.com/voicelabs/voicebridge/internal/monitor"
	"github.com/voicelabs/voicebridge/internal/session"
	"github.com/voicelabs/voicebridge/internal/transcript"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "voicebridge server URL")
	model := flag.String("model", "gpt-4o-mini-realtime-preview-2024-12-17", "realtime model")
	voice := flag.String("voice", "alloy", "assistant voice")
	input := flag.String("input", "", "raw s16le 48kHz mono PCM file to send (default: silence)")
	monitorAddr := flag.String("monitor", "", "address for the live monitor feed, e.g. :9090 (disabled when empty)")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env")
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})))

	hub := monitor.NewHub()
	if *monitorAddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("GET /ws", hub.ServeWS)
		go func() {
			slog.Info("monitor feed listening", "addr", *monitorAddr)
			if err := http.ListenAndServe(*monitorAddr, mux); err != nil {
				slog.Error("monitor server error", "error", err)
			}
		}()
	}

	log := transcript.NewLog()

	var ctrl *session.Controller

	handler := events.NewHandler(events.HandlerOptions{
		Transcript: log,
		OnStatus: func(s events.Status) {
			ctrl.SetActivity(s)
		},
		OnEntry: func(e transcript.Entry) {
			fmt.Printf("[%s] %s: %s\n", e.Timestamp.Format("15:04:05"), e.Sender, e.Text)
			hub.Broadcast(monitor.KindTranscript, e)
		},
	})

	sink := audio.NewSink(func(level float64) {
		hub.Broadcast(monitor.KindLevel, level)
	})

	ctrl = session.NewController(session.Options{
		ServerURL: *serverURL,
		Model:     *model,
		Voice:     *voice,
		NewSource: func() (audio.Source, error) {
			if *input == "" {
				return audio.NewPCMSource(nil)
			}
			f, err := os.Open(*input)
			if err != nil {
				return nil, err
			}
			return audio.NewPCMSource(f)
		},
		OnStateChange: func(old, new session.State) {
			fmt.Printf("-- %s -> %s\n", old, new)
			hub.Broadcast(monitor.KindStatus, new.String())
		},
		OnChannelMessage: func(data []byte) {
			handler.Handle(data)
		},
		OnRemoteTrack: func(ctx context.Context, track *webrtc.TrackRemote) {
			if err := sink.Consume(ctx, track); err != nil {
				slog.Error("remote track error", "error", err)
			}
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		slog.Error("failed to start session", "error", err)
		os.Exit(1)
	}

	<-ctx.Done()
	slog.Info("stopping")
	ctrl.Stop()
	hub.Close()

	for _, e := range log.Entries() {
		slog.Debug("transcript entry", "sender", e.Sender, "text", e.Text)
	}
}
