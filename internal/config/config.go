// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

// Package config provides application configuration read from the
// environment. A missing API key is a degraded mode, not a startup
// failure: the relay reports demo_mode to clients instead.
package config

import "os"

type Config struct {
	Port            string
	APIKey          string
	RealtimeBaseURL string
	DefaultModel    string
	DefaultVoice    string
	SpeechModel     string
	LogLevel        string
}

func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		APIKey:          os.Getenv("OPENAI_API_KEY"),
		RealtimeBaseURL: getEnv("REALTIME_BASE_URL", "https://api.openai.com/v1"),
		DefaultModel:    getEnv("REALTIME_MODEL", "gpt-4o-mini-realtime-preview-2024-12-17"),
		DefaultVoice:    getEnv("REALTIME_VOICE", "alloy"),
		SpeechModel:     getEnv("SPEECH_MODEL", "tts-1"),
		LogLevel:        getEnv("VB_LOG_LEVEL", "info"),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}
