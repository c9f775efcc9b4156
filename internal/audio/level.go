// SPDX-FileCopyrightText: 2026 VoiceBridge contributors
// SPDX-License-Identifier: MIT

package audio

import "math"

// RMS returns the root-mean-square amplitude of a PCM frame, normalized
// to 0..1.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Meter smooths per-frame RMS values so the visualization tap doesn't
// flicker. alpha is the weight of the newest frame.
type Meter struct {
	alpha float64
	level float64
}

func NewMeter(alpha float64) *Meter {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.3
	}
	return &Meter{alpha: alpha}
}

func (m *Meter) Update(samples []int16) float64 {
	m.level = m.alpha*RMS(samples) + (1-m.alpha)*m.level
	return m.level
}

func (m *Meter) Level() float64 {
	return m.level
}
