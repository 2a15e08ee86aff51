package vad

import (
	"fmt"
	"math"
)

// Span is a region of detected speech within an audio window, in seconds
// relative to window start.
type Span struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the span length in seconds.
func (s Span) Duration() float64 {
	return s.End - s.Start
}

// Detector identifies spans of speech within an audio window. The samples
// are normalized float32 mono PCM.
type Detector interface {
	SpeechSpans(samples []float32, sampleRate int) ([]Span, error)
}

// EnergyDetector is a lightweight RMS-energy voice detector. It scores
// fixed-size windows against a threshold and merges adjacent voiced
// windows into spans, bridging short silence gaps (hangover).
type EnergyDetector struct {
	threshold     float64
	windowSamples int
	minSpeechSecs float64
	hangoverSecs  float64
}

// NewEnergyDetector creates an energy-based detector.
func NewEnergyDetector(threshold float64, windowSamples int, minSpeechSecs, hangoverSecs float64) (*EnergyDetector, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}
	if windowSamples <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", windowSamples)
	}
	return &EnergyDetector{
		threshold:     threshold,
		windowSamples: windowSamples,
		minSpeechSecs: minSpeechSecs,
		hangoverSecs:  hangoverSecs,
	}, nil
}

// SpeechSpans scans the window and returns merged speech spans.
func (d *EnergyDetector) SpeechSpans(samples []float32, sampleRate int) ([]Span, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	secondsPerWindow := float64(d.windowSamples) / float64(sampleRate)

	var spans []Span
	var current *Span
	for i := 0; i < len(samples); i += d.windowSamples {
		end := i + d.windowSamples
		if end > len(samples) {
			end = len(samples)
		}
		start := float64(i) / float64(sampleRate)
		voiced := d.rms(samples[i:end]) >= d.threshold

		switch {
		case voiced && current == nil:
			current = &Span{Start: start}
			current.End = start + secondsPerWindow
		case voiced:
			current.End = start + secondsPerWindow
		case current != nil:
			// Bridge short silence gaps before closing the span.
			if start-current.End >= d.hangoverSecs {
				spans = append(spans, *current)
				current = nil
			}
		}
	}
	if current != nil {
		current.End = math.Min(current.End, float64(len(samples))/float64(sampleRate))
		spans = append(spans, *current)
	}

	// Drop spans too short to carry speech.
	filtered := spans[:0]
	for _, s := range spans {
		if s.Duration() >= d.minSpeechSecs {
			filtered = append(filtered, s)
		}
	}
	return filtered, nil
}

// rms computes normalized root-mean-square energy for a window.
func (d *EnergyDetector) rms(samples []float32) float64 {
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}
