// ABOUTME: Deterministic tone synthesizer for the reference backend
// ABOUTME: Renders each letter of a transcript as a short sine tone
package server

import (
	"math"
	"unicode"

	"github.com/Resonate-Protocol/resonate-tts/pkg/audio"
)

// Synthesizer turns a transcript into PCM16 mono samples
type Synthesizer interface {
	Synthesize(text string, sampleRate int) []int16
}

// ToneSynthesizer maps letters to pitches. It stands in for a real speech
// model so the player can be exercised end to end.
type ToneSynthesizer struct {
	LetterDuration float64 // seconds per letter
	GapDuration    float64 // seconds of silence per space or punctuation
	Amplitude      float64 // 0..1
}

// NewToneSynthesizer creates a synthesizer with speech-like pacing
func NewToneSynthesizer() *ToneSynthesizer {
	return &ToneSynthesizer{
		LetterDuration: 0.08,
		GapDuration:    0.06,
		Amplitude:      0.3,
	}
}

// Synthesize renders text at sampleRate
func (s *ToneSynthesizer) Synthesize(text string, sampleRate int) []int16 {
	letterFrames := int(s.LetterDuration * float64(sampleRate))
	gapFrames := int(s.GapDuration * float64(sampleRate))
	fade := sampleRate / 200 // 5ms ramps avoid clicks

	var out []int16
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			out = append(out, make([]int16, gapFrames)...)
			continue
		}

		freq := letterFrequency(r)
		for i := 0; i < letterFrames; i++ {
			env := 1.0
			if i < fade {
				env = float64(i) / float64(fade)
			} else if remaining := letterFrames - i; remaining < fade {
				env = float64(remaining) / float64(fade)
			}
			t := float64(i) / float64(sampleRate)
			sample := math.Sin(2*math.Pi*freq*t) * s.Amplitude * env
			out = append(out, audio.FloatToInt16(float32(sample)))
		}
	}
	return out
}

// letterFrequency spreads letters over two octaves above A3
func letterFrequency(r rune) float64 {
	step := int(unicode.ToLower(r)) % 24
	return 220.0 * math.Pow(2, float64(step)/12.0)
}
