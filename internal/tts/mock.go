package tts

import (
	"context"
	"encoding/binary"
	"math"
	"strings"
)

type mockSynth struct {
	sampleRate int
}

// NewMockSynth returns a synthesizer that renders a short tone for every
// sentence of the input, proportional to its word count.
func NewMockSynth(sampleRate int) Synthesizer {
	return &mockSynth{sampleRate: sampleRate}
}

func (m *mockSynth) SampleRate() int { return m.sampleRate }

func (m *mockSynth) Synthesize(ctx context.Context, text string) ([]Segment, error) {
	var segments []Segment
	for _, sentence := range sentences(text) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		words := len(strings.Fields(sentence))
		segments = append(segments, Segment{
			Sequence: len(segments),
			PCM:      tone(m.sampleRate, words*m.sampleRate/5, 220),
		})
	}
	return segments, nil
}

func tone(rate, samples int, freq float64) []byte {
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(3000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(v))
	}
	return pcm
}
