package tts

import "context"

// Segment is the PCM produced for one synthesis unit of the input text.
// PCM holds mono 16-bit little-endian samples.
type Segment struct {
	Sequence int
	PCM      []byte
}

// Synthesizer is the contract for producing audio. Implementations return the
// segments in the order they were produced and must be safe for concurrent use.
type Synthesizer interface {
	SampleRate() int
	Synthesize(ctx context.Context, text string) ([]Segment, error)
}

// PCM extracts the raw payloads of segments, preserving order.
func PCM(segments []Segment) [][]byte {
	out := make([][]byte, len(segments))
	for i, seg := range segments {
		out[i] = seg.PCM
	}
	return out
}

// alignPCM pads a trailing half sample so the payload holds whole 16-bit samples.
func alignPCM(pcm []byte) []byte {
	if len(pcm)%2 != 0 {
		return append(pcm, 0)
	}
	return pcm
}
