package audio

import (
	"fmt"
	"math"
	"time"
)

// DefaultGap is the pause inserted between consecutive synthesized segments.
const DefaultGap = 800 * time.Millisecond

// BytesPerSample is the width of one mono 16-bit sample.
const BytesPerSample = 2

// SilenceSamples returns the number of samples needed to fill gap at rate.
func SilenceSamples(rate int, gap time.Duration) int {
	if rate <= 0 || gap <= 0 {
		return 0
	}
	return int(math.Round(float64(rate) * gap.Seconds()))
}

// Silence returns a block of zero-valued 16-bit samples lasting gap.
func Silence(rate int, gap time.Duration) []byte {
	return make([]byte, SilenceSamples(rate, gap)*BytesPerSample)
}

// Concat joins segments in order, placing gap between each adjacent pair.
func Concat(segments [][]byte, gap []byte) []byte {
	if len(segments) == 0 {
		return []byte{}
	}
	total := len(gap) * (len(segments) - 1)
	for _, seg := range segments {
		total += len(seg)
	}
	out := make([]byte, 0, total)
	for i, seg := range segments {
		if i > 0 {
			out = append(out, gap...)
		}
		out = append(out, seg...)
	}
	return out
}

// Assembler turns an ordered list of PCM segments into a single WAV file.
type Assembler struct {
	Gap time.Duration
}

// NewAssembler returns an Assembler using gap, or DefaultGap when gap is negative.
func NewAssembler(gap time.Duration) *Assembler {
	if gap < 0 {
		gap = DefaultGap
	}
	return &Assembler{Gap: gap}
}

// PCM concatenates segments with silence computed once for rate.
func (a *Assembler) PCM(segments [][]byte, rate int) ([]byte, error) {
	for i, seg := range segments {
		if len(seg)%BytesPerSample != 0 {
			return nil, fmt.Errorf("segment %d: %w", i, ErrMisaligned)
		}
	}
	gap := Silence(rate, a.Gap)
	return Concat(segments, gap), nil
}

// Assemble builds the raw buffer and frames it as mono 16-bit WAV at rate.
func (a *Assembler) Assemble(segments [][]byte, rate int) ([]byte, error) {
	pcm, err := a.PCM(segments, rate)
	if err != nil {
		return nil, err
	}
	return EncodeWAV(pcm, Mono16(rate))
}

// Duration reports how long pcmLen bytes of mono 16-bit audio play at rate.
func Duration(pcmLen, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	samples := pcmLen / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
