package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrMisaligned is returned for PCM payloads that do not hold whole 16-bit samples.
var ErrMisaligned = errors.New("pcm payload not aligned to 16-bit samples")

const wavFormatPCM = 1

// HeaderSize is the length of the canonical PCM header written by EncodeWAV.
const HeaderSize = 44

// Format describes an uncompressed PCM stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// Mono16 is the single-channel 16-bit format every voice produces.
func Mono16(rate int) Format {
	return Format{SampleRate: rate, Channels: 1, BitDepth: 16}
}

// EncodeWAV frames little-endian 16-bit PCM as a RIFF/WAVE file.
func EncodeWAV(pcm []byte, format Format) ([]byte, error) {
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth %d", format.BitDepth)
	}
	if format.SampleRate <= 0 || format.Channels <= 0 {
		return nil, fmt.Errorf("invalid format: rate=%d channels=%d", format.SampleRate, format.Channels)
	}
	if len(pcm)%(BytesPerSample*format.Channels) != 0 {
		return nil, ErrMisaligned
	}

	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: format.Channels, SampleRate: format.SampleRate},
		Data:           make([]int, len(pcm)/BytesPerSample),
		SourceBitDepth: format.BitDepth,
	}
	for i := range buffer.Data {
		buffer.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}

	out := &writeSeeker{buf: make([]byte, 0, 44+len(pcm))}
	enc := wav.NewEncoder(out, format.SampleRate, format.BitDepth, format.Channels, wavFormatPCM)
	// Write even when empty so the data chunk header is always present.
	if err := enc.Write(buffer); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}
	return out.buf, nil
}

// DecodeWAV parses a WAV file and returns its format and raw little-endian samples.
func DecodeWAV(data []byte) (Format, []byte, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Format{}, nil, fmt.Errorf("read wav header: %w", err)
	}
	if !dec.IsValidFile() {
		return Format{}, nil, errors.New("invalid wav file")
	}
	format := Format{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		BitDepth:   int(dec.BitDepth),
	}
	if format.BitDepth != 16 {
		return format, nil, fmt.Errorf("unsupported bit depth %d", format.BitDepth)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return format, nil, fmt.Errorf("read wav samples: %w", err)
	}
	pcm := make([]byte, len(buf.Data)*BytesPerSample)
	for i, v := range buf.Data {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return format, pcm, nil
}

// writeSeeker is an in-memory io.WriteSeeker; the wav encoder seeks back to
// patch chunk sizes once all frames are written.
type writeSeeker struct {
	buf []byte
	pos int
}

func (w *writeSeeker) Write(p []byte) (int, error) {
	end := w.pos + len(p)
	if end > len(w.buf) {
		if end > cap(w.buf) {
			grown := make([]byte, len(w.buf), end*2)
			copy(grown, w.buf)
			w.buf = grown
		}
		w.buf = w.buf[:end]
	}
	copy(w.buf[w.pos:], p)
	w.pos = end
	return len(p), nil
}

func (w *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = int64(w.pos) + offset
	case io.SeekEnd:
		next = int64(len(w.buf)) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if next < 0 {
		return 0, errors.New("negative seek position")
	}
	w.pos = int(next)
	return next, nil
}
