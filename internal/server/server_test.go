package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/speech"
	"github.com/loqalabs/loqa-tts/internal/tts"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSynth struct {
	mock.Mock
}

func (m *mockSynth) SampleRate() int {
	return m.Called().Int(0)
}

func (m *mockSynth) Synthesize(ctx context.Context, text string) ([]tts.Segment, error) {
	args := m.Called(ctx, text)
	segments, _ := args.Get(0).([]tts.Segment)
	return segments, args.Error(1)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, synth *mockSynth, mutate func(*config.HTTPConfig)) *httptest.Server {
	t.Helper()
	cfg := config.Default().HTTP
	if mutate != nil {
		mutate(&cfg)
	}
	svc := speech.NewService(synth, speech.Options{
		Voice:          "test-voice",
		Gap:            audio.DefaultGap,
		MaxConcurrency: 2,
		Logger:         quietLogger(),
	})
	srv := New(svc, Options{
		Config: cfg,
		Voice:  voice.Synthetic("test-voice", 22050).Info(),
		Logger: quietLogger(),
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, ts *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(ts.URL+"/synthesize", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func detailOf(t *testing.T, resp *http.Response) string {
	t.Helper()
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	var payload map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload["detail"]
}

func segment(n int, fill byte) tts.Segment {
	return tts.Segment{PCM: bytes.Repeat([]byte{fill}, n)}
}

func TestSynthesizeRejectsEmptyText(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(22050)
	ts := newTestServer(t, synth, nil)

	for _, body := range []string{`{"text": ""}`, `{}`} {
		resp := post(t, ts, body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Equal(t, "Text is required", detailOf(t, resp), body)
	}
	synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestSynthesizeRejectsMalformedJSON(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(22050)
	ts := newTestServer(t, synth, nil)

	resp := post(t, ts, `{"text":`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Invalid JSON body", detailOf(t, resp))
	synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestSynthesizeRejectsOversizedBody(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(22050)
	ts := newTestServer(t, synth, func(c *config.HTTPConfig) { c.MaxBodyBytes = 32 })

	resp := post(t, ts, `{"text": "`+strings.Repeat("a", 100)+`"}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	synth.AssertNotCalled(t, "Synthesize", mock.Anything, mock.Anything)
}

func TestSynthesizeSingleSegment(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(22050)
	synth.On("Synthesize", mock.Anything, "Hello world").Return([]tts.Segment{segment(4000, 0x07)}, nil)
	ts := newTestServer(t, synth, nil)

	resp := post(t, ts, `{"text": "Hello world"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Equal(t, "1", resp.Header.Get(headerSegments))
	assert.Equal(t, "22050", resp.Header.Get(headerSampleRate))
	assert.NotEmpty(t, resp.Header.Get(headerRequestID))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "WAVE", string(data[8:12]))

	format, pcm, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, audio.Mono16(22050), format)
	assert.Equal(t, bytes.Repeat([]byte{0x07}, 4000), pcm)
}

func TestSynthesizeThreeSegments(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(16000)
	synth.On("Synthesize", mock.Anything, "A. B. C.").Return([]tts.Segment{
		segment(1000, 0x01), segment(2000, 0x02), segment(1500, 0x03),
	}, nil)
	ts := newTestServer(t, synth, nil)

	resp := post(t, ts, `{"text": "A. B. C."}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "3", resp.Header.Get(headerSegments))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_, pcm, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Len(t, pcm, 55700)
}

func TestSynthesizeHonorsIncomingRequestID(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(16000)
	synth.On("Synthesize", mock.Anything, "hi").Return([]tts.Segment{segment(2, 0)}, nil)
	ts := newTestServer(t, synth, nil)

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/synthesize", strings.NewReader(`{"text":"hi"}`))
	require.NoError(t, err)
	req.Header.Set(headerRequestID, "caller-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "caller-123", resp.Header.Get(headerRequestID))
}

func TestSynthesizeFailureReportsMessage(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(22050)
	synth.On("Synthesize", mock.Anything, "Hello").Return(nil, errors.New("piper exited: model file corrupted"))
	ts := newTestServer(t, synth, nil)

	resp := post(t, ts, `{"text": "Hello"}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, "piper exited: model file corrupted", detailOf(t, resp))
}

func TestVoiceAndProbes(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(22050)
	ts := newTestServer(t, synth, nil)

	resp, err := http.Get(ts.URL + "/voice")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var info voice.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "test-voice", info.Name)
	assert.Equal(t, 22050, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 2, info.SampleWidth)

	for _, path := range []string{"/healthz", "/readyz"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestReadyzReflectsState(t *testing.T) {
	srv := New(nil, Options{Config: config.Default().HTTP, Ready: func() bool { return false }, Logger: quietLogger()})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRateLimit(t *testing.T) {
	synth := new(mockSynth)
	synth.On("SampleRate").Return(22050)
	ts := newTestServer(t, synth, func(c *config.HTTPConfig) {
		c.RateLimit = 0.001
		c.RateBurst = 1
	})

	first := post(t, ts, `{"text": ""}`)
	assert.Equal(t, http.StatusBadRequest, first.StatusCode)
	second := post(t, ts, `{"text": ""}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
	assert.NotEmpty(t, second.Header.Get("Retry-After"))
}
