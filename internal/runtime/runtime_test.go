package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/loqalabs/loqa-tts/internal/bus"
	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mockConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Bind = "127.0.0.1"
	cfg.HTTP.Port = 0
	cfg.TTS.Mode = "mock"
	cfg.TTS.MockSampleRate = 16000
	cfg.EventStore.RetentionMode = "ephemeral"
	cfg.Voice.CacheDir = t.TempDir()
	return cfg
}

func startRuntime(t *testing.T, cfg config.Config) *Runtime {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	rt := New(cfg, quietLogger())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()

	require.Eventually(t, rt.Ready, 5*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(10 * time.Second):
			t.Error("runtime did not stop")
		}
	})
	return rt
}

func TestRuntimeServesSynthesis(t *testing.T) {
	rt := startRuntime(t, mockConfig(t))
	base := "http://" + rt.Addr()

	resp, err := http.Post(base+"/synthesize", "application/json", strings.NewReader(`{"text":"Hello there. General Kenobi!"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("X-Audio-Segments"))
	assert.Equal(t, "16000", resp.Header.Get("X-Audio-Sample-Rate"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	format, _, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, 16000, format.SampleRate)

	for _, path := range []string{"/healthz", "/readyz", "/metrics", "/voice"} {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestRuntimeAnswersOnEmbeddedBus(t *testing.T) {
	cfg := mockConfig(t)
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = freePort(t)
	rt := startRuntime(t, cfg)
	require.True(t, rt.healthy())

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{fmt.Sprintf("nats://127.0.0.1:%d", cfg.Bus.Port)},
		ConnectTimeout: 2000,
	}, quietLogger())
	require.NoError(t, err)
	defer client.Close()

	payload, err := json.Marshal(protocol.SynthesizeRequest{RequestID: "bus-req", Text: "One. Two. Three."})
	require.NoError(t, err)
	msg, err := client.Conn().Request(protocol.SubjectSynthesize, payload, 5*time.Second)
	require.NoError(t, err)

	var reply protocol.SynthesizeReply
	require.NoError(t, json.Unmarshal(msg.Data, &reply))
	assert.Equal(t, http.StatusOK, reply.Status)
	assert.Equal(t, 3, reply.Segments)
	assert.Equal(t, 16000, reply.SampleRate)
}

func TestLoadVoiceFromExplicitPath(t *testing.T) {
	dir := t.TempDir()
	modelPath := filepath.Join(dir, "custom.onnx")
	require.NoError(t, os.WriteFile(modelPath, []byte("weights"), 0o644))
	require.NoError(t, os.WriteFile(modelPath+".json", []byte(`{"audio":{"sample_rate":22050,"quality":"medium"}}`), 0o644))

	cfg := config.Default()
	cfg.Voice.ModelPath = modelPath
	cfg.Voice.ConfigPath = modelPath + ".json"
	model, err := LoadVoice(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 22050, model.SampleRate)
	assert.Equal(t, modelPath, model.ModelPath)
}

func TestStartFailsWithoutVoice(t *testing.T) {
	cfg := mockConfig(t)
	cfg.TTS.Mode = "piper"
	cfg.Voice.ModelPath = filepath.Join(t.TempDir(), "missing.onnx")
	cfg.Voice.ConfigPath = cfg.Voice.ModelPath + ".json"

	err := New(cfg, quietLogger()).Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load voice")
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
