package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestSynthAndInspectWithMockVoice(t *testing.T) {
	t.Setenv("LOQA_TTS_MODE", "mock")
	t.Setenv("LOQA_TTS_MOCK_SAMPLE_RATE", "16000")
	t.Setenv("LOQA_TTS_VOICE_CACHE_DIR", t.TempDir())
	path := filepath.Join(t.TempDir(), "out.wav")

	out := run(t, "synth", "-o", path, "One. Two.")
	assert.Contains(t, out, "2 segments")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	format, _, err := audio.DecodeWAV(data)
	require.NoError(t, err)
	assert.Equal(t, audio.Mono16(16000), format)

	out = run(t, "inspect", path)
	assert.Contains(t, out, "sample rate: 16000 Hz")
	assert.Contains(t, out, "channels:    1")
}

func TestVersion(t *testing.T) {
	assert.Contains(t, run(t, "version"), version)
}
