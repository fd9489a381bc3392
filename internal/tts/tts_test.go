package tts

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "backend.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testModel(t *testing.T) *voice.Model {
	t.Helper()
	dir := t.TempDir()
	m := voice.Synthetic("test-voice", 16000)
	m.ModelPath = filepath.Join(dir, "test.onnx")
	m.ConfigPath = filepath.Join(dir, "test.onnx.json")
	return m
}

func TestSentences(t *testing.T) {
	assert.Equal(t, []string{"Hello.", "How are you?", "Fine!!"}, sentences("Hello. How are you? Fine!!"))
	assert.Equal(t, []string{"No punctuation"}, sentences("No punctuation"))
	assert.Equal(t, []string{"Trailing.", "tail"}, sentences("Trailing. tail"))
	assert.Empty(t, sentences("  ...  "))
	assert.Empty(t, sentences(""))
}

func TestMockSynthOrderedSegments(t *testing.T) {
	s := NewMockSynth(22050)
	assert.Equal(t, 22050, s.SampleRate())

	segs, err := s.Synthesize(context.Background(), "One two. Three!")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, 0, segs[0].Sequence)
	assert.Equal(t, 1, segs[1].Sequence)
	assert.Len(t, segs[0].PCM, 2*22050/5*2)
	assert.Len(t, segs[1].PCM, 22050/5*2)
}

func TestMockSynthHandlesLongInput(t *testing.T) {
	text := strings.Repeat("word ", 5000) + "."
	segs, err := NewMockSynth(8000).Synthesize(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, segs, 1)
}

func TestExecSynthCollectsSegments(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo '{"pcm_base64":"AQIDBA=="}'
echo ''
echo '{"pcm_base64":"BQYH","final":true}'`)

	s, err := NewExecSynth(script, testModel(t))
	require.NoError(t, err)
	assert.Equal(t, 16000, s.SampleRate())

	segs, err := s.Synthesize(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, []byte{1, 2, 3, 4}, segs[0].PCM)
	assert.Equal(t, []byte{5, 6, 7, 0}, segs[1].PCM, "odd payloads are padded to whole samples")
	assert.Equal(t, 1, segs[1].Sequence)
}

func TestExecSynthPropagatesFailure(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo 'model exploded' >&2
exit 3`)

	s, err := NewExecSynth(script, testModel(t))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestExecSynthReportsBackendError(t *testing.T) {
	script := writeScript(t, `cat > /dev/null
echo '{"error":"unsupported phoneme"}'`)

	s, err := NewExecSynth(script, testModel(t))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "hello")
	require.EqualError(t, err, "unsupported phoneme")
}

func TestNewExecSynthRejectsEmptyCommand(t *testing.T) {
	_, err := NewExecSynth("", testModel(t))
	assert.Error(t, err)
}

func TestPiperSynthOneSegmentPerLine(t *testing.T) {
	script := writeScript(t, `case "$*" in
*--output-raw*) ;;
*) echo "missing --output-raw" >&2; exit 1 ;;
esac
cat`)

	s, err := NewPiperSynth(script, testModel(t))
	require.NoError(t, err)

	segs, err := s.Synthesize(context.Background(), "Hello.\n\n  Second line  \n")
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, []byte("Hello.\n\x00"), segs[0].PCM)
	assert.Equal(t, []byte("Second line\n"), segs[1].PCM)
}

func TestPiperSynthOneSegmentPerSentence(t *testing.T) {
	script := writeScript(t, "cat")

	s, err := NewPiperSynth(script, testModel(t))
	require.NoError(t, err)

	segs, err := s.Synthesize(context.Background(), "Hello. How are you?\nFine!")
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, []byte("Hello.\n\x00"), segs[0].PCM)
	assert.Equal(t, []byte("How are you?\n\x00"), segs[1].PCM)
	assert.Equal(t, []byte("Fine!\n"), segs[2].PCM)
	for i, seg := range segs {
		assert.Equal(t, i, seg.Sequence)
	}
}

func TestUtterances(t *testing.T) {
	assert.Equal(t, []string{"Hello.", "How are you?", "Second line"},
		utterances("Hello. How are you?\n\n  Second line  \n"))
	assert.Empty(t, utterances(" \n...\n"))
}

func TestPiperSynthFailureCarriesStderr(t *testing.T) {
	script := writeScript(t, `echo 'onnxruntime: bad model' >&2
exit 1`)

	s, err := NewPiperSynth(script, testModel(t))
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "Hello.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "onnxruntime: bad model")
}

func TestFactory(t *testing.T) {
	m := testModel(t)

	s, err := New(config.TTSConfig{Mode: "mock"}, m)
	require.NoError(t, err)
	assert.Equal(t, m.SampleRate, s.SampleRate())

	_, err = New(config.TTSConfig{Mode: "exec", Command: "/bin/true"}, m)
	require.NoError(t, err)

	_, err = New(config.TTSConfig{Mode: "cloud"}, m)
	assert.Error(t, err)
}

func TestPCMPreservesOrder(t *testing.T) {
	segs := []Segment{{Sequence: 0, PCM: []byte{1, 2}}, {Sequence: 1, PCM: []byte{3, 4}}}
	assert.Equal(t, [][]byte{{1, 2}, {3, 4}}, PCM(segs))
}
