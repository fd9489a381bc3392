package tts

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/mattn/go-shellwords"
)

type piperSynth struct {
	cmd   []string
	model *voice.Model
}

// NewPiperSynth drives the piper binary in raw output mode. Each sentence of
// the input is synthesized as its own utterance and becomes one segment, so
// the pause between sentences is the assembler's gap.
func NewPiperSynth(command string, model *voice.Model) (Synthesizer, error) {
	if command == "" {
		command = "piper"
	}
	args, err := shellwords.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse piper command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("piper command empty")
	}
	if model.ModelPath == "" {
		return nil, fmt.Errorf("piper requires a voice model file")
	}
	return &piperSynth{cmd: args, model: model}, nil
}

func (p *piperSynth) SampleRate() int { return p.model.SampleRate }

func (p *piperSynth) Synthesize(ctx context.Context, text string) ([]Segment, error) {
	var segments []Segment
	for _, line := range utterances(text) {
		pcm, err := p.run(ctx, line)
		if err != nil {
			return nil, err
		}
		segments = append(segments, Segment{Sequence: len(segments), PCM: pcm})
	}
	return segments, nil
}

func (p *piperSynth) run(ctx context.Context, utterance string) ([]byte, error) {
	args := append([]string{}, p.cmd[1:]...)
	args = append(args, "--model", p.model.ModelPath, "--output-raw")
	if p.model.ConfigPath != "" {
		args = append(args, "--config", p.model.ConfigPath)
	}

	cmd := exec.CommandContext(ctx, p.cmd[0], args...)
	cmd.Stdin = strings.NewReader(utterance + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("piper failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("piper failed: %w", err)
	}
	return alignPCM(stdout.Bytes()), nil
}
