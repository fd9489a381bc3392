package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/loqalabs/loqa-tts/internal/voice"
	"github.com/mattn/go-shellwords"
)

// maxLineBytes bounds a single NDJSON response line (base64 PCM for one segment).
const maxLineBytes = 64 << 20

type execSynth struct {
	cmd   []string
	model *voice.Model
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	ModelPath  string `json:"model_path,omitempty"`
	ConfigPath string `json:"config_path,omitempty"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
	Error     string `json:"error,omitempty"`
}

// NewExecSynth runs command once per request, writing the request as JSON on
// stdin and reading one JSON line per segment from stdout.
func NewExecSynth(command string, model *voice.Model) (Synthesizer, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	return &execSynth{cmd: args, model: model}, nil
}

func (e *execSynth) SampleRate() int { return e.model.SampleRate }

func (e *execSynth) Synthesize(ctx context.Context, text string) ([]Segment, error) {
	data, err := json.Marshal(execRequest{
		Text:       text,
		Voice:      e.model.Name,
		SampleRate: e.model.SampleRate,
		Channels:   e.model.Channels,
		ModelPath:  e.model.ModelPath,
		ConfigPath: e.model.ConfigPath,
	})
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start tts command: %w", err)
	}

	var segments []Segment
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var resp execResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode tts response: %w", err)
		}
		if resp.Error != "" {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("%s", resp.Error)
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
		if err != nil {
			_ = cmd.Process.Kill()
			_ = cmd.Wait()
			return nil, fmt.Errorf("decode tts pcm: %w", err)
		}
		segments = append(segments, Segment{Sequence: len(segments), PCM: alignPCM(pcm)})
		if resp.Final {
			break
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		_ = cmd.Process.Kill()
	} else {
		_, _ = io.Copy(io.Discard, stdout)
	}
	if err := cmd.Wait(); err != nil && scanErr == nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("tts command failed: %w: %s", err, msg)
		}
		return nil, fmt.Errorf("tts command failed: %w", err)
	}
	if scanErr != nil {
		return nil, fmt.Errorf("read tts output: %w", scanErr)
	}
	return segments, nil
}
