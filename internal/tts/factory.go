package tts

import (
	"fmt"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

// New builds the synthesizer selected by cfg.Mode for model.
func New(cfg config.TTSConfig, model *voice.Model) (Synthesizer, error) {
	switch cfg.Mode {
	case "piper":
		return NewPiperSynth(cfg.Command, model)
	case "exec":
		return NewExecSynth(cfg.Command, model)
	case "mock":
		return NewMockSynth(model.SampleRate), nil
	default:
		return nil, fmt.Errorf("unknown tts mode %q", cfg.Mode)
	}
}
