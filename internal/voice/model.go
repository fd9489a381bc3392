package voice

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// Config mirrors the fields of a piper voice's .onnx.json that the service uses.
type Config struct {
	Audio struct {
		SampleRate int    `json:"sample_rate"`
		Quality    string `json:"quality"`
	} `json:"audio"`
	Espeak struct {
		Voice string `json:"voice"`
	} `json:"espeak"`
	Language struct {
		Code string `json:"code"`
	} `json:"language"`
	Inference struct {
		NoiseScale  float64 `json:"noise_scale"`
		LengthScale float64 `json:"length_scale"`
		NoiseW      float64 `json:"noise_w"`
	} `json:"inference"`
	NumSpeakers  int    `json:"num_speakers"`
	Dataset      string `json:"dataset"`
	PiperVersion string `json:"piper_version"`
}

// ParseConfig decodes a voice configuration document.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode voice config: %w", err)
	}
	if cfg.Audio.SampleRate <= 0 {
		return Config{}, errors.New("voice config: audio.sample_rate must be positive")
	}
	return cfg, nil
}

// Model is the loaded voice shared by every request. It is never mutated after Load.
type Model struct {
	Name        string
	ModelPath   string
	ConfigPath  string
	SampleRate  int
	Channels    int
	SampleWidth int
	Config      Config
}

// Load reads the voice configuration next to the weights and returns the model handle.
func Load(name, modelPath, configPath string) (*Model, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("voice model: %w", err)
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read voice config: %w", err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}
	return &Model{
		Name:        name,
		ModelPath:   modelPath,
		ConfigPath:  configPath,
		SampleRate:  cfg.Audio.SampleRate,
		Channels:    1,
		SampleWidth: 2,
		Config:      cfg,
	}, nil
}

// Info is the public description of a loaded voice.
type Info struct {
	Name        string `json:"name"`
	SampleRate  int    `json:"sample_rate"`
	Channels    int    `json:"channels"`
	SampleWidth int    `json:"sample_width"`
	Language    string `json:"language,omitempty"`
	Quality     string `json:"quality,omitempty"`
	Speakers    int    `json:"speakers,omitempty"`
}

func (m *Model) Info() Info {
	return Info{
		Name:        m.Name,
		SampleRate:  m.SampleRate,
		Channels:    m.Channels,
		SampleWidth: m.SampleWidth,
		Language:    m.Config.Language.Code,
		Quality:     m.Config.Audio.Quality,
		Speakers:    m.Config.NumSpeakers,
	}
}

// Synthetic returns a model handle with no backing assets, for backends that
// generate audio without a voice file.
func Synthetic(name string, sampleRate int) *Model {
	m := &Model{Name: name, SampleRate: sampleRate, Channels: 1, SampleWidth: 2}
	m.Config.Audio.SampleRate = sampleRate
	return m
}
