package runtime

import (
	"context"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-tts/internal/config"
	"github.com/loqalabs/loqa-tts/internal/voice"
)

// LoadVoice resolves the configured voice. Mock mode needs no assets; an
// explicit model path is used as is; otherwise the assets are fetched into
// the cache on first use.
func LoadVoice(ctx context.Context, cfg config.Config, logger *slog.Logger) (*voice.Model, error) {
	if cfg.TTS.Mode == "mock" {
		return voice.Synthetic(cfg.Voice.Name, cfg.TTS.MockSampleRate), nil
	}
	if cfg.Voice.ModelPath != "" {
		return voice.Load(cfg.Voice.Name, cfg.Voice.ModelPath, cfg.Voice.ConfigPath)
	}

	fetcher := voice.NewFetcher(cfg.Voice.BaseURL, cfg.Voice.CacheDir,
		time.Duration(cfg.Voice.DownloadTimeoutMS)*time.Millisecond, logger)
	assets, err := fetcher.Ensure(ctx, cfg.Voice.Name)
	if err != nil {
		return nil, err
	}
	return voice.Load(cfg.Voice.Name, assets.ModelPath, assets.ConfigPath)
}
