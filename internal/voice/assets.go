package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

const (
	// DefaultName is the voice served when none is configured.
	DefaultName = "en_US-ryan-medium"
	// VoicesRepository hosts the published piper voices.
	VoicesRepository = "https://huggingface.co/rhasspy/piper-voices/resolve/v1.0.0/"
)

// Assets are the local paths of a voice's weights and configuration.
type Assets struct {
	ModelPath  string
	ConfigPath string
}

// FileNames returns the weights and config file names for a voice id.
func FileNames(name string) (model, config string) {
	return name + ".onnx", name + ".onnx.json"
}

// BaseURLFor derives the repository directory of a voice id of the form
// lang_REGION-speaker-quality, e.g. en_US-ryan-medium -> en/en_US/ryan/medium/.
func BaseURLFor(name string) (string, error) {
	parts := strings.Split(name, "-")
	if len(parts) < 3 {
		return "", fmt.Errorf("voice %q: expected <locale>-<speaker>-<quality>", name)
	}
	locale := parts[0]
	quality := parts[len(parts)-1]
	speaker := strings.Join(parts[1:len(parts)-1], "-")
	lang, _, ok := strings.Cut(locale, "_")
	if !ok || lang == "" || speaker == "" || quality == "" {
		return "", fmt.Errorf("voice %q: expected <locale>-<speaker>-<quality>", name)
	}
	return VoicesRepository + strings.Join([]string{lang, locale, speaker, quality}, "/") + "/", nil
}

// Fetcher downloads voice assets on first use and keeps them under CacheDir/<voice>.
type Fetcher struct {
	BaseURL  string
	CacheDir string
	Client   *http.Client
	Logger   *slog.Logger
}

// NewFetcher returns a fetcher for voices hosted under baseURL. An empty baseURL
// is derived per voice with BaseURLFor.
func NewFetcher(baseURL, cacheDir string, timeout time.Duration, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		BaseURL:  baseURL,
		CacheDir: cacheDir,
		Client:   &http.Client{Timeout: timeout},
		Logger:   logger.With(slog.String("component", "voice-fetcher")),
	}
}

// Dir returns the cache directory for a voice.
func (f *Fetcher) Dir(name string) string {
	return filepath.Join(f.CacheDir, name)
}

// Ensure makes sure both asset files of the voice exist locally, downloading
// the missing ones. Files already present are never fetched again.
func (f *Fetcher) Ensure(ctx context.Context, name string) (Assets, error) {
	if name == "" {
		return Assets{}, errors.New("voice name must not be empty")
	}
	base := f.BaseURL
	if base == "" {
		derived, err := BaseURLFor(name)
		if err != nil {
			return Assets{}, err
		}
		base = derived
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	dir := f.Dir(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Assets{}, fmt.Errorf("create voice dir: %w", err)
	}

	modelFile, configFile := FileNames(name)
	assets := Assets{
		ModelPath:  filepath.Join(dir, modelFile),
		ConfigPath: filepath.Join(dir, configFile),
	}
	for _, item := range []struct{ url, path string }{
		{base + modelFile, assets.ModelPath},
		{base + configFile, assets.ConfigPath},
	} {
		if err := f.download(ctx, item.url, item.path); err != nil {
			return Assets{}, err
		}
	}
	return assets, nil
}

func (f *Fetcher) download(ctx context.Context, url, path string) error {
	if _, err := os.Stat(path); err == nil {
		f.Logger.Info("voice asset cached", slog.String("path", path))
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat %s: %w", path, err)
	}

	f.Logger.Info("downloading voice asset", slog.String("url", url))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("download %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, resp.Body)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("download %s: %w", url, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("store %s: %w", path, err)
	}
	f.Logger.Info("saved voice asset", slog.String("path", path), slog.String("size", humanize.Bytes(uint64(n))))
	return nil
}
