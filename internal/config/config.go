package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level" env:"LOQA_TTS_TELEMETRY_LOG_LEVEL"`
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"LOQA_TTS_TELEMETRY_OTLP_ENDPOINT"`
	OTLPInsecure bool   `yaml:"otlp_insecure" env:"LOQA_TTS_TELEMETRY_OTLP_INSECURE"`
	TraceStdout  bool   `yaml:"trace_stdout" env:"LOQA_TTS_TELEMETRY_TRACE_STDOUT"`
}

type HTTPConfig struct {
	Bind                string   `yaml:"bind" env:"LOQA_TTS_HTTP_BIND"`
	Port                int      `yaml:"port" env:"LOQA_TTS_HTTP_PORT"`
	ReadHeaderTimeoutMS int      `yaml:"read_header_timeout_ms" env:"LOQA_TTS_HTTP_READ_HEADER_TIMEOUT_MS"`
	MaxBodyBytes        int64    `yaml:"max_body_bytes" env:"LOQA_TTS_HTTP_MAX_BODY_BYTES"`
	AllowedOrigins      []string `yaml:"allowed_origins" env:"LOQA_TTS_HTTP_ALLOWED_ORIGINS" envSeparator:","`
	Compress            bool     `yaml:"compress" env:"LOQA_TTS_HTTP_COMPRESS"`
	RateLimit           float64  `yaml:"rate_limit" env:"LOQA_TTS_HTTP_RATE_LIMIT"` // requests per second, 0 disables
	RateBurst           int      `yaml:"rate_burst" env:"LOQA_TTS_HTTP_RATE_BURST"`
}

type VoiceConfig struct {
	Name              string `yaml:"name" env:"LOQA_TTS_VOICE_NAME"`
	BaseURL           string `yaml:"base_url" env:"LOQA_TTS_VOICE_BASE_URL"`
	CacheDir          string `yaml:"cache_dir" env:"LOQA_TTS_VOICE_CACHE_DIR"`
	ModelPath         string `yaml:"model_path" env:"LOQA_TTS_VOICE_MODEL_PATH"`
	ConfigPath        string `yaml:"config_path" env:"LOQA_TTS_VOICE_CONFIG_PATH"`
	DownloadTimeoutMS int    `yaml:"download_timeout_ms" env:"LOQA_TTS_VOICE_DOWNLOAD_TIMEOUT_MS"`
}

type TTSConfig struct {
	Mode           string `yaml:"mode" env:"LOQA_TTS_MODE"` // piper, exec, mock
	Command        string `yaml:"command" env:"LOQA_TTS_COMMAND"`
	GapMS          int    `yaml:"gap_ms" env:"LOQA_TTS_GAP_MS"`
	MaxConcurrency int    `yaml:"max_concurrency" env:"LOQA_TTS_MAX_CONCURRENCY"`
	MockSampleRate int    `yaml:"mock_sample_rate" env:"LOQA_TTS_MOCK_SAMPLE_RATE"`
}

type BusConfig struct {
	Enabled          bool     `yaml:"enabled" env:"LOQA_TTS_BUS_ENABLED"`
	Embedded         bool     `yaml:"embedded" env:"LOQA_TTS_BUS_EMBEDDED"`
	Port             int      `yaml:"port" env:"LOQA_TTS_BUS_PORT"`
	Servers          []string `yaml:"servers" env:"LOQA_TTS_BUS_SERVERS" envSeparator:","`
	Username         string   `yaml:"username" env:"LOQA_TTS_BUS_USERNAME"`
	Password         string   `yaml:"password" env:"LOQA_TTS_BUS_PASSWORD"`
	Token            string   `yaml:"token" env:"LOQA_TTS_BUS_TOKEN"`
	TLSInsecure      bool     `yaml:"tls_insecure" env:"LOQA_TTS_BUS_TLS_INSECURE"`
	ConnectTimeout   int      `yaml:"connect_timeout_ms" env:"LOQA_TTS_BUS_CONNECT_TIMEOUT_MS"`
	RequestTimeoutMS int      `yaml:"request_timeout_ms" env:"LOQA_TTS_BUS_REQUEST_TIMEOUT_MS"`
}

type NodeConfig struct {
	ID                string `yaml:"id" env:"LOQA_TTS_NODE_ID"`
	Role              string `yaml:"role" env:"LOQA_TTS_NODE_ROLE"`
	HeartbeatInterval int    `yaml:"heartbeat_interval_ms" env:"LOQA_TTS_NODE_HEARTBEAT_INTERVAL_MS"`
	HeartbeatTimeout  int    `yaml:"heartbeat_timeout_ms" env:"LOQA_TTS_NODE_HEARTBEAT_TIMEOUT_MS"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path" env:"LOQA_TTS_EVENT_STORE_PATH"`
	RetentionMode string `yaml:"retention_mode" env:"LOQA_TTS_EVENT_STORE_RETENTION_MODE"`
	RetentionDays int    `yaml:"retention_days" env:"LOQA_TTS_EVENT_STORE_RETENTION_DAYS"`
	MaxRows       int    `yaml:"max_rows" env:"LOQA_TTS_EVENT_STORE_MAX_ROWS"`
	VacuumOnStart bool   `yaml:"vacuum_on_start" env:"LOQA_TTS_EVENT_STORE_VACUUM_ON_START"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name" env:"LOQA_TTS_RUNTIME_NAME"`
	Environment string           `yaml:"environment" env:"LOQA_TTS_ENVIRONMENT"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Voice       VoiceConfig      `yaml:"voice"`
	TTS         TTSConfig        `yaml:"tts"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-tts",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind:                "0.0.0.0",
			Port:                8000,
			ReadHeaderTimeoutMS: 5000,
			MaxBodyBytes:        1 << 20,
			AllowedOrigins:      []string{"*"},
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPInsecure: true,
		},
		Voice: VoiceConfig{
			Name:              "en_US-ryan-medium",
			DownloadTimeoutMS: 300000,
		},
		TTS: TTSConfig{
			Mode:           "piper",
			Command:        "piper",
			GapMS:          800,
			MaxConcurrency: 2,
			MockSampleRate: 22050,
		},
		Bus: BusConfig{
			Enabled:          false,
			Embedded:         false,
			Port:             4222,
			Servers:          []string{"nats://localhost:4222"},
			ConnectTimeout:   2000,
			RequestTimeoutMS: 60000,
		},
		Node: NodeConfig{
			ID:                "loqa-tts-1",
			Role:              "tts",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-tts.db",
			RetentionMode: "persistent",
			RetentionDays: 30,
			MaxRows:       100000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	if err := normalize(&cfg); err != nil {
		return cfg, err
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func normalize(cfg *Config) error {
	cfg.Bus.Servers = trimAll(cfg.Bus.Servers)
	cfg.HTTP.AllowedOrigins = trimAll(cfg.HTTP.AllowedOrigins)

	if cfg.Voice.CacheDir == "" {
		cfg.Voice.CacheDir = defaultCacheDir()
	}
	for _, p := range []*string{&cfg.Voice.CacheDir, &cfg.Voice.ModelPath, &cfg.Voice.ConfigPath, &cfg.EventStore.Path} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	if cfg.Voice.ModelPath != "" && cfg.Voice.ConfigPath == "" {
		cfg.Voice.ConfigPath = cfg.Voice.ModelPath + ".json"
	}
	return nil
}

// defaultCacheDir is the per-user cache directory for downloaded voices.
func defaultCacheDir() string {
	scope := gap.NewScope(gap.User, "loqa-tts")
	dir, err := scope.CacheDir()
	if err != nil || dir == "" {
		return "./voices"
	}
	return filepath.Join(dir, "voices")
}

func trimAll(values []string) []string {
	var trimmed []string
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			trimmed = append(trimmed, s)
		}
	}
	return trimmed
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.HTTP.MaxBodyBytes <= 0 {
		return errors.New("http.max_body_bytes must be positive")
	}
	if cfg.HTTP.RateLimit < 0 {
		return errors.New("http.rate_limit must be >= 0")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Voice.Name == "" {
		return errors.New("voice.name must not be empty")
	}
	switch cfg.TTS.Mode {
	case "piper", "exec", "mock":
	default:
		return errors.New("tts.mode must be one of piper|exec|mock")
	}
	if cfg.TTS.Mode == "exec" && cfg.TTS.Command == "" {
		return errors.New("tts.command must be set when mode=exec")
	}
	if cfg.TTS.GapMS < 0 {
		return errors.New("tts.gap_ms must be >= 0")
	}
	if cfg.TTS.MaxConcurrency <= 0 {
		return errors.New("tts.max_concurrency must be >= 1")
	}
	if cfg.TTS.Mode == "mock" && cfg.TTS.MockSampleRate <= 0 {
		return errors.New("tts.mock_sample_rate must be positive")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" && cfg.EventStore.Path == "" {
		return errors.New("event_store.path must not be empty")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	return nil
}
