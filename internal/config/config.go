package config

import (
	"fmt"
	"log/slog"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	LLM     LLMConfig
	Objects ObjectsConfig
	Ingest  IngestConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host string
	Port int
	// MaxConns caps concurrent connections; zero means unlimited.
	MaxConns int
}

type StorageConfig struct {
	Backend string
	DataDir string
}

type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type ObjectsConfig struct {
	Backend         string
	LocalDir        string
	PrivateDir      string
	CredentialsFile string
}

type IngestConfig struct {
	Workers    int
	QueueSize  int
	DelayScale float64
}

type LogConfig struct {
	Level string
}

// Storage and object backends.
const (
	StorageMemory = "memory"
	StorageSQLite = "sqlite"
	ObjectsLocal  = "local"
	ObjectsGCS    = "gcs"
)

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Host:     "0.0.0.0",
			Port:     5000,
			MaxConns: 256,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
			DataDir: dataDir,
		},
		LLM: LLMConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
			Timeout: 60 * time.Second,
		},
		Objects: ObjectsConfig{
			Backend:  ObjectsLocal,
			LocalDir: filepath.Join(dataDir, "objects"),
		},
		Ingest: IngestConfig{
			Workers:    4,
			QueueSize:  64,
			DelayScale: 1,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/botsmith/config.json, then applies environment overrides
// (BOTSMITH_*, plus OPENAI_API_KEY, PORT and PRIVATE_OBJECT_DIR as fallbacks).
// If no LLM API key is found there, the secrets file is consulted.
//
// A missing API key is not an error: chat replies degrade to a fixed
// configuration message instead.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), secretsFile{})
}

// secretStore abstracts the secrets file for testing.
type secretStore interface {
	Get(service, account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.LLM.APIKey == "" {
		if key, err := secrets.Get(appName, "llm_api_key"); err == nil && key != "" {
			cfg.LLM.APIKey = key
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid config: server.port %d is out of range", c.Server.Port)
	}
	if c.Server.MaxConns < 0 {
		return fmt.Errorf("invalid config: server.max_conns must not be negative")
	}
	switch c.Storage.Backend {
	case StorageMemory, StorageSQLite:
	default:
		return fmt.Errorf("invalid config: storage.backend %q (want %s or %s)", c.Storage.Backend, StorageMemory, StorageSQLite)
	}
	switch c.Objects.Backend {
	case ObjectsLocal:
	case ObjectsGCS:
		if c.Objects.PrivateDir == "" {
			return fmt.Errorf("invalid config: objects.private_dir is required when objects.backend is %s", ObjectsGCS)
		}
	default:
		return fmt.Errorf("invalid config: objects.backend %q (want %s or %s)", c.Objects.Backend, ObjectsLocal, ObjectsGCS)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("invalid config: ingest.workers must be at least 1")
	}
	if c.Ingest.QueueSize < 1 {
		return fmt.Errorf("invalid config: ingest.queue_size must be at least 1")
	}
	if c.Ingest.DelayScale < 0 {
		return fmt.Errorf("invalid config: ingest.delay_scale must not be negative")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("invalid config: llm.timeout must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}
