package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key string
	typ keyType
	env string
	// fallbackEnv is read only when env is unset.
	fallbackEnv string
	secret      bool
	apply       func(cfg *Config, v any)
	extract     func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "BOTSMITH_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "BOTSMITH_SERVER_PORT", fallbackEnv: "PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.max_conns", typ: kInt, env: "BOTSMITH_SERVER_MAX_CONNS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConns = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConns },
	},
	{
		key: "storage.backend", typ: kString, env: "BOTSMITH_STORAGE_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Storage.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.Backend },
	},
	{
		key: "storage.data_dir", typ: kString, env: "BOTSMITH_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "llm.api_key", typ: kString, env: "BOTSMITH_LLM_API_KEY", fallbackEnv: "OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.APIKey },
	},
	{
		key: "llm.base_url", typ: kString, env: "BOTSMITH_LLM_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.BaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "BOTSMITH_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.timeout", typ: kDuration, env: "BOTSMITH_LLM_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.LLM.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.LLM.Timeout },
	},
	{
		key: "objects.backend", typ: kString, env: "BOTSMITH_OBJECTS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Objects.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.Backend },
	},
	{
		key: "objects.local_dir", typ: kString, env: "BOTSMITH_OBJECTS_LOCAL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Objects.LocalDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.LocalDir },
	},
	{
		key: "objects.private_dir", typ: kString, env: "BOTSMITH_OBJECTS_PRIVATE_DIR", fallbackEnv: "PRIVATE_OBJECT_DIR",
		apply:   func(cfg *Config, v any) { cfg.Objects.PrivateDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.PrivateDir },
	},
	{
		key: "objects.credentials_file", typ: kString, env: "BOTSMITH_OBJECTS_CREDENTIALS_FILE", fallbackEnv: "GOOGLE_APPLICATION_CREDENTIALS",
		apply:   func(cfg *Config, v any) { cfg.Objects.CredentialsFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.CredentialsFile },
	},
	{
		key: "ingest.workers", typ: kInt, env: "BOTSMITH_INGEST_WORKERS",
		apply:   func(cfg *Config, v any) { cfg.Ingest.Workers = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.Workers },
	},
	{
		key: "ingest.queue_size", typ: kInt, env: "BOTSMITH_INGEST_QUEUE_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.QueueSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Ingest.QueueSize },
	},
	{
		key: "ingest.delay_scale", typ: kFloat, env: "BOTSMITH_INGEST_DELAY_SCALE",
		apply:   func(cfg *Config, v any) { cfg.Ingest.DelayScale = v.(float64) },
		extract: func(cfg Config) any { return cfg.Ingest.DelayScale },
	},
	{
		key: "log.level", typ: kString, env: "BOTSMITH_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// parseValue converts a raw string to the Go type of the key.
func parseValue(typ keyType, raw string) (any, error) {
	switch typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}

		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || (raw == "" && s.typ != kString) {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		name := s.env
		raw := os.Getenv(name)
		if raw == "" && s.fallbackEnv != "" {
			name = s.fallbackEnv
			raw = os.Getenv(name)
		}
		if raw == "" {
			continue
		}
		v, err := parseValue(s.typ, raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", name, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
