package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secretStore interface.
type mockSecrets struct {
	value string
	err   error
}

func (m mockSecrets) Get(service, account string) (string, error) {
	return m.value, m.err
}

var noSecrets = mockSecrets{err: errors.New("not found")}

// clearEnv blanks every variable the loader reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
		if s.fallbackEnv != "" {
			t.Setenv(s.fallbackEnv, "")
		}
	}
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), noSecrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q, want 0.0.0.0", cfg.Server.Host)
	}
	if cfg.Storage.Backend != StorageMemory {
		t.Errorf("Storage.Backend = %q, want %q", cfg.Storage.Backend, StorageMemory)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM.Model = %q, want gpt-4o", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.Timeout != 60*time.Second {
		t.Errorf("LLM.Timeout = %v, want 60s", cfg.LLM.Timeout)
	}
	if cfg.Objects.Backend != ObjectsLocal {
		t.Errorf("Objects.Backend = %q, want %q", cfg.Objects.Backend, ObjectsLocal)
	}
	if cfg.Ingest.Workers != 4 || cfg.Ingest.QueueSize != 64 || cfg.Ingest.DelayScale != 1 {
		t.Errorf("Ingest = %+v, want 4 workers, queue 64, scale 1", cfg.Ingest)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want info", cfg.Log.Level)
	}
}

// TestMissingAPIKeyIsNotAnError verifies the server can start without an LLM key.
func TestMissingAPIKeyIsNotAnError(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), noSecrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

// TestFileParsing verifies that fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  "server.port": 8080,
  "server.max_conns": 10,
  "storage.backend": "sqlite",
  "storage.data_dir": "/tmp/botsmith-test",
  "llm.model": "openai/gpt-4o-mini",
  "llm.timeout": "15s",
  "objects.backend": "gcs",
  "objects.private_dir": "/bucket/private",
  "ingest.delay_scale": 0.5,
  "log.level": "debug"
}`)

	cfg, err := loadWith(b, noSecrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Server.MaxConns != 10 {
		t.Errorf("Server.MaxConns = %d, want 10", cfg.Server.MaxConns)
	}
	if cfg.Storage.Backend != StorageSQLite {
		t.Errorf("Storage.Backend = %q", cfg.Storage.Backend)
	}
	if cfg.Storage.DataDir != "/tmp/botsmith-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.LLM.Model != "openai/gpt-4o-mini" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
	if cfg.LLM.Timeout != 15*time.Second {
		t.Errorf("LLM.Timeout = %v", cfg.LLM.Timeout)
	}
	if cfg.Objects.PrivateDir != "/bucket/private" {
		t.Errorf("Objects.PrivateDir = %q", cfg.Objects.PrivateDir)
	}
	if cfg.Ingest.DelayScale != 0.5 {
		t.Errorf("Ingest.DelayScale = %v", cfg.Ingest.DelayScale)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q", cfg.Log.Level)
	}
}

// TestSecretNotReadFromFile verifies the API key in config.json is ignored.
func TestSecretNotReadFromFile(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{"llm.api_key": "file-key"}`), noSecrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOTSMITH_SERVER_PORT", "9000")
	t.Setenv("BOTSMITH_LLM_API_KEY", "env-key")
	t.Setenv("BOTSMITH_INGEST_DELAY_SCALE", "0")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 8080}`), mockSecrets{value: "secret-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
	if cfg.Ingest.DelayScale != 0 {
		t.Errorf("Ingest.DelayScale = %v, want 0", cfg.Ingest.DelayScale)
	}
}

// TestFallbackEnv verifies the conventional variables are honored when the
// prefixed ones are unset, and lose to them when both are present.
func TestFallbackEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("PORT", "3000")
	t.Setenv("PRIVATE_OBJECT_DIR", "/bucket/private")

	cfg, err := loadWith(writeTempConfig(t, `{}`), noSecrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "sk-openai" {
		t.Errorf("LLM.APIKey = %q, want sk-openai", cfg.LLM.APIKey)
	}
	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000", cfg.Server.Port)
	}
	if cfg.Objects.PrivateDir != "/bucket/private" {
		t.Errorf("Objects.PrivateDir = %q", cfg.Objects.PrivateDir)
	}

	t.Setenv("BOTSMITH_SERVER_PORT", "4000")
	cfg, err = loadWith(writeTempConfig(t, `{}`), noSecrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4000 {
		t.Errorf("Server.Port = %d, want prefixed variable to win", cfg.Server.Port)
	}
}

// TestSecretsFallback verifies the secrets file is consulted when no API key is in env.
func TestSecretsFallback(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{value: "stored-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.APIKey != "stored-secret" {
		t.Errorf("LLM.APIKey = %q, want stored-secret", cfg.LLM.APIKey)
	}
}

func TestInvalidEnvKeepsDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("BOTSMITH_INGEST_WORKERS", "many")
	cfg, err := loadWith(writeTempConfig(t, `{}`), noSecrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Ingest.Workers != 4 {
		t.Errorf("Ingest.Workers = %d, want default 4", cfg.Ingest.Workers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		wantErr string
	}{
		{"bad storage backend", `{"storage.backend": "postgres"}`, "storage.backend"},
		{"bad objects backend", `{"objects.backend": "s3"}`, "objects.backend"},
		{"gcs without private dir", `{"objects.backend": "gcs"}`, "objects.private_dir"},
		{"zero workers", `{"ingest.workers": 0}`, "ingest.workers"},
		{"bad log level", `{"log.level": "loud"}`, "log level"},
		{"port out of range", `{"server.port": 70000}`, "server.port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := loadWith(writeTempConfig(t, tt.file), noSecrets)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestSetKeyAndUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("server.port", "7000"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("llm.timeout", "30s"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("server.port", "abc"); err == nil {
		t.Error("SetKey accepted a non-integer port")
	}
	if err := SetKey("llm.api_key", "x"); err == nil {
		t.Error("SetKey accepted a secret")
	}
	if err := SetKey("nope", "x"); err == nil {
		t.Error("SetKey accepted an unknown key")
	}

	cfg, err := loadWith(newPlatformBackend(), noSecrets)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.LLM.Timeout != 30*time.Second {
		t.Errorf("LLM.Timeout = %v, want 30s", cfg.LLM.Timeout)
	}

	if err := UnsetKey("server.port"); err != nil {
		t.Fatalf("UnsetKey: %v", err)
	}
	cfg, err = loadWith(newPlatformBackend(), noSecrets)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d after unset, want 5000", cfg.Server.Port)
	}
}

func TestSetSecret(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := SetSecret("llm.api_key", "sk-stored"); err != nil {
		t.Fatalf("SetSecret: %v", err)
	}
	if err := SetSecret("llm.model", "x"); err == nil {
		t.Error("SetSecret accepted a non-secret key")
	}

	got, err := secretsFile{}.Get(appName, "llm_api_key")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "sk-stored" {
		t.Errorf("secret = %q, want sk-stored", got)
	}
}

func TestSetSecretKeepsCorruptFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	p := secretsFilePath()
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		t.Fatal(err)
	}
	corrupt := []byte(`{"botsmith": {"other_key": "keep-me"`)
	if err := os.WriteFile(p, corrupt, 0o600); err != nil {
		t.Fatal(err)
	}

	if err := SetSecret("llm.api_key", "sk-new"); err == nil {
		t.Fatal("SetSecret succeeded over a corrupt secrets file")
	}
	got, err := os.ReadFile(p)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(corrupt) {
		t.Errorf("secrets file rewritten: %s", got)
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-very-secret"
	for _, ki := range ShowAll(cfg) {
		if strings.Contains(ki.Value, "sk-very-secret") {
			t.Errorf("ShowAll leaked secret in %s", ki.Key)
		}
		if ki.Key == "llm.api_key" && ki.Value != "(set)" {
			t.Errorf("llm.api_key shown as %q, want (set)", ki.Value)
		}
	}
}
