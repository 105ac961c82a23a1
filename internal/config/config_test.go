package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// allEnvKeys — все переменные, которые читает Load.
var allEnvKeys = []string{
	"MP_API_BASE", "API_BASE", "MP_HTTP_TIMEOUT", "MP_REFRESH_TIMEOUT", "MP_CA_CERT_PATH",
	"MP_LOG_LEVEL", "MP_LOG_FORMAT", "MP_STORE_BACKEND", "MP_STATE_DIR", "MP_STORE_SECRET",
	"MP_REDIS_ADDR", "MP_REDIS_PASSWORD", "MP_REDIS_DB", "MP_REDIS_KEY",
}

// setEnvs очищает известные переменные и устанавливает переданные.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for _, k := range allEnvKeys {
		t.Setenv(k, "")
	}
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	setEnvs(t, map[string]string{"MP_STATE_DIR": dir})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.APIBase != "http://localhost:8090" {
		t.Errorf("APIBase = %q, ожидается http://localhost:8090", cfg.APIBase)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %v, ожидается 30s", cfg.HTTPTimeout)
	}
	if cfg.RefreshTimeout != 15*time.Second {
		t.Errorf("RefreshTimeout = %v, ожидается 15s", cfg.RefreshTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.StoreBackend != BackendFile {
		t.Errorf("StoreBackend = %q, ожидается file", cfg.StoreBackend)
	}
	if cfg.RedisKey != "memberportal:credentials" {
		t.Errorf("RedisKey = %q", cfg.RedisKey)
	}
	if cfg.CredentialsPath() != filepath.Join(dir, "credentials.enc") {
		t.Errorf("CredentialsPath = %q", cfg.CredentialsPath())
	}
	if cfg.KeyPath() != filepath.Join(dir, "store.key") {
		t.Errorf("KeyPath = %q", cfg.KeyPath())
	}
}

func TestLoad_APIBaseFallback(t *testing.T) {
	setEnvs(t, map[string]string{
		"MP_STATE_DIR": t.TempDir(),
		"API_BASE":     "https://portal.example.org/api/",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.APIBase != "https://portal.example.org/api" {
		t.Errorf("APIBase = %q, ожидается значение API_BASE без trailing slash", cfg.APIBase)
	}

	// MP_API_BASE имеет приоритет
	t.Setenv("MP_API_BASE", "http://override:9000")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.APIBase != "http://override:9000" {
		t.Errorf("APIBase = %q, ожидается http://override:9000", cfg.APIBase)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		envs map[string]string
		want string
	}{
		{"bad api base", map[string]string{"MP_API_BASE": "ftp://x"}, "MP_API_BASE"},
		{"bad timeout", map[string]string{"MP_HTTP_TIMEOUT": "abc"}, "MP_HTTP_TIMEOUT"},
		{"negative refresh timeout", map[string]string{"MP_REFRESH_TIMEOUT": "-1s"}, "MP_REFRESH_TIMEOUT"},
		{"bad log level", map[string]string{"MP_LOG_LEVEL": "verbose"}, "MP_LOG_LEVEL"},
		{"bad log format", map[string]string{"MP_LOG_FORMAT": "xml"}, "MP_LOG_FORMAT"},
		{"bad backend", map[string]string{"MP_STORE_BACKEND": "sqlite"}, "MP_STORE_BACKEND"},
		{"redis without addr", map[string]string{"MP_STORE_BACKEND": "redis"}, "MP_REDIS_ADDR"},
		{"bad redis db", map[string]string{"MP_REDIS_DB": "one"}, "MP_REDIS_DB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := map[string]string{"MP_STATE_DIR": t.TempDir()}
			for k, v := range tt.envs {
				envs[k] = v
			}
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Fatal("ожидалась ошибка")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("ошибка %q не упоминает %s", err, tt.want)
			}
		})
	}
}

func TestLoad_Redis(t *testing.T) {
	setEnvs(t, map[string]string{
		"MP_STATE_DIR":     t.TempDir(),
		"MP_STORE_BACKEND": "redis",
		"MP_REDIS_ADDR":    "localhost:6379",
		"MP_REDIS_DB":      "2",
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load(): %v", err)
	}
	if cfg.RedisAddr != "localhost:6379" || cfg.RedisDB != 2 {
		t.Errorf("Redis = %s/%d", cfg.RedisAddr, cfg.RedisDB)
	}
}

func TestHTTPClient_CACert(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	cfg := &Config{HTTPTimeout: 5 * time.Second}
	client, err := cfg.HTTPClient(logger)
	if err != nil {
		t.Fatalf("HTTPClient: %v", err)
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", client.Timeout)
	}

	cfg.CACertPath = filepath.Join(t.TempDir(), "missing.pem")
	if _, err := cfg.HTTPClient(logger); err == nil {
		t.Error("ожидалась ошибка для отсутствующего CA-файла")
	}

	notPEM := filepath.Join(t.TempDir(), "bad.pem")
	_ = os.WriteFile(notPEM, []byte("not a certificate"), 0o600)
	cfg.CACertPath = notPEM
	if _, err := cfg.HTTPClient(logger); err == nil {
		t.Error("ожидалась ошибка для файла без PEM")
	}
}

func TestLoadMock(t *testing.T) {
	for _, k := range []string{"MOCK_LISTEN_ADDR", "MOCK_ACCESS_TTL", "MOCK_REFRESH_TTL", "MOCK_LOG_LEVEL", "MOCK_LOG_FORMAT", "MOCK_SHUTDOWN_TIMEOUT"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadMock()
	if err != nil {
		t.Fatalf("LoadMock(): %v", err)
	}
	if cfg.ListenAddr != ":8090" || cfg.AccessTTL != 15*time.Minute || cfg.RefreshTTL != 24*time.Hour {
		t.Errorf("cfg = %+v", cfg)
	}

	t.Setenv("MOCK_ACCESS_TTL", "2h")
	t.Setenv("MOCK_REFRESH_TTL", "1h")
	if _, err := LoadMock(); err == nil {
		t.Error("ожидалась ошибка: refresh TTL меньше access TTL")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := parseLogLevel(tt.input)
		if err != nil {
			t.Errorf("parseLogLevel(%q): %v", tt.input, err)
		}
		if got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, ожидается %v", tt.input, got, tt.want)
		}
	}
}
