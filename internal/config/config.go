// Пакет config — загрузка и валидация конфигурации memberportal
// из переменных окружения (и необязательного файла .env).
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Поддерживаемые бэкенды durable-уровня.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config содержит параметры клиента memberportal.
type Config struct {
	// --- API ---

	// Корневой URL identity-сервиса и API портала
	APIBase string
	// Таймаут одного HTTP-запроса
	HTTPTimeout time.Duration
	// Таймаут refresh, выполняемого в фоне от имени всех ожидающих
	RefreshTimeout time.Duration
	// Путь к CA-сертификату для TLS (опционально)
	CACertPath string

	// --- Логирование ---

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Хранилище учётных данных ---

	// Бэкенд durable-уровня: file, redis
	StoreBackend string
	// Каталог состояния (файл учётных данных и ключ)
	StateDir string
	// Ключ шифрования durable-уровня (если пусто, генерируется в StateDir/store.key)
	StoreSecret string

	// --- Redis ---

	// Адрес Redis (host:port)
	RedisAddr string
	// Пароль Redis
	RedisPassword string
	// Номер базы Redis
	RedisDB int
	// Hash-ключ со слотами
	RedisKey string
}

// Load загружает конфигурацию из переменных окружения.
// Файл .env в текущем каталоге подхватывается, если он есть.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	var err error

	// --- API ---

	// MP_API_BASE — корневой URL (fallback: API_BASE, по умолчанию http://localhost:8090)
	cfg.APIBase = getEnvDefault("MP_API_BASE", getEnvDefault("API_BASE", "http://localhost:8090"))
	cfg.APIBase = strings.TrimRight(cfg.APIBase, "/")
	if !strings.HasPrefix(cfg.APIBase, "http://") && !strings.HasPrefix(cfg.APIBase, "https://") {
		return nil, fmt.Errorf("MP_API_BASE: ожидается http:// или https:// URL, получено %q", cfg.APIBase)
	}

	// MP_HTTP_TIMEOUT — таймаут HTTP-запроса (по умолчанию 30s)
	cfg.HTTPTimeout, err = getEnvDuration("MP_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MP_HTTP_TIMEOUT: %w", err)
	}

	// MP_REFRESH_TIMEOUT — таймаут refresh (по умолчанию 15s)
	cfg.RefreshTimeout, err = getEnvDuration("MP_REFRESH_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MP_REFRESH_TIMEOUT: %w", err)
	}

	// MP_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("MP_CA_CERT_PATH", "")

	// --- Логирование ---

	// MP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MP_LOG_LEVEL: %w", err)
	}

	// MP_LOG_FORMAT — формат логов (по умолчанию text)
	cfg.LogFormat = getEnvDefault("MP_LOG_FORMAT", "text")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Хранилище ---

	// MP_STORE_BACKEND — бэкенд durable-уровня (по умолчанию file)
	cfg.StoreBackend = getEnvDefault("MP_STORE_BACKEND", BackendFile)
	if cfg.StoreBackend != BackendFile && cfg.StoreBackend != BackendRedis {
		return nil, fmt.Errorf("MP_STORE_BACKEND: недопустимое значение %q, допустимые: file, redis", cfg.StoreBackend)
	}

	// MP_STATE_DIR — каталог состояния (по умолчанию <UserConfigDir>/memberportal)
	cfg.StateDir = getEnvDefault("MP_STATE_DIR", "")
	if cfg.StateDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("MP_STATE_DIR: не задан и не удалось определить каталог конфигурации: %w", err)
		}
		cfg.StateDir = filepath.Join(base, "memberportal")
	}

	// MP_STORE_SECRET — ключ шифрования (опционально)
	cfg.StoreSecret = getEnvDefault("MP_STORE_SECRET", "")

	// --- Redis ---

	cfg.RedisAddr = getEnvDefault("MP_REDIS_ADDR", "")
	cfg.RedisPassword = getEnvDefault("MP_REDIS_PASSWORD", "")
	cfg.RedisDB, err = getEnvInt("MP_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("MP_REDIS_DB: %w", err)
	}
	cfg.RedisKey = getEnvDefault("MP_REDIS_KEY", "memberportal:credentials")

	// MP_REDIS_ADDR обязателен для бэкенда redis
	if cfg.StoreBackend == BackendRedis && cfg.RedisAddr == "" {
		return nil, errors.New("MP_REDIS_ADDR: обязателен при MP_STORE_BACKEND=redis")
	}

	return cfg, nil
}

// CredentialsPath — путь к файлу durable-уровня.
func (c *Config) CredentialsPath() string {
	return filepath.Join(c.StateDir, "credentials.enc")
}

// KeyPath — путь к сгенерированному ключу шифрования.
func (c *Config) KeyPath() string {
	return filepath.Join(c.StateDir, "store.key")
}

// HTTPClient создаёт HTTP-клиент с таймаутом и, при необходимости, кастомным CA.
func (c *Config) HTTPClient(logger *slog.Logger) (*http.Client, error) {
	httpClient := &http.Client{Timeout: c.HTTPTimeout}

	if c.CACertPath != "" {
		tlsConfig, err := buildTLSConfig(c.CACertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат добавлен в пул доверия",
			slog.String("ca_cert", c.CACertPath),
		)
	}
	return httpClient, nil
}

// SetupLogger настраивает глобальный slog-логгер.
// Логи пишутся в stderr, чтобы не смешиваться с выводом команд.
func SetupLogger(level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// MockConfig — параметры dev identity-сервиса.
type MockConfig struct {
	// Адрес прослушивания
	ListenAddr string
	// Время жизни access token
	AccessTTL time.Duration
	// Время жизни refresh token
	RefreshTTL time.Duration
	// Уровень логирования
	LogLevel slog.Level
	// Формат логов
	LogFormat string
	// Таймаут graceful shutdown
	ShutdownTimeout time.Duration
}

// LoadMock загружает конфигурацию identity-mock.
func LoadMock() (*MockConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &MockConfig{}
	var err error

	// MOCK_LISTEN_ADDR — адрес (по умолчанию :8090)
	cfg.ListenAddr = getEnvDefault("MOCK_LISTEN_ADDR", ":8090")

	// MOCK_ACCESS_TTL — время жизни access token (по умолчанию 15m)
	cfg.AccessTTL, err = getEnvDuration("MOCK_ACCESS_TTL", 15*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("MOCK_ACCESS_TTL: %w", err)
	}

	// MOCK_REFRESH_TTL — время жизни refresh token (по умолчанию 24h)
	cfg.RefreshTTL, err = getEnvDuration("MOCK_REFRESH_TTL", 24*time.Hour)
	if err != nil {
		return nil, fmt.Errorf("MOCK_REFRESH_TTL: %w", err)
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, fmt.Errorf("MOCK_REFRESH_TTL: должен быть больше MOCK_ACCESS_TTL (%s)", cfg.AccessTTL)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MOCK_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MOCK_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("MOCK_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MOCK_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvDuration("MOCK_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("MOCK_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// --- Вспомогательные функции ---

// loadDotEnv подгружает .env; отсутствие файла не ошибка.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return fmt.Errorf("загрузка .env: %w", err)
		}
	}
	return nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("файл %s не содержит PEM-сертификатов", caCertPath)
	}

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
