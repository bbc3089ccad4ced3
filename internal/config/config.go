package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // Asia/Kolkata на хостах без системной базы зон

	"github.com/joho/godotenv"

	"riskwatch/pkg/crypto"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Security SecurityConfig
	Feed     FeedConfig
	Market   MarketConfig
	Bot      BotConfig
	Exit     ExitConfig
	Publish  PublishConfig
	Logging  LoggingConfig
}

// ServerConfig - HTTP API оператора
type ServerConfig struct {
	Port            int
	Host            string
	ShutdownTimeout time.Duration
	AllowedOrigins  string // origin дашборда для /ws/stream, через запятую
	StatusInterval  time.Duration
}

// DatabaseConfig - подключение к БД (postgres или sqlite3)
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	Path     string // файл sqlite
}

// SecurityConfig - ключ расшифровки API-ключа аккаунта и basic auth оператора
type SecurityConfig struct {
	EncryptionKey     string
	AdminUsername     string
	AdminPasswordHash string
}

// FeedConfig - поток котировок
type FeedConfig struct {
	ConnectTimeout      time.Duration // dial websocket
	AuthTimeout         time.Duration // ожидание {"type":"auth","status":"success"}
	SubscriptionRefresh time.Duration // полная переподписка
	PingInterval        time.Duration
	SubscribeRate       float64 // сообщений подписки в секунду
}

// MarketConfig - календарь биржи
type MarketConfig struct {
	Timezone      string
	PreOpenBuffer time.Duration
}

// BotConfig - управляющий цикл и диспетчер тиков
type BotConfig struct {
	Shards            int
	ShardBuffer       int
	EvalTimeout       time.Duration // таймаут обработки одного тика
	LoopInterval      time.Duration
	ConnectRetryDelay time.Duration
	ErrorRetryDelay   time.Duration
	SleepChunk        time.Duration
	MaxClosedSleep    time.Duration
}

// ExitConfig - машина состояний выхода
type ExitConfig struct {
	RetrySpacing time.Duration
}

// PublishConfig - публикация снапшота цен
type PublishConfig struct {
	SharedDataPath string
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load читает .env (если есть) и переменные окружения.
// Уже выставленные переменные окружения имеют приоритет над .env.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnv("ALLOWED_ORIGINS", ""),
			StatusInterval:  getEnvAsDuration("WS_STATUS_INTERVAL", 5*time.Second),
		},
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "postgres"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "algo"),
			User:     getEnv("DB_USER", "user"),
			Password: getEnv("DB_PASSWORD", "password"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			Path:     getEnv("DB_PATH", "instance/app.db"),
		},
		Security: SecurityConfig{
			EncryptionKey:     getEnv("ENCRYPTION_KEY", ""),
			AdminUsername:     getEnv("ADMIN_USERNAME", ""),
			AdminPasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
		},
		Feed: FeedConfig{
			ConnectTimeout:      getEnvAsDuration("FEED_CONNECT_TIMEOUT", 10*time.Second),
			AuthTimeout:         getEnvAsDuration("FEED_AUTH_TIMEOUT", 10*time.Second),
			SubscriptionRefresh: getEnvAsDuration("FEED_SUBSCRIPTION_REFRESH", 60*time.Second),
			PingInterval:        getEnvAsDuration("FEED_PING_INTERVAL", 20*time.Second),
			SubscribeRate:       getEnvAsFloat("FEED_SUBSCRIBE_RATE", 20),
		},
		Market: MarketConfig{
			Timezone:      getEnv("MARKET_TIMEZONE", "Asia/Kolkata"),
			PreOpenBuffer: getEnvAsDuration("MARKET_PRE_OPEN_BUFFER", 15*time.Minute),
		},
		Bot: BotConfig{
			Shards:            getEnvAsInt("TICK_SHARDS", 8),
			ShardBuffer:       getEnvAsInt("TICK_SHARD_BUFFER", 256),
			EvalTimeout:       getEnvAsDuration("TICK_EVAL_TIMEOUT", 5*time.Second),
			LoopInterval:      getEnvAsDuration("LOOP_INTERVAL", 1*time.Second),
			ConnectRetryDelay: getEnvAsDuration("CONNECT_RETRY_DELAY", 30*time.Second),
			ErrorRetryDelay:   getEnvAsDuration("ERROR_RETRY_DELAY", 5*time.Second),
			SleepChunk:        getEnvAsDuration("SLEEP_CHUNK", 60*time.Second),
			MaxClosedSleep:    getEnvAsDuration("MAX_CLOSED_SLEEP", 1*time.Hour),
		},
		Exit: ExitConfig{
			RetrySpacing: getEnvAsDuration("EXIT_RETRY_SPACING", 10*time.Second),
		},
		Publish: PublishConfig{
			SharedDataPath: getEnv("SHARED_DATA_PATH", "instance/websocket_data.json"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	// ENCRYPTION_KEY нужен для расшифровки API-ключа аккаунта
	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for decrypting account API keys")
	}
	if _, err := crypto.ParseKey(c.Security.EncryptionKey); err != nil {
		return fmt.Errorf("ENCRYPTION_KEY must be 32 bytes or 64 hex chars: %w", err)
	}

	// basic auth включается только парой логин + хеш
	hasUser := c.Security.AdminUsername != ""
	hasHash := c.Security.AdminPasswordHash != ""
	if hasUser != hasHash {
		return fmt.Errorf("ADMIN_USERNAME and ADMIN_PASSWORD_HASH must be set together")
	}
	if hasHash && !crypto.IsValidHash(c.Security.AdminPasswordHash) {
		return fmt.Errorf("ADMIN_PASSWORD_HASH is not a valid bcrypt hash")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
		}
	case "sqlite3":
		if c.Database.Path == "" {
			return fmt.Errorf("DB_PATH is required for sqlite3")
		}
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite3, got %q", c.Database.Driver)
	}

	if _, err := time.LoadLocation(c.Market.Timezone); err != nil {
		return fmt.Errorf("MARKET_TIMEZONE %q: %w", c.Market.Timezone, err)
	}
	if c.Market.PreOpenBuffer < 0 {
		return fmt.Errorf("MARKET_PRE_OPEN_BUFFER cannot be negative, got %v", c.Market.PreOpenBuffer)
	}

	if c.Bot.Shards < 1 || c.Bot.Shards > 256 {
		return fmt.Errorf("TICK_SHARDS must be between 1 and 256, got %d", c.Bot.Shards)
	}
	if c.Bot.ShardBuffer < 1 {
		return fmt.Errorf("TICK_SHARD_BUFFER must be positive, got %d", c.Bot.ShardBuffer)
	}

	positive := map[string]time.Duration{
		"FEED_CONNECT_TIMEOUT":      c.Feed.ConnectTimeout,
		"FEED_AUTH_TIMEOUT":         c.Feed.AuthTimeout,
		"FEED_SUBSCRIPTION_REFRESH": c.Feed.SubscriptionRefresh,
		"FEED_PING_INTERVAL":        c.Feed.PingInterval,
		"TICK_EVAL_TIMEOUT":         c.Bot.EvalTimeout,
		"LOOP_INTERVAL":             c.Bot.LoopInterval,
		"SLEEP_CHUNK":               c.Bot.SleepChunk,
		"MAX_CLOSED_SLEEP":          c.Bot.MaxClosedSleep,
		"EXIT_RETRY_SPACING":        c.Exit.RetrySpacing,
		"WS_STATUS_INTERVAL":        c.Server.StatusInterval,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}

	if c.Feed.SubscribeRate <= 0 {
		return fmt.Errorf("FEED_SUBSCRIBE_RATE must be positive, got %v", c.Feed.SubscribeRate)
	}

	return nil
}

// DSN возвращает строку подключения для выбранного драйвера
func (d DatabaseConfig) DSN() string {
	if d.Driver == "sqlite3" {
		return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", d.Path)
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	if d.Driver == "sqlite3" {
		return d.DSN()
	}
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// BasicAuthEnabled - заданы ли учётные данные оператора
func (s SecurityConfig) BasicAuthEnabled() bool {
	return s.AdminUsername != "" && s.AdminPasswordHash != ""
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return value
}
