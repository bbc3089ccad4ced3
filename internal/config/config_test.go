package config

import (
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

const testEncryptionKey = "0123456789abcdef0123456789abcdef"

// setBaseEnv выставляет минимально валидное окружение
func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENCRYPTION_KEY", testEncryptionKey)
	t.Setenv("ADMIN_USERNAME", "")
	t.Setenv("ADMIN_PASSWORD_HASH", "")
	t.Setenv("DB_DRIVER", "")
}

func TestLoad_Defaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("Database.Driver = %s, want postgres", cfg.Database.Driver)
	}
	if cfg.Market.Timezone != "Asia/Kolkata" {
		t.Errorf("Market.Timezone = %s", cfg.Market.Timezone)
	}
	if cfg.Market.PreOpenBuffer != 15*time.Minute {
		t.Errorf("PreOpenBuffer = %v, want 15m", cfg.Market.PreOpenBuffer)
	}
	if cfg.Feed.AuthTimeout != 10*time.Second {
		t.Errorf("AuthTimeout = %v, want 10s", cfg.Feed.AuthTimeout)
	}
	if cfg.Feed.SubscriptionRefresh != 60*time.Second {
		t.Errorf("SubscriptionRefresh = %v, want 60s", cfg.Feed.SubscriptionRefresh)
	}
	if cfg.Bot.ConnectRetryDelay != 30*time.Second || cfg.Bot.ErrorRetryDelay != 5*time.Second {
		t.Errorf("retry delays = %v/%v", cfg.Bot.ConnectRetryDelay, cfg.Bot.ErrorRetryDelay)
	}
	if cfg.Bot.SleepChunk != time.Minute || cfg.Bot.MaxClosedSleep != time.Hour {
		t.Errorf("sleep = %v/%v", cfg.Bot.SleepChunk, cfg.Bot.MaxClosedSleep)
	}
	if cfg.Exit.RetrySpacing != 10*time.Second {
		t.Errorf("Exit.RetrySpacing = %v, want 10s", cfg.Exit.RetrySpacing)
	}
	if cfg.Publish.SharedDataPath != "instance/websocket_data.json" {
		t.Errorf("SharedDataPath = %s", cfg.Publish.SharedDataPath)
	}
	if cfg.Security.BasicAuthEnabled() {
		t.Error("basic auth should be disabled by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_PATH", "/tmp/algo.db")
	t.Setenv("TICK_SHARDS", "4")
	t.Setenv("EXIT_RETRY_SPACING", "15s")
	t.Setenv("FEED_SUBSCRIBE_RATE", "2.5")
	t.Setenv("MARKET_TIMEZONE", "UTC")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d", cfg.Server.Port)
	}
	if cfg.Database.DSN() != "file:/tmp/algo.db?_busy_timeout=5000&_foreign_keys=on" {
		t.Errorf("sqlite DSN = %s", cfg.Database.DSN())
	}
	if cfg.Bot.Shards != 4 {
		t.Errorf("Shards = %d", cfg.Bot.Shards)
	}
	if cfg.Exit.RetrySpacing != 15*time.Second {
		t.Errorf("RetrySpacing = %v", cfg.Exit.RetrySpacing)
	}
	if cfg.Feed.SubscribeRate != 2.5 {
		t.Errorf("SubscribeRate = %v", cfg.Feed.SubscribeRate)
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("LOOP_INTERVAL", "soon")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Bot.LoopInterval != time.Second {
		t.Errorf("defaults not applied: port=%d loop=%v", cfg.Server.Port, cfg.Bot.LoopInterval)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing encryption key", map[string]string{"ENCRYPTION_KEY": ""}, "ENCRYPTION_KEY is required"},
		{"short encryption key", map[string]string{"ENCRYPTION_KEY": "short"}, "ENCRYPTION_KEY must be"},
		{"user without hash", map[string]string{"ADMIN_USERNAME": "ops"}, "must be set together"},
		{"invalid hash", map[string]string{"ADMIN_USERNAME": "ops", "ADMIN_PASSWORD_HASH": "plain"}, "not a valid bcrypt"},
		{"bad port", map[string]string{"SERVER_PORT": "70000"}, "SERVER_PORT"},
		{"bad driver", map[string]string{"DB_DRIVER": "mysql"}, "DB_DRIVER"},
		{"bad timezone", map[string]string{"MARKET_TIMEZONE": "Mars/Olympus"}, "MARKET_TIMEZONE"},
		{"zero shards", map[string]string{"TICK_SHARDS": "0"}, "TICK_SHARDS"},
		{"negative spacing", map[string]string{"EXIT_RETRY_SPACING": "-1s"}, "EXIT_RETRY_SPACING"},
		{"valid admin", map[string]string{"ADMIN_USERNAME": "ops", "ADMIN_PASSWORD_HASH": string(hash)}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBaseEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if !cfg.Security.BasicAuthEnabled() {
					t.Error("basic auth should be enabled")
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDSNWithoutPassword(t *testing.T) {
	d := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432, Name: "algo",
		User: "svc", Password: "s3cret", SSLMode: "require",
	}

	if !strings.Contains(d.DSN(), "password=s3cret") {
		t.Errorf("DSN missing password: %s", d.DSN())
	}
	if strings.Contains(d.DSNWithoutPassword(), "s3cret") {
		t.Errorf("DSNWithoutPassword leaked password: %s", d.DSNWithoutPassword())
	}
}
