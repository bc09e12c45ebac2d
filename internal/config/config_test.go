package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigWithDefaults(t *testing.T) {
	clearTestEnv(t)

	config, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.HTTPAddress != "127.0.0.1:4102" {
		t.Errorf("Expected default address '127.0.0.1:4102', got %s", config.HTTPAddress)
	}
	if config.DatabasePath != "agility.db" {
		t.Errorf("Expected default database path 'agility.db', got %s", config.DatabasePath)
	}
	if config.LogLevel != "info" {
		t.Errorf("Expected default log level 'info', got %s", config.LogLevel)
	}
	if config.SyncInterval != 30*time.Second {
		t.Errorf("Expected default sync interval 30s, got %v", config.SyncInterval)
	}
	if config.SyncMaxAttempts != 5 {
		t.Errorf("Expected default max attempts 5, got %d", config.SyncMaxAttempts)
	}
	if config.RemoteTimeout != 30*time.Second {
		t.Errorf("Expected default remote timeout 30s, got %v", config.RemoteTimeout)
	}
	if !config.MetricsEnabled {
		t.Error("Expected metrics enabled by default")
	}
	if config.RemoteConfigured() {
		t.Error("Remote should not be configured without remote.url")
	}
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	setTestEnv(t, map[string]string{
		"AGILITY_HTTP_ADDRESS":      "0.0.0.0:8080",
		"AGILITY_DATABASE_PATH":     "/tmp/test.db",
		"AGILITY_LOG_LEVEL":         "debug",
		"AGILITY_REMOTE_URL":        "https://example.supabase.co",
		"AGILITY_REMOTE_API_KEY":    "anon-key",
		"AGILITY_SYNC_INTERVAL":     "1m",
		"AGILITY_SYNC_MAX_ATTEMPTS": "8",
		"AGILITY_METRICS_ENABLED":   "false",
	})

	config, err := Load(NewViper())
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.HTTPAddress != "0.0.0.0:8080" {
		t.Errorf("Expected address '0.0.0.0:8080', got %s", config.HTTPAddress)
	}
	if config.DatabasePath != "/tmp/test.db" {
		t.Errorf("Expected database path '/tmp/test.db', got %s", config.DatabasePath)
	}
	if config.LogLevel != "debug" {
		t.Errorf("Expected log level 'debug', got %s", config.LogLevel)
	}
	if !config.RemoteConfigured() || config.RemoteAPIKey != "anon-key" {
		t.Errorf("Expected remote configured with key, got %q / %q", config.RemoteURL, config.RemoteAPIKey)
	}
	if config.SyncInterval != time.Minute {
		t.Errorf("Expected sync interval 1m, got %v", config.SyncInterval)
	}
	if config.SyncMaxAttempts != 8 {
		t.Errorf("Expected max attempts 8, got %d", config.SyncMaxAttempts)
	}
	if config.MetricsEnabled {
		t.Error("Expected metrics disabled")
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	clearTestEnv(t)

	path := filepath.Join(t.TempDir(), "agility.yaml")
	content := `http:
  address: 127.0.0.1:9000
database:
  path: /custom/path/agility.db
remote:
  url: https://example.supabase.co
  api_key: file-key
sync:
  max_attempts: 3
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to create config file: %v", err)
	}

	t.Setenv("AGILITY_DATABASE_PATH", "/from/env.db")

	v := NewViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		t.Fatalf("Failed to read config file: %v", err)
	}

	config, err := Load(v)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if config.HTTPAddress != "127.0.0.1:9000" {
		t.Errorf("Expected address from file, got %s", config.HTTPAddress)
	}
	if config.RemoteAPIKey != "file-key" {
		t.Errorf("Expected api key from file, got %s", config.RemoteAPIKey)
	}
	if config.SyncMaxAttempts != 3 {
		t.Errorf("Expected max attempts 3 from file, got %d", config.SyncMaxAttempts)
	}
	// Env vars take precedence over the config file
	if config.DatabasePath != "/from/env.db" {
		t.Errorf("Expected database path from env var, got %s", config.DatabasePath)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "remote url without key",
			env:     map[string]string{"AGILITY_REMOTE_URL": "https://example.supabase.co"},
			wantErr: "remote.api_key is required",
		},
		{
			name:    "empty database path",
			env:     map[string]string{"AGILITY_DATABASE_PATH": "  "},
			wantErr: "database.path is required",
		},
		{
			name:    "zero max attempts",
			env:     map[string]string{"AGILITY_SYNC_MAX_ATTEMPTS": "0"},
			wantErr: "sync.max_attempts must be at least 1",
		},
		{
			name:    "negative interval",
			env:     map[string]string{"AGILITY_SYNC_INTERVAL": "-5s"},
			wantErr: "sync.interval must be positive",
		},
		{
			name:    "metrics without address",
			env:     map[string]string{"AGILITY_METRICS_ADDRESS": " "},
			wantErr: "metrics.address is required",
		},
		{
			name: "metrics disabled ignores address",
			env: map[string]string{
				"AGILITY_METRICS_ENABLED": "false",
				"AGILITY_METRICS_ADDRESS": " ",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setTestEnv(t, tt.env)

			_, err := Load(NewViper())
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got none", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

// Helper function to set test environment variables and clean up after test
func setTestEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	clearTestEnv(t)
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

// Helper function to clear all config-related environment variables
func clearTestEnv(t *testing.T) {
	t.Helper()

	envVars := []string{
		"AGILITY_HTTP_ADDRESS", "AGILITY_DATABASE_PATH", "AGILITY_LOG_LEVEL",
		"AGILITY_REMOTE_URL", "AGILITY_REMOTE_API_KEY", "AGILITY_REMOTE_TIMEOUT",
		"AGILITY_SYNC_INTERVAL", "AGILITY_SYNC_MAX_ATTEMPTS",
		"AGILITY_CONNECTIVITY_PROBE_TIMEOUT",
		"AGILITY_METRICS_ENABLED", "AGILITY_METRICS_ADDRESS", "AGILITY_METRICS_COLLECT_INTERVAL",
	}
	for _, key := range envVars {
		if value, ok := os.LookupEnv(key); ok {
			os.Unsetenv(key)
			t.Cleanup(func() { os.Setenv(key, value) })
		}
	}
}
