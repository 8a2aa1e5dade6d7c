package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig_KVBaseURL(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.KV.URL == "" {
		t.Error("KV URL should have a default value")
	}
}

func TestDefaultConfig_ServerPort(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port == 0 {
		t.Error("Server port should not be zero")
	}
}

func TestDefaultConfig_WebhookCron(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.WebhookCron == "" {
		t.Error("Webhook cron should have a default value")
	}
}

func TestLoadConfig_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Port != DefaultConfig().Server.Port {
		t.Errorf("port = %d, want default %d", cfg.Server.Port, DefaultConfig().Server.Port)
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{"telegram":{"token":"tok"},"server":{"port":9090}}`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "tok" {
		t.Errorf("token = %q, want %q", cfg.Telegram.Token, "tok")
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.KV.URL != DefaultConfig().KV.URL {
		t.Errorf("kv url should keep its default, got %q", cfg.KV.URL)
	}
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"kv":{"app_key":"from-file"}}`), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("SMSGRAM_KV_APP_KEY", "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.KV.AppKey != "from-env" {
		t.Errorf("app key = %q, want %q", cfg.KV.AppKey, "from-env")
	}
}

func TestValidate_RequiresToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KV.AppKey = "k"
	cfg.Gateway.Username = "u"
	cfg.Gateway.Password = "p"

	if err := cfg.Validate(); err == nil {
		t.Error("Validate should fail without a telegram token")
	}

	cfg.Telegram.Token = "tok"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed on a complete config: %v", err)
	}
}
