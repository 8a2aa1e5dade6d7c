package config

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Gateway  GatewayConfig  `json:"gateway"`
	KV       KVConfig       `json:"kv"`
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token" env:"SMSGRAM_TELEGRAM_TOKEN"`
}

type GatewayConfig struct {
	URL      string `json:"url" env:"SMSGRAM_GATEWAY_URL"`
	Username string `json:"username" env:"SMSGRAM_GATEWAY_USERNAME"`
	Password string `json:"password" env:"SMSGRAM_GATEWAY_PASSWORD"`
}

type KVConfig struct {
	URL    string `json:"url" env:"SMSGRAM_KV_URL"`
	AppKey string `json:"app_key" env:"SMSGRAM_KV_APP_KEY"`
}

type ServerConfig struct {
	Port int `json:"port" env:"SMSGRAM_SERVER_PORT"`
	// PublicURL is the externally reachable base URL of this process; the
	// webhook keeper registers "<PublicURL>/sms-webhook" with the gateway.
	PublicURL   string `json:"public_url" env:"SMSGRAM_SERVER_PUBLIC_URL"`
	WebhookCron string `json:"webhook_cron" env:"SMSGRAM_SERVER_WEBHOOK_CRON"`
}

type LoggingConfig struct {
	Debug       bool   `json:"debug" env:"SMSGRAM_LOGGING_DEBUG"`
	FileEnabled bool   `json:"file_enabled" env:"SMSGRAM_LOGGING_FILE_ENABLED"`
	FilePath    string `json:"file_path" env:"SMSGRAM_LOGGING_FILE_PATH"`
}

func DefaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			URL: "https://api.sms-gate.app/3rdparty/v1",
		},
		KV: KVConfig{
			URL: "https://keyvalue.immanuel.co",
		},
		Server: ServerConfig{
			Port:        8080,
			WebhookCron: "*/15 * * * *",
		},
		Logging: LoggingConfig{
			FileEnabled: false,
			FilePath:    "~/.smsgram/smsgram.log",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate reports the first missing setting the bridge cannot run without.
func (c *Config) Validate() error {
	switch {
	case c.Telegram.Token == "":
		return errors.New("telegram.token is required")
	case c.KV.AppKey == "":
		return errors.New("kv.app_key is required")
	case c.Gateway.Username == "" || c.Gateway.Password == "":
		return errors.New("gateway.username and gateway.password are required")
	}
	return nil
}
