package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when TASKFLOW_CONFIG is not set.
const DefaultPath = "config/config.yaml"

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type EmailConfig struct {
	SMTPHost     string `yaml:"smtp_host"`
	SMTPPort     int    `yaml:"smtp_port"`
	SMTPUser     string `yaml:"smtp_user"`
	SMTPPassword string `yaml:"smtp_password"`
	FromEmail    string `yaml:"from_email"`
}

// Enabled reports whether enough is configured to send mail.
func (e EmailConfig) Enabled() bool {
	return e.SMTPHost != "" && e.FromEmail != ""
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LifecycleConfig struct {
	StrictTransitions bool `yaml:"strict_transitions"`
	ActivityLimit     int  `yaml:"activity_limit"`
}

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		DSN          string `yaml:"url"`
		MaxOpenConns int    `yaml:"max_open_conns"`
		MaxIdleConns int    `yaml:"max_idle_conns"`
	} `yaml:"database"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	Lifecycle LifecycleConfig `yaml:"lifecycle"`
	Log       LogConfig       `yaml:"log"`
	Email     EmailConfig     `yaml:"email"`
	Telegram  struct {
		BotToken string `yaml:"bot_token"`
	} `yaml:"telegram"`
	Redis RedisConfig `yaml:"redis"`
	PDF   struct {
		FontPath string `yaml:"font_path"`
	} `yaml:"pdf"`
}

// Path returns the config file location, honoring TASKFLOW_CONFIG.
func Path() string {
	if p := os.Getenv("TASKFLOW_CONFIG"); p != "" {
		return p
	}
	return DefaultPath
}

func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("config %s: database.url is required", path)
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("config %s: auth.jwt_secret is required", path)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Lifecycle.ActivityLimit <= 0 {
		c.Lifecycle.ActivityLimit = 20
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Log.MaxBackups == 0 {
		c.Log.MaxBackups = 30
	}
	if c.Log.MaxAgeDays == 0 {
		c.Log.MaxAgeDays = 90
	}
	if c.Email.SMTPPort == 0 {
		c.Email.SMTPPort = 587
	}
}
