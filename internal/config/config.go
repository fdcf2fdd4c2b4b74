// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"

	"meal-scan/internal/nutrition"
)

// Config holds all user-facing configuration for meal-scan.
type Config struct {
	Server ServerConfig     `toml:"server"`
	Data   DataConfig       `toml:"data"`
	Vision VisionConfig     `toml:"vision"`
	Parse  nutrition.Policy `toml:"parse"`
	Log    LogConfig        `toml:"log"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type DataConfig struct {
	DBPath string `toml:"db_path"`
}

type VisionConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Model          string  `toml:"model"`
	MaxTokens      int     `toml:"max_tokens"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RateLimit      float64 `toml:"rate_limit"`
}

func (v VisionConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Defaults returns a Config populated with built-in default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8011},
		Data:   DataConfig{DBPath: "meal-scan.db"},
		Vision: VisionConfig{
			BaseURL:        "https://api.groq.com/openai/v1",
			Model:          "llama-3.2-90b-vision-preview",
			MaxTokens:      300,
			TimeoutSeconds: 60,
			RateLimit:      2,
		},
		Parse: nutrition.DefaultPolicy(),
		Log:   LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a TOML config file and applies environment overrides. If the
// file does not exist, built-in defaults are used without error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if _, err := toml.DecodeFile(path, cfg); err != nil {
				return nil, fmt.Errorf("decoding %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}

	setString(&c.Vision.APIKey, "VISION_API_KEY", "GROQ_API_KEY")
	setString(&c.Vision.BaseURL, "VISION_BASE_URL")
	setString(&c.Vision.Model, "VISION_MODEL")
	setString(&c.Data.DBPath, "MEAL_SCAN_DB")
	setString(&c.Server.Host, "MEAL_SCAN_HOST")
	setString(&c.Log.Level, "LOG_LEVEL")

	if v := getenv("MEAL_SCAN_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MEAL_SCAN_PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	if c.Vision.MaxTokens <= 0 {
		return fmt.Errorf("vision max_tokens must be positive, got %d", c.Vision.MaxTokens)
	}
	if err := c.Parse.Validate(); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	return nil
}
