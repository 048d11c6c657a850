package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type AppConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	WSPath     string `yaml:"ws_path"`
	GinMode    string `yaml:"gin_mode"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	QueueKey    string `yaml:"queue_key"`

	JWTSecret      string   `yaml:"jwt_secret"`
	AllowAnonymous bool     `yaml:"allow_anonymous"`
	IdentityURL    string   `yaml:"identity_url"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	TimeControl          time.Duration `yaml:"time_control"`
	AutoMatch            bool          `yaml:"auto_match"`
	TimeoutSweepInterval time.Duration `yaml:"timeout_sweep_interval"`
	ReadLimit            int64         `yaml:"read_limit"`
}

func defaults() *AppConfig {
	return &AppConfig{
		ListenAddr:           ":8080",
		WSPath:               "/ws/game",
		GinMode:              "release",
		TimeControl:          10 * time.Minute,
		AutoMatch:            true,
		TimeoutSweepInterval: 5 * time.Second,
		ReadLimit:            4096,
	}
}

// Load reads .env (if present), then CONFIG_FILE (YAML, optional), then the
// process environment. Later sources win.
func Load() (*AppConfig, error) {
	_ = godotenv.Load()

	cfg := defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *AppConfig) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) error {
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.WSPath, "WS_PATH")
	setString(&cfg.GinMode, "GIN_MODE")
	setString(&cfg.RedisURL, "REDIS_URL")
	setString(&cfg.DatabaseURL, "DATABASE_URL")
	setString(&cfg.QueueKey, "QUEUE_KEY")
	setString(&cfg.JWTSecret, "JWT_SECRET")
	setString(&cfg.IdentityURL, "IDENTITY_URL")

	if v := strings.TrimSpace(os.Getenv("ALLOWED_ORIGINS")); v != "" {
		cfg.AllowedOrigins = splitList(v)
	}
	if v := strings.TrimSpace(os.Getenv("ALLOW_ANONYMOUS")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("ALLOW_ANONYMOUS: %w", err)
		}
		cfg.AllowAnonymous = b
	}
	if v := strings.TrimSpace(os.Getenv("AUTO_MATCH")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("AUTO_MATCH: %w", err)
		}
		cfg.AutoMatch = b
	}
	if v := strings.TrimSpace(os.Getenv("TIME_CONTROL")); v != "" {
		d, err := parseDuration(v)
		if err != nil || d <= 0 {
			return fmt.Errorf("TIME_CONTROL: invalid duration %q", v)
		}
		cfg.TimeControl = d
	}
	if v := strings.TrimSpace(os.Getenv("TIMEOUT_SWEEP_INTERVAL")); v != "" {
		d, err := parseDuration(v)
		if err != nil || d < 0 {
			return fmt.Errorf("TIMEOUT_SWEEP_INTERVAL: invalid duration %q", v)
		}
		cfg.TimeoutSweepInterval = d
	}
	if v := strings.TrimSpace(os.Getenv("WS_READ_LIMIT")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.ReadLimit = n
		}
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.JWTSecret == "" && !c.AllowAnonymous {
		return errors.New("JWT_SECRET is required unless ALLOW_ANONYMOUS=true")
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("WS_PATH must start with '/': %q", c.WSPath)
	}
	return nil
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(v string) (time.Duration, error) {
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
