package utils

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the process configuration, read from the environment (and .env when present).
type Config struct {
	ListenAddr     string   `env:"LISTEN_ADDR" envDefault:":5200"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	LogMode        string   `env:"LOG_MODE" envDefault:"development"`

	// Remote tier: either a database (system of record) or an HTTP endpoint of one.
	DatabaseURL      string        `env:"DATABASE_URL"`
	RemoteURL        string        `env:"REMOTE_URL"`
	GameServiceToken string        `env:"GAME_SERVICE_TOKEN"`
	RemoteTimeout    time.Duration `env:"REMOTE_TIMEOUT" envDefault:"30s"`

	// Local tier.
	LocalDBPath string `env:"LOCAL_DB_PATH" envDefault:"profiles.db"`

	// Session tier. Empty REDIS_ADDR keeps the session tier in memory.
	RedisAddr    string        `env:"REDIS_ADDR"`
	RedisChannel string        `env:"REDIS_CHANNEL" envDefault:"profile-changes"`
	SessionTTL   time.Duration `env:"SESSION_TTL" envDefault:"30m"`

	SyncInterval        time.Duration `env:"SYNC_INTERVAL" envDefault:"60s"`
	RemoteRetryAttempts uint          `env:"REMOTE_RETRY_ATTEMPTS" envDefault:"3"`
	RemoteRetryInitial  time.Duration `env:"REMOTE_RETRY_INITIAL" envDefault:"500ms"`
	SessionIdleTimeout  time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"15m"`

	// Optional R2 snapshot archive.
	R2 R2Config
}

type R2Config struct {
	AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	Bucket          string `env:"R2_BUCKET_NAME"`
}

// Enabled reports whether enough settings are present to talk to R2.
func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

// LoadConfig reads .env (if any) and then the process environment.
func LoadConfig() (Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	for i, origin := range cfg.AllowedOrigins {
		cfg.AllowedOrigins[i] = strings.TrimSpace(origin)
	}
	return cfg, nil
}

// Validate checks cross-field requirements that struct tags cannot express.
func (c Config) Validate(needRemote bool) error {
	if needRemote && c.DatabaseURL == "" && c.RemoteURL == "" {
		return fmt.Errorf("either DATABASE_URL or REMOTE_URL must be set")
	}
	if c.RemoteURL != "" && c.GameServiceToken == "" {
		return fmt.Errorf("GAME_SERVICE_TOKEN is required with REMOTE_URL")
	}
	if c.RemoteRetryAttempts == 0 {
		return fmt.Errorf("REMOTE_RETRY_ATTEMPTS must be at least 1")
	}
	return nil
}
