package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds runtime configuration, read once at startup.
type Config struct {
	AppName string `envconfig:"APP_NAME" default:"SMILE API v1.0"`
	Port    string `envconfig:"PORT" default:"3000"`

	DatabaseURL       string        `envconfig:"DATABASE_URL"`
	DBHost            string        `envconfig:"DB_HOST" default:"localhost"`
	DBUser            string        `envconfig:"DB_USER" default:"postgres"`
	DBPassword        string        `envconfig:"DB_PASSWORD"`
	DBName            string        `envconfig:"DB_NAME" default:"smile"`
	DBPort            string        `envconfig:"DB_PORT" default:"5432"`
	DBSSLMode         string        `envconfig:"DB_SSLMODE" default:"disable"`
	DBMaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"10"`
	DBMaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"100"`
	DBConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"1h"`
	DBLogLevel        string        `envconfig:"DB_LOG_LEVEL" default:"warn"`
	AutoMigrate       bool          `envconfig:"AUTO_MIGRATE" default:"true"`

	JWTSecret          string        `envconfig:"JWT_SECRET" required:"true"`
	JWTIssuer          string        `envconfig:"JWT_ISSUER" default:"smile-api"`
	TokenTTL           time.Duration `envconfig:"TOKEN_TTL" default:"24h"`
	SessionIdleTimeout time.Duration `envconfig:"SESSION_IDLE_TIMEOUT" default:"5m"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`

	SeedAdminEmail    string `envconfig:"SEED_ADMIN_EMAIL" default:"admin@smile.local"`
	SeedAdminPassword string `envconfig:"SEED_ADMIN_PASSWORD" default:"admin123"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET must be provided")
	}
	return &cfg, nil
}

// DSN returns DATABASE_URL when set, otherwise a DSN assembled from the DB_* keys.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}
