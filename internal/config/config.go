// Package config reads process settings from flags, falling back to the
// environment. A .env file in the working directory is loaded first if present.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/vncsmyrnk/qvote/internal/core/domain"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", c.User, c.Password, c.Host, c.Port, c.Name)
}

// Config holds the settings of the API server.
type Config struct {
	Port          int
	Store         string
	Database      DatabaseConfig
	JWTSecret     string
	TokenTTL      time.Duration
	TallyInterval time.Duration
	Migrate       bool
	LogLevel      string
	Environment   string
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

// Load parses the server flags in args. Flags win over environment variables.
func Load(args []string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	var cfg Config
	var port, tokenTTL, tallyInterval, migrate string

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&port, "port", "", "HTTP port (PORT)")
	fs.StringVar(&cfg.Store, "store", "", "Storage backend: memory or postgres (STORE)")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "HMAC secret for access tokens, prefer env (JWT_SECRET)")
	fs.StringVar(&tokenTTL, "token-ttl", "", "Access token lifetime (TOKEN_TTL)")
	fs.StringVar(&tallyInterval, "tally-interval", "", "Period of the background tally, 0 disables it (TALLY_INTERVAL)")
	fs.StringVar(&migrate, "migrate", "", "Apply pending migrations on start (MIGRATE)")
	fs.StringVar(&cfg.LogLevel, "log-level", "", "Log level (LOG_LEVEL)")
	fs.StringVar(&cfg.Environment, "env", "", "development or production (ENVIRONMENT)")
	bindDatabase(fs, &cfg.Database)

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	var err error
	if cfg.Port, err = intSetting(port, "PORT", 8080); err != nil {
		return Config{}, err
	}
	cfg.Store = stringSetting(cfg.Store, "STORE", StoreMemory)
	if cfg.Store != StoreMemory && cfg.Store != StorePostgres {
		return Config{}, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	cfg.JWTSecret = stringSetting(cfg.JWTSecret, "JWT_SECRET", "")
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET required")
	}
	if cfg.TokenTTL, err = durationSetting(tokenTTL, "TOKEN_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.TallyInterval, err = durationSetting(tallyInterval, "TALLY_INTERVAL", 0); err != nil {
		return Config{}, err
	}
	if cfg.Migrate, err = boolSetting(migrate, "MIGRATE", false); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = stringSetting(cfg.LogLevel, "LOG_LEVEL", "info")
	cfg.Environment = stringSetting(cfg.Environment, "ENVIRONMENT", "development")
	resolveDatabase(&cfg.Database)

	return cfg, nil
}

// LoadDatabase parses only the database flags and returns the remaining
// positional arguments.
func LoadDatabase(name string, args []string) (DatabaseConfig, []string, error) {
	if err := loadDotEnv(); err != nil {
		return DatabaseConfig{}, nil, err
	}

	var db DatabaseConfig
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	bindDatabase(fs, &db)
	if err := fs.Parse(args); err != nil {
		return DatabaseConfig{}, nil, err
	}
	resolveDatabase(&db)
	return db, fs.Args(), nil
}

// Issuer holds what is needed to mint one access token.
type Issuer struct {
	Secret  string
	TTL     time.Duration
	Subject string
	Role    domain.Role
}

func LoadIssuer(args []string) (Issuer, error) {
	if err := loadDotEnv(); err != nil {
		return Issuer{}, err
	}

	var iss Issuer
	var ttl, role string
	fs := flag.NewFlagSet("issuetoken", flag.ContinueOnError)
	fs.StringVar(&iss.Subject, "sub", "", "Token subject, a voter address for the voter role")
	fs.StringVar(&role, "role", string(domain.RoleVoter), "admin or voter")
	fs.StringVar(&ttl, "ttl", "", "Token lifetime (TOKEN_TTL)")
	fs.StringVar(&iss.Secret, "jwt-secret", "", "HMAC secret, prefer env (JWT_SECRET)")
	if err := fs.Parse(args); err != nil {
		return Issuer{}, err
	}

	iss.Secret = stringSetting(iss.Secret, "JWT_SECRET", "")
	if iss.Secret == "" {
		return Issuer{}, errors.New("JWT_SECRET required")
	}
	if iss.Subject == "" {
		return Issuer{}, errors.New("-sub is required")
	}
	iss.Role = domain.Role(role)
	if iss.Role != domain.RoleAdmin && iss.Role != domain.RoleVoter {
		return Issuer{}, fmt.Errorf("unknown role %q", role)
	}
	if iss.Role == domain.RoleVoter {
		if _, err := domain.ParseAddress(iss.Subject); err != nil {
			return Issuer{}, fmt.Errorf("voter subject: %w", err)
		}
	}

	var err error
	if iss.TTL, err = durationSetting(ttl, "TOKEN_TTL", 24*time.Hour); err != nil {
		return Issuer{}, err
	}
	return iss, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

func bindDatabase(fs *flag.FlagSet, db *DatabaseConfig) {
	fs.StringVar(&db.Host, "db-host", "", "Database host (POSTGRES_HOST)")
	fs.StringVar(&db.Port, "db-port", "", "Database port (POSTGRES_PORT)")
	fs.StringVar(&db.User, "db-user", "", "Database user (POSTGRES_USER)")
	fs.StringVar(&db.Password, "db-pass", "", "Database password (POSTGRES_PASSWORD)")
	fs.StringVar(&db.Name, "db-name", "", "Database name (POSTGRES_DB)")
}

func resolveDatabase(db *DatabaseConfig) {
	db.Host = stringSetting(db.Host, "POSTGRES_HOST", "localhost")
	db.Port = stringSetting(db.Port, "POSTGRES_PORT", "5432")
	db.User = stringSetting(db.User, "POSTGRES_USER", "")
	db.Password = stringSetting(db.Password, "POSTGRES_PASSWORD", "")
	db.Name = stringSetting(db.Name, "POSTGRES_DB", "")
}

func stringSetting(flagValue, env, def string) string {
	if flagValue != "" {
		return flagValue
	}
	if v := os.Getenv(env); v != "" {
		return v
	}
	return def
}

func intSetting(flagValue, env string, def int) (int, error) {
	s := stringSetting(flagValue, env, "")
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", env, s)
	}
	return n, nil
}

func durationSetting(flagValue, env string, def time.Duration) (time.Duration, error) {
	s := stringSetting(flagValue, env, "")
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", env, s)
	}
	return d, nil
}

func boolSetting(flagValue, env string, def bool) (bool, error) {
	s := stringSetting(flagValue, env, "")
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", env, s)
	}
	return b, nil
}
