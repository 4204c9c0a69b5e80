package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Sessions SessionsConfig
	Redis    RedisConfig
	Sync     SyncConfig
	Notify   NotifyConfig
	Log      LogConfig
}

type ServerConfig struct {
	Address         string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	PostgresURL string
	AutoMigrate bool
}

// SessionsConfig controls where per-bot device stores live on disk.
type SessionsConfig struct {
	Dir string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type SyncConfig struct {
	Interval time.Duration
}

// NotifyConfig is disabled when URL is empty.
type NotifyConfig struct {
	URL     string
	Timeout time.Duration
}

type LogConfig struct {
	Level    string
	Format   string
	WhatsApp string
}

func LoadAll() (*Config, error) {
	var errs []error

	pgURL, err := requireEnv("POSTGRES_URL")
	if err != nil {
		errs = append(errs, err)
	}

	autoMigrate, err := getEnvBool("DB_AUTO_MIGRATE", false)
	if err != nil {
		errs = append(errs, err)
	}

	shutdownSecs, err := getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 15)
	if err != nil {
		errs = append(errs, err)
	}

	syncSecs, err := getEnvInt("SYNC_INTERVAL_SECONDS", 60)
	if err != nil {
		errs = append(errs, err)
	}

	notifySecs, err := getEnvInt("NOTIFY_TIMEOUT_SECONDS", 10)
	if err != nil {
		errs = append(errs, err)
	}

	redisCfg, redisErrs := loadRedisConfig()
	errs = append(errs, redisErrs...)

	cfg := &Config{
		Server: ServerConfig{
			Address:         getEnv("SERVER_ADDRESS", ":3001"),
			ShutdownTimeout: time.Duration(shutdownSecs) * time.Second,
		},
		Database: DatabaseConfig{
			PostgresURL: pgURL,
			AutoMigrate: autoMigrate,
		},
		Sessions: SessionsConfig{
			Dir: getEnv("SESSIONS_DIR", "./sessions"),
		},
		Redis: redisCfg,
		Sync: SyncConfig{
			Interval: time.Duration(syncSecs) * time.Second,
		},
		Notify: NotifyConfig{
			URL:     os.Getenv("NOTIFY_WEBHOOK_URL"),
			Timeout: time.Duration(notifySecs) * time.Second,
		},
		Log: LogConfig{
			Level:    strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format:   strings.ToLower(getEnv("LOG_FORMAT", "json")),
			WhatsApp: strings.ToUpper(getEnv("WA_LOG_LEVEL", "WARN")),
		},
	}

	if len(errs) == 0 {
		errs = append(errs, validate(cfg)...)
	}

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadRedisConfig() (RedisConfig, []error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	var errs []error
	db, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		errs = append(errs, err)
	}
	ttl, err := getEnvInt("REDIS_TTL_SECONDS", 86400)
	if err != nil {
		errs = append(errs, err)
	}

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errs
}

func validate(cfg *Config) []error {
	var errs []error
	if cfg.Sync.Interval <= 0 {
		errs = append(errs, errors.New("SYNC_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Notify.Timeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	if strings.TrimSpace(cfg.Sessions.Dir) == "" {
		errs = append(errs, errors.New("SESSIONS_DIR must not be blank"))
	}
	switch cfg.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.Log.Format))
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", cfg.Log.Level))
	}
	return errs
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid int for env %s: %s", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid bool for env %s: %s", key, v)
	}
	return b, nil
}

func joinErrors(errs []error) error {
	return errors.Join(errs...)
}
