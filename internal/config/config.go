package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"gridclash/internal/presence"
)

// Config holds the application's configuration values.
type Config struct {
	Addr        string // HTTP listen address
	DatabaseDSN string // SQLite DSN; empty keeps sessions in memory

	LogLevel  string // debug, info, warn, error
	LogFormat string // json or console

	HeartbeatInterval time.Duration // expected client heartbeat period
	PresenceTimeout   time.Duration // silence after which a player goes offline
	InviteTTL         time.Duration // unanswered invitations are withdrawn after this; 0 disables

	AllowedOrigins []string // browser origins for websocket and CORS; empty allows any
	SendBuffer     int      // events queued per connection before drops
}

// Lookup reads one environment variable.
type Lookup func(key string) (string, bool)

// Load reads a .env file when present and builds the configuration from the
// environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds the configuration from lookup, applying defaults for unset keys.
func FromEnv(lookup Lookup) (Config, error) {
	e := env{lookup: lookup}
	cfg := Config{
		Addr:              e.str("ADDR", ":8080"),
		DatabaseDSN:       e.str("DATABASE_DSN", ""),
		LogLevel:          e.str("LOG_LEVEL", "info"),
		LogFormat:         e.str("LOG_FORMAT", "json"),
		HeartbeatInterval: e.duration("HEARTBEAT_INTERVAL", 10*time.Second),
		PresenceTimeout:   e.duration("PRESENCE_TIMEOUT", 30*time.Second),
		InviteTTL:         e.duration("INVITE_TTL", 2*time.Minute),
		AllowedOrigins:    e.list("ALLOWED_ORIGINS"),
		SendBuffer:        e.integer("SEND_BUFFER", 64),
	}
	if len(e.errs) > 0 {
		return Config{}, errors.Join(e.errs...)
	}
	return cfg, cfg.Validate()
}

// Presence returns the presence tracker settings.
func (c Config) Presence() presence.Config {
	return presence.Config{HeartbeatInterval: c.HeartbeatInterval, Timeout: c.PresenceTimeout}
}

// Validate checks the values FromEnv cannot check one by one.
func (c Config) Validate() error {
	var errs []error
	if c.Addr == "" {
		errs = append(errs, errors.New("ADDR must not be empty"))
	}
	if err := c.Presence().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.InviteTTL < 0 {
		errs = append(errs, errors.New("INVITE_TTL must not be negative"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("SEND_BUFFER must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}
	if c.LogFormat != "json" && c.LogFormat != "console" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the configuration.
func (c Config) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.LogFormat == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

type env struct {
	lookup Lookup
	errs   []error
}

func (e *env) str(key, def string) string {
	if v, ok := e.lookup(key); ok && v != "" {
		return v
	}
	return def
}

func (e *env) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("environment variable %s must be an integer: %w", key, err))
		return def
	}
	return n
}

// duration accepts Go durations ("15s") and bare integers as seconds.
func (e *env) duration(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("environment variable %s must be a duration: %w", key, err))
		return def
	}
	return d
}

func (e *env) list(key string) []string {
	v, ok := e.lookup(key)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
