// Package config reads server settings from the environment, loading a
// .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

type Config struct {
	Addr            string
	DatabaseURL     string
	ContentSeedFile string
	TagCategory     string

	RoundTimeout    time.Duration
	RevealDuration  time.Duration
	RoundRetryDelay time.Duration
	ContentTimeout  time.Duration
	OpTimeout       time.Duration
	SweepInterval   time.Duration

	LogLevel string
	LogDev   bool
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup. Every invalid value is reported.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}
	cfg := Config{
		Addr:            r.str("ADDR", ":8080"),
		DatabaseURL:     r.str("DATABASE_URL", ""),
		ContentSeedFile: r.str("CONTENT_SEED_FILE", ""),
		TagCategory:     r.str("TAG_CATEGORY", "genre"),
		RoundTimeout:    r.duration("ROUND_TIMEOUT", 45*time.Second),
		RevealDuration:  r.duration("REVEAL_DURATION", 5*time.Second),
		RoundRetryDelay: r.duration("ROUND_RETRY_DELAY", 5*time.Second),
		ContentTimeout:  r.duration("CONTENT_TIMEOUT", 3*time.Second),
		OpTimeout:       r.duration("OP_TIMEOUT", 2*time.Second),
		SweepInterval:   r.duration("SWEEP_INTERVAL", 10*time.Minute),
		LogLevel:        r.str("LOG_LEVEL", "info"),
		LogDev:          r.boolean("LOG_DEV", false),
	}
	if cfg.DatabaseURL == "" && cfg.ContentSeedFile == "" {
		r.err = multierr.Append(r.err, errors.New("one of DATABASE_URL or CONTENT_SEED_FILE is required"))
	}
	if cfg.TagCategory == "" {
		r.err = multierr.Append(r.err, errors.New("TAG_CATEGORY must not be empty"))
	}
	if r.err != nil {
		return Config{}, r.err
	}
	return cfg, nil
}

type reader struct {
	lookup func(string) (string, bool)
	err    error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok {
		return v
	}
	return def
}

// duration requires a positive value, except REVEAL_DURATION which may be 0.
func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	switch {
	case err != nil:
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return def
	case d < 0, d == 0 && key != "REVEAL_DURATION":
		r.err = multierr.Append(r.err, fmt.Errorf("%s: must be positive, got %s", key, v))
		return def
	}
	return d
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.err = multierr.Append(r.err, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
