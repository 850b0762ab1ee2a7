// Package config reads the watcher's settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	TransportWebSocket = "websocket"
	TransportRedis     = "redis"
)

type Config struct {
	APIBaseURL string
	AuthToken  string
	GroupID    string

	Transport string
	RedisURL  string

	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	ReconnectPause       time.Duration
	DialTimeout          time.Duration

	PageSize         int
	CacheTTL         time.Duration
	EventHistorySize int

	MetricsPort string
	Debug       bool
}

// Load reads .env files (missing ones are ignored) and then the process
// environment. Variables already set in the environment win over .env.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	var errs []error
	r := reader{errs: &errs}

	cfg := Config{
		APIBaseURL:           envString("API_BASE_URL", ""),
		AuthToken:            envString("AUTH_TOKEN", ""),
		GroupID:              envString("BOARD_GROUP_ID", ""),
		Transport:            strings.ToLower(envString("REALTIME_TRANSPORT", TransportWebSocket)),
		RedisURL:             envString("REDIS_URL", ""),
		ReconnectBaseDelay:   r.envDur("RECONNECT_BASE_DELAY", time.Second),
		ReconnectMaxDelay:    r.envDur("RECONNECT_MAX_DELAY", 30*time.Second),
		ReconnectMaxAttempts: r.envInt("RECONNECT_MAX_ATTEMPTS", 10),
		ReconnectPause:       r.envDur("RECONNECT_PAUSE", 500*time.Millisecond),
		DialTimeout:          r.envDur("DIAL_TIMEOUT", 10*time.Second),
		PageSize:             r.envInt("BOARD_PAGE_SIZE", 10),
		CacheTTL:             r.envDur("BOARD_CACHE_TTL", time.Minute),
		EventHistorySize:     r.envInt("EVENT_HISTORY_SIZE", 50),
		MetricsPort:          envString("METRICS_PORT", ""),
		Debug:                r.envBool("DEBUG"),
	}

	if cfg.APIBaseURL == "" {
		errs = append(errs, errors.New("API_BASE_URL is required"))
	}
	if cfg.GroupID == "" {
		errs = append(errs, errors.New("BOARD_GROUP_ID is required"))
	}
	switch cfg.Transport {
	case TransportWebSocket:
	case TransportRedis:
		if cfg.RedisURL == "" {
			errs = append(errs, errors.New("REALTIME_TRANSPORT=redis needs REDIS_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("REALTIME_TRANSPORT %q: want %s or %s", cfg.Transport, TransportWebSocket, TransportRedis))
	}
	if cfg.ReconnectMaxDelay < cfg.ReconnectBaseDelay {
		errs = append(errs, errors.New("RECONNECT_MAX_DELAY must not be below RECONNECT_BASE_DELAY"))
	}
	if cfg.MetricsPort != "" {
		if p, err := strconv.Atoi(cfg.MetricsPort); err != nil || p <= 0 || p > 65535 {
			errs = append(errs, fmt.Errorf("METRICS_PORT %q is not a port", cfg.MetricsPort))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// reader collects parse errors so Load reports every bad variable at once.
type reader struct {
	errs *[]error
}

func (r reader) envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		*r.errs = append(*r.errs, fmt.Errorf("%s=%q: want a positive integer", key, v))
		return def
	}
	return n
}

func (r reader) envDur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*r.errs = append(*r.errs, fmt.Errorf("%s=%q: want a positive duration", key, v))
		return def
	}
	return d
}

func (r reader) envBool(key string) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*r.errs = append(*r.errs, fmt.Errorf("%s=%q: want a boolean", key, v))
		return false
	}
	return b
}
