package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mind-engage/mindengage-progress/internal/db"
)

const prefix = "LMS_"

type SinkKind string

const (
	SinkLog   SinkKind = "log"
	SinkSQL   SinkKind = "sql"
	SinkRedis SinkKind = "redis"
	SinkNone  SinkKind = "none"
)

type Config struct {
	DBDriver string // see db.ParseDriver
	DBDSN    string

	LogLevel  string // debug|info|warn|error
	LogFormat string // json|text

	EventSinks   []SinkKind
	RedisURL     string
	RedisChannel string

	BlobBasePath string // file-upload answer bodies
	RandomSeed   int64  // 0 = seed from the clock
	ContentPath  string // optional YAML catalog applied at startup
}

// FromEnv reads LMS_* variables. A .env file in the working directory is
// loaded first; variables already set in the environment win.
func FromEnv() Config {
	_ = godotenv.Load()

	return Config{
		DBDriver:     envOr("DB_DRIVER", "sqlite"),
		DBDSN:        envOr("DB_DSN", ""),
		LogLevel:     strings.ToLower(envOr("LOG_LEVEL", "info")),
		LogFormat:    strings.ToLower(envOr("LOG_FORMAT", "json")),
		EventSinks:   sinksOr("EVENT_SINKS", "log"),
		RedisURL:     envOr("REDIS_URL", ""),
		RedisChannel: envOr("REDIS_CHANNEL", "lms.progress"),
		BlobBasePath: envOr("BLOB_BASE_PATH", "./data/uploads"),
		RandomSeed:   envInt("RANDOM_SEED", 0),
		ContentPath:  envOr("CONTENT_PATH", ""),
	}
}

// Validate rejects settings the app cannot start with.
func (c Config) Validate() error {
	if _, err := db.ParseDriver(c.DBDriver); err != nil {
		return fmt.Errorf("config: %sDB_DRIVER: %w", prefix, err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown %sLOG_LEVEL %q", prefix, c.LogLevel)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("config: unknown %sLOG_FORMAT %q", prefix, c.LogFormat)
	}
	for _, s := range c.EventSinks {
		switch s {
		case SinkLog, SinkSQL, SinkNone:
		case SinkRedis:
			if c.RedisURL == "" {
				return fmt.Errorf("config: redis sink requires %sREDIS_URL", prefix)
			}
		default:
			return fmt.Errorf("config: unknown event sink %q", s)
		}
	}
	return nil
}

// HasSink reports whether kind is among the configured sinks. "none" turns
// every other sink off.
func (c Config) HasSink(kind SinkKind) bool {
	for _, s := range c.EventSinks {
		if s == kind {
			return true
		}
	}
	return false
}

func envOr(k, def string) string {
	v := os.Getenv(prefix + k)
	if v == "" {
		return def
	}
	return v
}

func envInt(k string, def int64) int64 {
	v := os.Getenv(prefix + k)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func sinksOr(k, def string) []SinkKind {
	parts := strings.Split(envOr(k, def), ",")
	out := make([]SinkKind, 0, len(parts))
	for _, p := range parts {
		if s := strings.ToLower(strings.TrimSpace(p)); s != "" {
			out = append(out, SinkKind(s))
		}
	}
	return out
}
