package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

type RelayConfig struct {
	Addr            string
	Store           string
	DatabaseURL     string
	SQLitePath      string
	RulesPath       string
	LogLevel        slog.Level
	DefaultRoom     string
	SendBuffer      int
	ShutdownTimeout time.Duration
	AllowAnyOrigin  bool
}

type ClientConfig struct {
	RelayURL  string
	RulesPath string
	Room      string
}

type BotConfig struct {
	RelayURL  string
	RulesPath string
	Room      string
	Name      string
	Seed      int64
	LogLevel  slog.Level
}

// LoadDotEnv loads the given env files (".env" when none are given) without
// overriding variables already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

func LoadRelayFromEnv() (RelayConfig, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("STOCKGAME_ADDR", ":8080")
	}

	cfg := RelayConfig{
		Addr:            addr,
		Store:           strings.ToLower(envDefault("STOCKGAME_STORE", StoreMemory)),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:      envDefault("STOCKGAME_SQLITE_PATH", "stockgame.db"),
		RulesPath:       strings.TrimSpace(os.Getenv("STOCKGAME_RULES")),
		LogLevel:        ParseLogLevel(os.Getenv("STOCKGAME_LOG_LEVEL")),
		DefaultRoom:     envDefault("STOCKGAME_DEFAULT_ROOM", "main"),
		SendBuffer:      envIntDefault("STOCKGAME_SEND_BUFFER", 64),
		ShutdownTimeout: envDurationDefault("STOCKGAME_SHUTDOWN_TIMEOUT", 10*time.Second),
		AllowAnyOrigin:  envBoolDefault("STOCKGAME_ALLOW_ANY_ORIGIN", true),
	}
	switch cfg.Store {
	case StoreMemory, StoreSQLite:
	case StorePostgres:
		if cfg.DatabaseURL == "" {
			return cfg, fmt.Errorf("DATABASE_URL is required when STOCKGAME_STORE=postgres")
		}
	default:
		return cfg, fmt.Errorf("unknown STOCKGAME_STORE %q", cfg.Store)
	}
	if cfg.SendBuffer < 1 {
		return cfg, fmt.Errorf("STOCKGAME_SEND_BUFFER must be >= 1")
	}
	return cfg, nil
}

func LoadClientFromEnv() ClientConfig {
	return ClientConfig{
		RelayURL:  strings.TrimRight(envDefault("STK_RELAY_URL", "http://localhost:8080"), "/"),
		RulesPath: strings.TrimSpace(os.Getenv("STOCKGAME_RULES")),
		Room:      envDefault("STK_ROOM", "main"),
	}
}

func LoadBotFromEnv() BotConfig {
	return BotConfig{
		RelayURL:  strings.TrimRight(envDefault("STK_RELAY_URL", "http://localhost:8080"), "/"),
		RulesPath: strings.TrimSpace(os.Getenv("STOCKGAME_RULES")),
		Room:      envDefault("STK_ROOM", "main"),
		Name:      envDefault("STOCKGAME_BOT_NAME", "clock-bot"),
		Seed:      envInt64Default("STOCKGAME_BOT_SEED", time.Now().UnixNano()),
		LogLevel:  ParseLogLevel(os.Getenv("STOCKGAME_LOG_LEVEL")),
	}
}

// ParseLogLevel maps debug/info/warn/error to a slog level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
