package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Host     string `env:"TABLE_HOST" envDefault:"127.0.0.1"`
	Port     int    `env:"TABLE_PORT" envDefault:"8888"`
	HTTPAddr string `env:"TABLE_HTTP_ADDR" envDefault:"127.0.0.1:8080"`

	Seats          int   `env:"TABLE_SEATS" envDefault:"6"`
	BuyIn          int64 `env:"TABLE_BUY_IN" envDefault:"100"`
	ReadyThreshold int   `env:"TABLE_READY_THRESHOLD" envDefault:"2"`

	ReadIdleTimeout time.Duration `env:"TABLE_READ_IDLE_TIMEOUT" envDefault:"5m"`
	WriteTimeout    time.Duration `env:"TABLE_WRITE_TIMEOUT" envDefault:"3s"`
	OutboxSize      int           `env:"TABLE_OUTBOX_SIZE" envDefault:"8"`

	// WSOrigins are extra origin patterns allowed to open /ws.
	WSOrigins []string `env:"TABLE_WS_ORIGINS" envSeparator:","`

	LogLevel string `env:"TABLE_LOG_LEVEL" envDefault:"info"`
	Dev      bool   `env:"TABLE_DEV" envDefault:"false"`

	// DatabaseURL enables the Postgres action log when set.
	DatabaseURL string `env:"DATABASE_URL"`
}

// Load reads the given .env files (missing ones are skipped) and then the
// environment. Variables already set in the environment win.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return fmt.Errorf("TABLE_PORT %d out of range", c.Port)
	case c.Seats < 2:
		return fmt.Errorf("TABLE_SEATS must be at least 2, got %d", c.Seats)
	case c.BuyIn <= 0:
		return fmt.Errorf("TABLE_BUY_IN must be positive, got %d", c.BuyIn)
	case c.ReadyThreshold < 1 || c.ReadyThreshold > c.Seats:
		return fmt.Errorf("TABLE_READY_THRESHOLD must be in [1,%d], got %d", c.Seats, c.ReadyThreshold)
	case c.OutboxSize <= 0:
		return fmt.Errorf("TABLE_OUTBOX_SIZE must be positive, got %d", c.OutboxSize)
	case c.ReadIdleTimeout < 0 || c.WriteTimeout < 0:
		return errors.New("timeouts must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("TABLE_LOG_LEVEL: %w", err)
	}
	return nil
}

// Addr is the TCP listen address for table clients.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
