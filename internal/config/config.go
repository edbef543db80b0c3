// Package config loads the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/dmitrymomot/ches/pkg/db"
	"github.com/dmitrymomot/ches/pkg/logger"
	"github.com/dmitrymomot/ches/pkg/mailer"
	"github.com/dmitrymomot/ches/pkg/mailer/postmark"
	"github.com/dmitrymomot/ches/pkg/mailer/resend"
	"github.com/dmitrymomot/ches/pkg/mailer/smtp"
)

// Config is the full service configuration.
type Config struct {
	HTTP      HTTP
	Log       Log
	Database  db.Config
	Redis     Redis
	Queue     Queue
	Retention Retention
	Mailer    mailer.Config
	Resend    resend.Config
	Postmark  postmark.Config
	SMTP      smtp.Config
	Sentry    logger.SentryConfig

	// Client recorded for dev-mode sends made without X-Client-ID.
	DevClientID string `env:"CHES_DEV_CLIENT_ID" envDefault:"ches-dev"`
}

// HTTP configures the API server.
type HTTP struct {
	Addr            string        `env:"HTTP_ADDR" envDefault:":3000"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes    int64         `env:"HTTP_MAX_BODY_BYTES" envDefault:"10485760"`
}

// Log configures structured logging.
type Log struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
}

// Redis is optional. Without a URL the dispatch lock is disabled and the
// owner cache lives in memory.
type Redis struct {
	URL       string        `env:"REDIS_URL"`
	KeyPrefix string        `env:"REDIS_KEY_PREFIX" envDefault:"ches:"`
	OwnerTTL  time.Duration `env:"REDIS_OWNER_TTL" envDefault:"1h"`
}

// Queue configures the job broker and dispatch workers.
type Queue struct {
	MaxWorkers      int           `env:"QUEUE_MAX_WORKERS" envDefault:"10"`
	MaxAttempts     int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase     time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"5s"`
	BackoffMax      time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"10m"`
	ConnectAttempts int           `env:"QUEUE_CONNECT_ATTEMPTS" envDefault:"5"`
	ConnectInterval time.Duration `env:"QUEUE_CONNECT_INTERVAL" envDefault:"1s"`
	LockTTL         time.Duration `env:"QUEUE_LOCK_TTL" envDefault:"5m"`
}

// Retention configures the content purge job.
type Retention struct {
	Age       time.Duration `env:"CONTENT_RETENTION_AGE" envDefault:"0"`
	Schedule  string        `env:"CONTENT_RETENTION_SCHEDULE" envDefault:"0 * * * *"`
	BatchSize int           `env:"CONTENT_RETENTION_BATCH" envDefault:"500"`
}

// Load reads the given .env files, if present, then parses the environment.
// Variables already set in the environment win over .env values.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Mailer.Transport {
	case mailer.TransportLog, mailer.TransportResend, mailer.TransportPostmark, mailer.TransportSMTP:
	default:
		return fmt.Errorf("config: unknown MAILER_TRANSPORT %q", c.Mailer.Transport)
	}
	if c.Queue.MaxAttempts < 1 {
		return errors.New("config: QUEUE_MAX_ATTEMPTS must be positive")
	}
	if c.Retention.Age < 0 {
		return errors.New("config: CONTENT_RETENTION_AGE must not be negative")
	}
	return nil
}
