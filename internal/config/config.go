package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
)

// Config is populated from the environment. With an empty PostgresDSN the
// service runs on the in-memory store.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" default:"stockroom"`
	Env         string `envconfig:"ENV" default:"dev"`

	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`

	PostgresDSN   string `envconfig:"POSTGRES_DSN"`
	MigrationsDir string `envconfig:"MIGRATIONS_DIR" default:"migrations"`

	LockWait          time.Duration `envconfig:"LOCK_WAIT" default:"3s"`
	LowStockThreshold int           `envconfig:"LOW_STOCK_THRESHOLD" default:"5"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, errors.Wrap(err, "process environment")
	}
	return &cfg, nil
}
