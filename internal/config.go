package internal

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	LogLevel string `env:"LOG_LEVEL,default=INFO"`
	Host     string `env:"HOST,default=0.0.0.0"`

	TCPPort  int `env:"TCP_PORT,default=9999" validate:"min=1,max=65535"`
	WSPort   int `env:"WS_PORT,default=9998" validate:"min=1,max=65535"`
	HTTPPort int `env:"HTTP_PORT,default=9997" validate:"min=1,max=65535"`

	BadgerFilepath string `env:"BADGER_FILEPATH,required=true" validate:"required"`
	LogDir         string `env:"LOG_DIR,default=chat_logs" validate:"required"`

	CompactionInterval time.Duration `env:"COMPACTION_INTERVAL,default=3h" validate:"gt=0"`
	SweepInterval      time.Duration `env:"SWEEP_INTERVAL,default=1m" validate:"gt=0"`
	SessionTimeout     time.Duration `env:"SESSION_TIMEOUT,default=5m" validate:"gt=0"`
	HandshakeTimeout   time.Duration `env:"HANDSHAKE_TIMEOUT,default=30s" validate:"gt=0"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT,default=10s" validate:"gt=0"`
	RestartInterval    time.Duration `env:"RESTART_INTERVAL,default=200ms" validate:"gt=0"`

	OutboundQueueSize int `env:"OUTBOUND_QUEUE_SIZE,default=64" validate:"min=1"`
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return Config{}, fmt.Errorf("config error: %w", err)
	}
	if err := validator.New().Struct(config); err != nil {
		return Config{}, fmt.Errorf("config validation: %w", err)
	}
	return config, nil
}
