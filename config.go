// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wsserial holds the process configuration of the WebSocket to
// serial bridge.
package wsserial

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is the prefix of every environment variable the bridge reads.
const EnvPrefix = "WSSERIAL_"

// Config holds the process settings. Endpoints come from the YAML file named
// by EndpointsFile; Host and Port, when set, override its bind address.
type Config struct {
	Host          string `env:"HOST"`
	Port          string `env:"PORT"`
	EndpointsFile string `env:"ENDPOINTS_FILE"`

	// Observability; an empty MetricsPort keeps the listener off.
	MetricsPort string `env:"METRICS_PORT"`
	LogLevel    string `env:"LOG_LEVEL"    envDefault:"info"`
	LogFormat   string `env:"LOG_FORMAT"   envDefault:"json"`

	// Timeouts
	ShutdownTimeout    time.Duration `env:"SHUTDOWN_TIMEOUT"     envDefault:"30s"`
	SerialPollInterval time.Duration `env:"SERIAL_POLL_INTERVAL" envDefault:"100ms"`
	WriteTimeout       time.Duration `env:"WRITE_TIMEOUT"        envDefault:"10s"`

	ReadBufferSize int `env:"READ_BUFFER_SIZE" envDefault:"1024"`

	// Rate Limiting; a RateLimit of 0 disables it.
	RateLimit float64 `env:"RATE_LIMIT" envDefault:"0"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`
}

// NewConfig parses Config from the environment.
func NewConfig(opts env.Options) (Config, error) {
	cfg := Config{}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch {
	case c.ReadBufferSize <= 0:
		return fmt.Errorf("READ_BUFFER_SIZE must be positive, got %d", c.ReadBufferSize)
	case c.SerialPollInterval <= 0:
		return fmt.Errorf("SERIAL_POLL_INTERVAL must be positive, got %s", c.SerialPollInterval)
	case c.WriteTimeout <= 0:
		return fmt.Errorf("WRITE_TIMEOUT must be positive, got %s", c.WriteTimeout)
	case c.RateLimit < 0:
		return fmt.Errorf("RATE_LIMIT must not be negative, got %g", c.RateLimit)
	}
	return nil
}
