package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	runtimeProcess = "process"
	runtimeDocker  = "docker"
)

// config holds the worker configuration.
type config struct {
	Development bool          `env:"COMPILE_WORKER_DEVELOPMENT"`
	LogLevel    slog.Level    `env:"COMPILE_WORKER_LOG_LEVEL"`    // default: info
	Runtime     string        `env:"COMPILE_WORKER_RUNTIME"`      // default: "process"
	LatexmkPath string        `env:"COMPILE_WORKER_LATEXMK_PATH"` // default: "latexmk"
	KillGrace   time.Duration `env:"COMPILE_WORKER_KILL_GRACE"`   // default: 2s
	DockerImage string        `env:"COMPILE_WORKER_DOCKER_IMAGE"` // required if Runtime is "docker"
}

func (c *config) runtime() string {
	r := c.Runtime
	if r == "" {
		r = runtimeProcess
	}
	return r
}

func (c *config) latexmkPath() string {
	p := c.LatexmkPath
	if p == "" {
		p = "latexmk"
	}
	return p
}

func (c *config) killGrace() time.Duration {
	g := c.KillGrace
	if g == 0 {
		g = 2 * time.Second
	}
	return g
}

// parseConfig parses the worker configuration from the environment variables.
func parseConfig(environ []string) (*config, error) {
	var cfg config

	err := env.ParseWithOptions(&cfg, env.Options{
		Environment: env.ToMap(environ),
	})
	if err != nil {
		return nil, err
	}

	switch cfg.runtime() {
	case runtimeProcess:
	case runtimeDocker:
		if cfg.DockerImage == "" {
			return nil, errors.New("missing COMPILE_WORKER_DOCKER_IMAGE for docker runtime")
		}
	default:
		return nil, fmt.Errorf("unknown runtime %q", cfg.Runtime)
	}
	if cfg.KillGrace < 0 {
		return nil, fmt.Errorf("negative kill grace %s", cfg.KillGrace)
	}

	return &cfg, nil
}
