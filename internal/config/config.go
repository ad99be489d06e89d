package config

import (
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/copyleftdev/minimize/internal/optimization/adam"
	"github.com/copyleftdev/minimize/internal/optimization/lbfgs"
	"github.com/copyleftdev/minimize/internal/optimization/linesearch"
	"github.com/copyleftdev/minimize/internal/optimization/vecops"
)

type Config struct {
	Environment string `env:"ENV" envDefault:"development"`
	HTTP        struct {
		Port            int           `env:"HTTP_PORT" envDefault:"8080"`
		ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
		WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
		IdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
		ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"30s"`
		RequestTimeout  time.Duration `env:"HTTP_REQUEST_TIMEOUT" envDefault:"60s"`
	}
	Logging struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
		Output string `env:"LOG_OUTPUT" envDefault:"stderr"`
	}
	LBFGS struct {
		Memory          int     `env:"LBFGS_MEMORY" envDefault:"8"`
		Delta           float64 `env:"LBFGS_DELTA" envDefault:"1e-6"`
		Epsilon         float64 `env:"LBFGS_EPSILON" envDefault:"1e-6"`
		RelativeEpsilon bool    `env:"LBFGS_RELATIVE_EPSILON" envDefault:"true"`
		MaxIterations   int     `env:"LBFGS_MAX_ITER" envDefault:"0"`
	}
	LineSearch struct {
		InitialStep   float64 `env:"LINESEARCH_INITIAL_STEP" envDefault:"1.0"`
		ShrinkRate    float64 `env:"LINESEARCH_SHRINK_RATE" envDefault:"0.1"`
		GrowRate      float64 `env:"LINESEARCH_GROW_RATE" envDefault:"0.1"`
		Armijo        float64 `env:"LINESEARCH_ARMIJO" envDefault:"0.1"`
		Curvature     float64 `env:"LINESEARCH_CURVATURE" envDefault:"0.9"`
		MaxIterations int     `env:"LINESEARCH_MAX_ITER" envDefault:"100"`
	}
	Adam struct {
		Epsilon         float64 `env:"ADAM_EPSILON" envDefault:"1e-6"`
		RelativeEpsilon bool    `env:"ADAM_RELATIVE_EPSILON" envDefault:"true"`
		MaxIterations   int     `env:"ADAM_MAX_ITER" envDefault:"0"`
		Alpha           float64 `env:"ADAM_ALPHA" envDefault:"0.001"`
		Beta1           float64 `env:"ADAM_BETA1" envDefault:"0.9"`
		Beta2           float64 `env:"ADAM_BETA2" envDefault:"0.999"`
		E               float64 `env:"ADAM_E" envDefault:"1e-8"`
		BatchSize       int     `env:"ADAM_BATCH_SIZE" envDefault:"32"`
		Average         bool    `env:"ADAM_AVERAGE" envDefault:"true"`
		Seed            uint64  `env:"ADAM_SEED" envDefault:"1"`
	}
	Optimization struct {
		WorkerCount int           `env:"OPT_WORKER_COUNT" envDefault:"1"`
		JobTimeout  time.Duration `env:"OPT_JOB_TIMEOUT" envDefault:"5m"`
		// MaxIterCap bounds the iterations a job may request when the
		// configured default is unbounded.
		MaxIterCap int `env:"OPT_MAX_ITER_CAP" envDefault:"10000"`
	}
}

func Load() (*Config, error) {
	cfg := &Config{}

	// Parse environment variables
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Set default logging level based on environment
	if cfg.Environment == "development" && cfg.Logging.Level == "" {
		cfg.Logging.Level = "debug"
	}

	if err := cfg.LBFGSConfig().Validate(); err != nil {
		return nil, err
	}
	if err := cfg.AdamConfig().Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Vec returns the vector kernel settings for the configured worker count.
func (c *Config) Vec() vecops.Ops {
	if c.Optimization.WorkerCount < 2 {
		return vecops.Sequential
	}
	return vecops.Parallel(c.Optimization.WorkerCount)
}

// LineSearchConfig returns the line search constants.
func (c *Config) LineSearchConfig() linesearch.Config {
	return linesearch.Config{
		InitialStep:   c.LineSearch.InitialStep,
		ShrinkRate:    c.LineSearch.ShrinkRate,
		GrowRate:      c.LineSearch.GrowRate,
		Armijo:        c.LineSearch.Armijo,
		Curvature:     c.LineSearch.Curvature,
		MaxIterations: c.LineSearch.MaxIterations,
		Vec:           c.Vec(),
	}
}

// LBFGSConfig returns the default L-BFGS hyperparameters. Logger and
// Progress are left for the caller.
func (c *Config) LBFGSConfig() lbfgs.Config {
	return lbfgs.Config{
		Memory:          c.LBFGS.Memory,
		Delta:           c.LBFGS.Delta,
		Epsilon:         c.LBFGS.Epsilon,
		RelativeEpsilon: c.LBFGS.RelativeEpsilon,
		MaxIterations:   c.LBFGS.MaxIterations,
		LineSearch:      c.LineSearchConfig(),
		Vec:             c.Vec(),
	}
}

// AdamConfig returns the default SGD-Adam hyperparameters.
func (c *Config) AdamConfig() adam.Config {
	return adam.Config{
		Epsilon:         c.Adam.Epsilon,
		RelativeEpsilon: c.Adam.RelativeEpsilon,
		MaxIterations:   c.Adam.MaxIterations,
		Alpha:           c.Adam.Alpha,
		Beta1:           c.Adam.Beta1,
		Beta2:           c.Adam.Beta2,
		E:               c.Adam.E,
		BatchSize:       c.Adam.BatchSize,
		Average:         c.Adam.Average,
		Seed:            c.Adam.Seed,
		Vec:             c.Vec(),
	}
}
