// Package config holds plain, infrastructure-agnostic configuration
// structs for the core: concurrency defaults, timeouts, and grace
// periods. It deliberately carries no secrets and does no env-var
// parsing — that is an application/bootstrap concern, not a library one.
package config

import (
	"fmt"
	"runtime"
	"time"
)

// FactoryConfig configures a Factory: the endpoint registry's default
// concurrency and the grace period given to every endpoint during
// Factory.Stop.
type FactoryConfig struct {
	// DefaultConcurrency is the worker count new stages use when they
	// don't set their own. It must be positive (Validate rejects zero);
	// DefaultFactoryConfig sets it to the number of CPUs visible to this
	// process.
	DefaultConcurrency int `json:"default_concurrency"`
	// StopGracePeriod is how long Factory.Stop waits for in-flight
	// messages to finish. Stage workers' context is canceled when Stop
	// begins; once the grace period elapses Stop returns, and workers
	// still running are not otherwise interrupted.
	StopGracePeriod time.Duration `json:"stop_grace_period"`
}

// DefaultFactoryConfig returns a FactoryConfig with DefaultConcurrency
// resolved to runtime.NumCPU() and a 10 second stop grace period.
func DefaultFactoryConfig() *FactoryConfig {
	return &FactoryConfig{
		DefaultConcurrency: runtime.NumCPU(),
		StopGracePeriod:    10 * time.Second,
	}
}

// Validate reports a configuration error if the config could not be used
// to run a Factory.
func (c *FactoryConfig) Validate() error {
	if c.DefaultConcurrency <= 0 {
		return fmt.Errorf("FactoryConfig.DefaultConcurrency must be positive, got %d", c.DefaultConcurrency)
	}
	if c.StopGracePeriod <= 0 {
		return fmt.Errorf("FactoryConfig.StopGracePeriod must be positive, got %s", c.StopGracePeriod)
	}
	return nil
}

// StageConfig configures one stage's worker pool.
type StageConfig struct {
	// Concurrency is the number of long-lived worker goroutines for this
	// stage. Zero means "inherit from the endpoint, then the factory".
	Concurrency int `json:"concurrency"`
	// ReceiveTimeout bounds each worker's blocking receive call, so a
	// stopped worker notices the stop signal promptly even with no
	// traffic.
	ReceiveTimeout time.Duration `json:"receive_timeout"`
	// StopGracePeriod is how long Stop waits for this stage's in-flight
	// scopes to finish after canceling the workers' context; workers still
	// running when it elapses are left to finish on their own.
	// Zero means "inherit from the endpoint, then the factory".
	StopGracePeriod time.Duration `json:"stop_grace_period"`
}

// DefaultStageConfig returns a StageConfig with a 1 second receive
// timeout and inherited concurrency/grace period (both zero, meaning
// "inherit").
func DefaultStageConfig() *StageConfig {
	return &StageConfig{
		Concurrency:     0,
		ReceiveTimeout:  time.Second,
		StopGracePeriod: 0,
	}
}

// Validate reports a configuration error. Concurrency == 0 and
// StopGracePeriod == 0 are valid here (they mean "inherit"); only
// negative values are rejected.
func (c *StageConfig) Validate() error {
	if c.Concurrency < 0 {
		return fmt.Errorf("StageConfig.Concurrency must not be negative, got %d", c.Concurrency)
	}
	if c.ReceiveTimeout <= 0 {
		return fmt.Errorf("StageConfig.ReceiveTimeout must be positive, got %s", c.ReceiveTimeout)
	}
	if c.StopGracePeriod < 0 {
		return fmt.Errorf("StageConfig.StopGracePeriod must not be negative, got %s", c.StopGracePeriod)
	}
	return nil
}

// DBConfig configures a matsdb.ConnectionSupplier's pool sizing. The
// library's own code never reads these except to hand them to the
// chosen supplier constructor; the fields exist so applications have one
// consistent place to keep them alongside FactoryConfig/StageConfig.
type DBConfig struct {
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DefaultDBConfig returns a DBConfig with conservative pool sizing.
func DefaultDBConfig() *DBConfig {
	return &DBConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Validate reports a configuration error.
func (c *DBConfig) Validate() error {
	if c.DSN == "" {
		return fmt.Errorf("DBConfig.DSN is required")
	}
	if c.MaxOpenConns <= 0 {
		return fmt.Errorf("DBConfig.MaxOpenConns must be positive, got %d", c.MaxOpenConns)
	}
	if c.MaxIdleConns < 0 || c.MaxIdleConns > c.MaxOpenConns {
		return fmt.Errorf("DBConfig.MaxIdleConns must be between 0 and MaxOpenConns, got %d", c.MaxIdleConns)
	}
	return nil
}
