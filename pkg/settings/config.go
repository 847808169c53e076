package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/caarlos0/env/v9"
)

// Config is the runtime configuration threaded through constructors.
// It is a value: copies never affect each other. Environment variables
// (TBKIT_*) override the settings file.
type Config struct {
	SSHUser        string        `env:"TBKIT_SSH_USER"`
	SSHKeyFile     string        `env:"TBKIT_SSH_KEY"`
	SSHPort        int           `env:"TBKIT_SSH_PORT"`
	SSHTimeout     time.Duration `env:"TBKIT_SSH_TIMEOUT"`
	Parallelism    int           `env:"TBKIT_PARALLELISM"`
	StateDir       string        `env:"TBKIT_STATE_DIR"`
	DefaultNetwork string        `env:"TBKIT_DEFAULT_NETWORK"`
	HTBDefaultRate string        `env:"TBKIT_HTB_DEFAULT_RATE"`
	TopologyRedis  string        `env:"TBKIT_TOPOLOGY_REDIS"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	stateDir := ".tbkit"
	if home, err := os.UserHomeDir(); err == nil {
		stateDir = filepath.Join(home, ".tbkit")
	}
	return Config{
		SSHUser:        "root",
		SSHPort:        22,
		SSHTimeout:     10 * time.Second,
		Parallelism:    16,
		StateDir:       stateDir,
		HTBDefaultRate: "10gbit",
	}
}

// Config overlays the non-empty settings onto the defaults.
func (s *Settings) Config() Config {
	c := Defaults()
	if s == nil {
		return c
	}
	if s.DefaultNetwork != "" {
		c.DefaultNetwork = s.DefaultNetwork
	}
	if s.SSHUser != "" {
		c.SSHUser = s.SSHUser
	}
	if s.SSHKeyFile != "" {
		c.SSHKeyFile = s.SSHKeyFile
	}
	if s.SSHPort != 0 {
		c.SSHPort = s.SSHPort
	}
	if s.Parallelism != 0 {
		c.Parallelism = s.Parallelism
	}
	if s.StateDir != "" {
		c.StateDir = s.StateDir
	}
	if s.HTBDefaultRate != "" {
		c.HTBDefaultRate = s.HTBDefaultRate
	}
	if s.TopologyRedis != "" {
		c.TopologyRedis = s.TopologyRedis
	}
	return c
}

// Resolve builds the effective configuration: defaults, then settings,
// then environment.
func Resolve(s *Settings) (Config, error) {
	c := s.Config()
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("settings: environment: %w", err)
	}
	if c.Parallelism < 1 {
		return Config{}, fmt.Errorf("settings: parallelism must be at least 1, got %d", c.Parallelism)
	}
	return c, nil
}

// With returns a copy of c modified by fn. c itself is left untouched.
func (c Config) With(fn func(*Config)) Config {
	fn(&c)
	return c
}

// Scope holds the configuration in effect for a stretch of work and lets
// callers override it temporarily:
//
//	restore := scope.Override(func(c *Config) { c.Parallelism = 1 })
//	defer restore()
type Scope struct {
	mu  sync.Mutex
	cur Config
}

// NewScope starts a scope at c.
func NewScope(c Config) *Scope {
	return &Scope{cur: c}
}

// Current returns the configuration in effect.
func (s *Scope) Current() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

// Override applies fn and returns a func restoring the previous value.
// Overrides nest; restore them in reverse order.
func (s *Scope) Override(fn func(*Config)) (restore func()) {
	s.mu.Lock()
	prev := s.cur
	s.cur = prev.With(fn)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.cur = prev
		s.mu.Unlock()
	}
}
