// Package config loads the daemon configuration from defaults, an
// optional YAML file and VALGOV_* environment variables, in that order.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/valgov/program"
	"github.com/blockberries/valgov/store"
	"github.com/blockberries/valgov/types"
)

type ctxKey string

const configContextKey ctxKey = "valgov.config"

// EnvPrefix prefixes every environment variable the config reads.
const EnvPrefix = "VALGOV"

const DefaultShutdownTimeout = "30s"

// WithContext returns a copy of ctx carrying cfg.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configContextKey, cfg)
}

// FromContext returns the config stored by WithContext, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, ok := ctx.Value(configContextKey).(*Config)
	if !ok {
		return nil
	}
	return cfg
}

type Config struct {
	ListenAddr          string `yaml:"listenAddr"          split_words:"true"`
	MetricsAddr         string `yaml:"metricsAddr"         split_words:"true"`
	DataDir             string `yaml:"dataDir"             split_words:"true"`
	StoreBackend        string `yaml:"storeBackend"        split_words:"true"`
	ProgramID           string `yaml:"programId"           envconfig:"PROGRAM_ID"`
	GovernanceProgramID string `yaml:"governanceProgramId" envconfig:"GOVERNANCE_PROGRAM_ID"`
	// Empty keeps votes in an in-process recorder.
	GovernanceAddr  string `yaml:"governanceAddr"  split_words:"true"`
	ShutdownTimeout string `yaml:"shutdownTimeout" split_words:"true"`
	Debug           bool   `yaml:"debug"`
}

// Default returns the built-in configuration.
func Default() *Config {
	def := program.DefaultConfig()
	return &Config{
		ListenAddr:          "127.0.0.1:26658",
		MetricsAddr:         "127.0.0.1:26660",
		DataDir:             ".valgov",
		StoreBackend:        store.BackendLevelDB,
		ProgramID:           def.ProgramID.String(),
		GovernanceProgramID: def.GovernanceProgramID.String(),
		ShutdownTimeout:     DefaultShutdownTimeout,
	}
}

// Load builds a Config. When configFile is empty the per-user and then
// the system-wide file are tried; a missing file there is not an
// error.
func Load(configFile string) (*Config, error) {
	cfg := Default()

	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		buf, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		if err := yaml.Unmarshal(buf, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("error processing environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func findConfigFile() string {
	if homeDir, err := os.UserHomeDir(); err == nil {
		userPath := filepath.Join(homeDir, ".valgov", "valgov.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	systemPath := "/etc/valgov/valgov.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return ""
}

// Validate checks field formats.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case store.BackendMemory, store.BackendLevelDB, store.BackendBadger:
	default:
		errs = append(errs, fmt.Errorf("unknown store backend %q", c.StoreBackend))
	}
	if _, err := c.ProgramConfig(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.ShutdownTimeoutDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listenAddr is required"))
	}
	return errors.Join(errs...)
}

// ProgramConfig parses the program ids.
func (c *Config) ProgramConfig() (program.Config, error) {
	id, err := types.ParsePubkey(c.ProgramID)
	if err != nil {
		return program.Config{}, fmt.Errorf("programId: %w", err)
	}
	gov, err := types.ParsePubkey(c.GovernanceProgramID)
	if err != nil {
		return program.Config{}, fmt.Errorf("governanceProgramId: %w", err)
	}
	if id == gov {
		return program.Config{}, errors.New("programId and governanceProgramId must differ")
	}
	return program.Config{ProgramID: id, GovernanceProgramID: gov}, nil
}

// ShutdownTimeoutDuration parses ShutdownTimeout.
func (c *Config) ShutdownTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil {
		return 0, fmt.Errorf("shutdownTimeout: %w", err)
	}
	return d, nil
}
