// Package config provides unified configuration loading for the
// CrowdLeaf simulator. It supports loading from YAML files and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/crowdleaf-simulator/internal/sim"
)

// EnvConfigPath names the environment variable consulted by Load when
// no explicit path is given.
const EnvConfigPath = "CROWDLEAF_CONFIG"

// Config contains all simulator configuration settings.
type Config struct {
	// Simulation holds the kernel parameters.
	Simulation SimulationConfig `json:"simulation" yaml:"simulation"`

	// Logging controls the operational logger.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Store configures the run-history database.
	Store StoreConfig `json:"store" yaml:"store"`

	// Server configures crowdleaf-server.
	Server ServerConfig `json:"server" yaml:"server"`

	// Tracing configures OpenTelemetry export.
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// SimulationConfig mirrors sim.Config with file-friendly names.
type SimulationConfig struct {
	NumAgents          int     `json:"num_agents" yaml:"num_agents"`
	UseAdaptiveRouting bool    `json:"use_adaptive_routing" yaml:"use_adaptive_routing"`
	DurationSeconds    float64 `json:"duration_seconds" yaml:"duration_seconds"`
	TickSizeSeconds    float64 `json:"tick_size_seconds" yaml:"tick_size_seconds"`
	SafeDensity        float64 `json:"safe_density" yaml:"safe_density"`
	CriticalDensity    float64 `json:"critical_density" yaml:"critical_density"`
	RecoveryTime       float64 `json:"recovery_time_seconds" yaml:"recovery_time_seconds"`

	// Seed feeds the engine random source. Zero keeps runs reproducible
	// with seed 0; the CLI can override it per run.
	Seed int64 `json:"seed" yaml:"seed"`
}

// LoggingConfig configures the operational logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`
	// Format is "text" or "json".
	Format string `json:"format" yaml:"format"`
}

// StoreConfig configures the SQLite run history.
type StoreConfig struct {
	// Path of the database file. Empty disables persistence.
	Path string `json:"path" yaml:"path"`
}

// ServerConfig configures the long-running comparison server.
type ServerConfig struct {
	GRPCAddr    string `json:"grpc_addr" yaml:"grpc_addr"`
	MetricsAddr string `json:"metrics_addr" yaml:"metrics_addr"`

	// RealTime paces ticks on the wall clock; otherwise the comparison
	// runs as fast as possible.
	RealTime bool `json:"realtime" yaml:"realtime"`

	// TickInterval is the wall-clock time between lockstep ticks when
	// RealTime is set.
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Exporter    string  `json:"exporter" yaml:"exporter"`
	Endpoint    string  `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	SampleRatio float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	d := sim.DefaultConfig()
	return &Config{
		Simulation: SimulationConfig{
			NumAgents:          d.NumAgents,
			UseAdaptiveRouting: d.Adaptive,
			DurationSeconds:    d.Duration,
			TickSizeSeconds:    d.Dt,
			SafeDensity:        d.SafeDensity,
			CriticalDensity:    d.CriticalDensity,
			RecoveryTime:       d.RecoveryTime,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			GRPCAddr:     ":50061",
			MetricsAddr:  ":9091",
			RealTime:     true,
			TickInterval: 100 * time.Millisecond,
		},
		Tracing: TracingConfig{
			Exporter:    "stdout",
			SampleRatio: 1.0,
		},
	}
}

// Load loads configuration from path (or $CROWDLEAF_CONFIG when path is
// empty) and then applies environment variable overrides.
// Order: defaults -> config file -> environment variables
func Load(path string) (*Config, error) {
	config := Default()

	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	if path != "" {
		fileConfig, err := LoadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
		config = fileConfig
	}

	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	config.Store.Path = expandEnvVars(config.Store.Path)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []error
	s := c.Simulation
	if s.NumAgents < 0 {
		errs = append(errs, fmt.Errorf("num_agents must be non-negative, got %d", s.NumAgents))
	}
	if s.DurationSeconds < 0 {
		errs = append(errs, fmt.Errorf("duration_seconds must be non-negative, got %v", s.DurationSeconds))
	}
	if s.TickSizeSeconds < 0 {
		errs = append(errs, fmt.Errorf("tick_size_seconds must be non-negative, got %v", s.TickSizeSeconds))
	}
	if s.RecoveryTime < 0 {
		errs = append(errs, fmt.Errorf("recovery_time_seconds must be non-negative, got %v", s.RecoveryTime))
	}
	if s.SafeDensity > 0 && s.CriticalDensity > 0 && s.SafeDensity > s.CriticalDensity {
		errs = append(errs, fmt.Errorf("safe_density %v exceeds critical_density %v", s.SafeDensity, s.CriticalDensity))
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		errs = append(errs, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level))
	}
	validFormats := map[string]bool{"": true, "text": true, "json": true}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		errs = append(errs, fmt.Errorf("invalid log format: %s (valid: text, json)", c.Logging.Format))
	}

	if c.Server.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("tick_interval must be non-negative, got %v", c.Server.TickInterval))
	}

	validExporters := map[string]bool{"": true, "stdout": true, "otlp": true}
	if !validExporters[strings.ToLower(c.Tracing.Exporter)] {
		errs = append(errs, fmt.Errorf("invalid tracing exporter: %s (valid: stdout, otlp)", c.Tracing.Exporter))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("sample_ratio must be between 0 and 1, got %v", c.Tracing.SampleRatio))
	}

	return errors.Join(errs...)
}

// SimConfig converts the simulation section into kernel parameters.
// Non-positive values fall back to kernel defaults.
func (c *Config) SimConfig() sim.Config {
	s := c.Simulation
	return sim.Config{
		NumAgents:       s.NumAgents,
		Adaptive:        s.UseAdaptiveRouting,
		Duration:        s.DurationSeconds,
		Dt:              s.TickSizeSeconds,
		SafeDensity:     s.SafeDensity,
		CriticalDensity: s.CriticalDensity,
		RecoveryTime:    s.RecoveryTime,
	}.Normalize()
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("CROWDLEAF_NUM_AGENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Simulation.NumAgents = n
		}
	}
	if v := os.Getenv("CROWDLEAF_ADAPTIVE"); v != "" {
		config.Simulation.UseAdaptiveRouting = v == "true" || v == "1"
	}
	if v := os.Getenv("CROWDLEAF_DURATION"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.DurationSeconds = f
		}
	}
	if v := os.Getenv("CROWDLEAF_TICK_SIZE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.Simulation.TickSizeSeconds = f
		}
	}
	if v := os.Getenv("CROWDLEAF_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			config.Simulation.Seed = n
		}
	}

	if v := os.Getenv("CROWDLEAF_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("CROWDLEAF_LOG_FORMAT"); v != "" {
		config.Logging.Format = v
	}

	if v := os.Getenv("CROWDLEAF_STORE_PATH"); v != "" {
		config.Store.Path = v
	}

	if v := os.Getenv("CROWDLEAF_GRPC_ADDR"); v != "" {
		config.Server.GRPCAddr = v
	}
	if v := os.Getenv("CROWDLEAF_METRICS_ADDR"); v != "" {
		config.Server.MetricsAddr = v
	}
	if v := os.Getenv("CROWDLEAF_TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.Server.TickInterval = d
		}
	}

	if v := os.Getenv("CROWDLEAF_TRACING_ENABLED"); v != "" {
		config.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("CROWDLEAF_TRACING_EXPORTER"); v != "" {
		config.Tracing.Exporter = v
	}
	if v := os.Getenv("CROWDLEAF_TRACING_ENDPOINT"); v != "" {
		config.Tracing.Endpoint = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
