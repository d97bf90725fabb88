// Package config loads the service settings from the environment and an
// optional YAML file.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/docker/protein-runner/pkg/inference"
	"github.com/docker/protein-runner/pkg/inference/models"
	"github.com/docker/protein-runner/pkg/inference/scheduling"
	"github.com/docker/protein-runner/pkg/middleware"
	"github.com/mattn/go-shellwords"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. PROTEIN_RUNNER_PORT.
const EnvPrefix = "PROTEIN_RUNNER"

// DefaultMemoryBudget is the budget used when none is configured. It is
// capped at half of host RAM.
const DefaultMemoryBudget = 4 * units.GiB

var errNegativeBudget = errors.New("memory budget must not be negative")

// Config holds the service settings.
type Config struct {
	// Port is the TCP port to listen on. When empty the service listens on
	// Socket instead.
	Port string `mapstructure:"port"`
	// Socket is the unix socket path.
	Socket string `mapstructure:"sock"`

	LogLevel string `mapstructure:"log_level"`
	// LogLines is how many log lines GET /logs can return.
	LogLines int `mapstructure:"log_lines"`

	// Catalog is a model catalog file. The built-in catalog is used when
	// empty.
	Catalog string `mapstructure:"catalog"`
	// MemoryBudget is a human readable size such as "4GB".
	MemoryBudget string `mapstructure:"memory_budget"`
	// Preload lists models to load at startup, shell-quoted.
	Preload string `mapstructure:"preload"`
	// DefaultModels overrides the model per capability, written as
	// "generation=protgpt2 structure=geneverse".
	DefaultModels string `mapstructure:"default_models"`

	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	LoadTimeout       time.Duration `mapstructure:"load_timeout"`
	InvocationTimeout time.Duration `mapstructure:"invocation_timeout"`

	BatchConcurrency int           `mapstructure:"batch_concurrency"`
	BatchItemTimeout time.Duration `mapstructure:"batch_item_timeout"`

	// Origins is a comma separated CORS allow list; "*" allows any.
	Origins        string `mapstructure:"origins"`
	DisableMetrics bool   `mapstructure:"disable_metrics"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "")
	v.SetDefault("sock", "protein-runner.sock")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_lines", 1000)
	v.SetDefault("catalog", "")
	v.SetDefault("memory_budget", "")
	v.SetDefault("preload", "")
	v.SetDefault("default_models", "")
	v.SetDefault("idle_timeout", models.DefaultIdleTimeout)
	v.SetDefault("load_timeout", models.DefaultLoadTimeout)
	v.SetDefault("invocation_timeout", scheduling.DefaultInvocationTimeout)
	v.SetDefault("batch_concurrency", scheduling.DefaultBatchConcurrency)
	v.SetDefault("batch_item_timeout", scheduling.DefaultItemTimeout)
	v.SetDefault("origins", "")
	v.SetDefault("disable_metrics", false)
}

// Load reads the settings. Environment variables override values from
// file, which may be empty.
func Load(file string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if _, err := c.Budget(); err != nil {
		return nil, err
	}
	if _, err := c.PreloadModels(); err != nil {
		return nil, err
	}
	if _, err := c.ModelDefaults(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Budget returns the configured memory budget in bytes, or zero when it
// should be derived from the host.
func (c *Config) Budget() (uint64, error) {
	if strings.TrimSpace(c.MemoryBudget) == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(c.MemoryBudget)
	if err != nil {
		return 0, fmt.Errorf("parsing memory budget %q: %w", c.MemoryBudget, err)
	}
	if n < 0 {
		return 0, errNegativeBudget
	}
	return uint64(n), nil
}

// PreloadModels returns the lowercased names of the models to preload.
func (c *Config) PreloadModels() ([]string, error) {
	words, err := shellwords.Parse(c.Preload)
	if err != nil {
		return nil, fmt.Errorf("parsing preload list: %w", err)
	}
	names := make([]string, 0, len(words))
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			names = append(names, w)
		}
	}
	return names, nil
}

// ModelDefaults parses DefaultModels.
func (c *Config) ModelDefaults() (map[inference.Capability]string, error) {
	words, err := shellwords.Parse(c.DefaultModels)
	if err != nil {
		return nil, fmt.Errorf("parsing default models: %w", err)
	}
	out := make(map[inference.Capability]string, len(words))
	for _, w := range words {
		capability, name, ok := strings.Cut(w, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("default model %q is not capability=name", w)
		}
		c := inference.Capability(strings.ToLower(capability))
		switch c {
		case inference.CapabilityGeneration, inference.CapabilityAnalysis,
			inference.CapabilityStructure, inference.CapabilityDesign:
		default:
			return nil, fmt.Errorf("unknown capability %q", capability)
		}
		out[c] = strings.ToLower(name)
	}
	return out, nil
}

// AllowedOrigins returns the CORS allow list.
func (c *Config) AllowedOrigins() []string {
	return middleware.ParseOrigins(c.Origins)
}
