package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/criyle/go-forkserver/kernel"
	"github.com/criyle/go-forkserver/pkg/rlimit"
	"github.com/criyle/go-forkserver/sandbox"
	"github.com/criyle/go-forkserver/types"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides
const EnvPrefix = "FORKSERVER"

// Config represents the application configuration
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Kernel  KernelConfig  `mapstructure:"kernel"`
	Spawner SpawnerConfig `mapstructure:"spawner"`
	Sandbox SandboxConfig `mapstructure:"sandbox"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Mode  string `mapstructure:"mode"`
	Level string `mapstructure:"level"`
}

// TimeoutsConfig holds the per function timeouts
type TimeoutsConfig struct {
	Validate      time.Duration `mapstructure:"validate"`
	MigrateParams time.Duration `mapstructure:"migrate_params"`
	Render        time.Duration `mapstructure:"render"`
	Fetch         time.Duration `mapstructure:"fetch"`
}

// KernelConfig holds the limits of a call
type KernelConfig struct {
	Timeouts       TimeoutsConfig `mapstructure:"timeouts"`
	OutputMaxBytes types.Size     `mapstructure:"output_max_bytes"`
	LogMaxBytes    types.Size     `mapstructure:"log_max_bytes"`
	ReapAttempts   int            `mapstructure:"reap_attempts"`
	ReapInterval   time.Duration  `mapstructure:"reap_interval"`
	// CgroupParent is the delegated cgroup v2 directory of cgroup calls
	CgroupParent string `mapstructure:"cgroup_parent"`
}

// SpawnerConfig holds helper configuration
type SpawnerConfig struct {
	// Executable is started as the helper, empty is the running binary
	Executable string   `mapstructure:"executable"`
	Preload    []string `mapstructure:"preload"`
	// Environment is the complete KEY=VALUE environment of module processes
	Environment []string `mapstructure:"environment"`
}

// SandboxConfig holds the base sandbox of every call
type SandboxConfig struct {
	ReadonlyRoot string         `mapstructure:"readonly_root"`
	Steps        []string       `mapstructure:"steps"`
	RLimits      rlimit.RLimits `mapstructure:"rlimits"`

	Cgroup sandbox.CgroupLimits `mapstructure:"cgroup"`
}

// MetricsConfig holds the metrics endpoint
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.mode", "production")
	v.SetDefault("logging.level", "info")

	v.SetDefault("kernel.timeouts.validate", kernel.DefaultTimeout)
	v.SetDefault("kernel.timeouts.migrate_params", kernel.DefaultTimeout)
	v.SetDefault("kernel.timeouts.render", kernel.DefaultTimeout)
	v.SetDefault("kernel.timeouts.fetch", kernel.DefaultTimeout)
	v.SetDefault("kernel.output_max_bytes", "2MiB")
	v.SetDefault("kernel.log_max_bytes", "100KiB")
	v.SetDefault("kernel.reap_attempts", kernel.DefaultReapAttempts)
	v.SetDefault("kernel.reap_interval", kernel.DefaultReapInterval)
	v.SetDefault("kernel.cgroup_parent", "")

	v.SetDefault("spawner.executable", "")
	v.SetDefault("spawner.preload", []string{"seccomp"})
	v.SetDefault("spawner.environment", []string{"PATH=/usr/local/bin:/usr/bin:/bin"})

	v.SetDefault("sandbox.readonly_root", "/")
	v.SetDefault("sandbox.steps", []string{"all"})
	v.SetDefault("sandbox.rlimits.cpu", 0)
	v.SetDefault("sandbox.rlimits.cpu_hard", 0)
	v.SetDefault("sandbox.rlimits.address_space", "0")
	v.SetDefault("sandbox.rlimits.file_size", "0")
	v.SetDefault("sandbox.rlimits.open_files", 0)
	v.SetDefault("sandbox.rlimits.disable_core", true)
	v.SetDefault("sandbox.cgroup.memory_max", "0")
	v.SetDefault("sandbox.cgroup.pids_max", 0)

	v.SetDefault("metrics.listen", "")
}

// New loads and validates the configuration. An empty path searches
// config.yaml in the working directory and ./config; a missing file there
// leaves the defaults.
func New(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&config, hook); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation error: %w", err)
	}
	return &config, nil
}

// validate ensures the configuration is valid
func (c *Config) validate() error {
	if c.Logging.Mode != "production" && c.Logging.Mode != "development" {
		return fmt.Errorf("invalid logging.mode: %s, must be 'production' or 'development'", c.Logging.Mode)
	}

	t := c.Kernel.Timeouts
	for name, d := range map[string]time.Duration{
		"validate":       t.Validate,
		"migrate_params": t.MigrateParams,
		"render":         t.Render,
		"fetch":          t.Fetch,
	} {
		if d <= 0 {
			return fmt.Errorf("kernel.timeouts.%s must be positive, got: %v", name, d)
		}
	}
	if c.Kernel.OutputMaxBytes == 0 {
		return fmt.Errorf("kernel.output_max_bytes must be positive")
	}
	if c.Kernel.ReapAttempts <= 0 {
		return fmt.Errorf("kernel.reap_attempts must be positive, got: %d", c.Kernel.ReapAttempts)
	}
	if c.Kernel.ReapInterval <= 0 {
		return fmt.Errorf("kernel.reap_interval must be positive, got: %v", c.Kernel.ReapInterval)
	}

	for _, e := range c.Spawner.Environment {
		if !strings.Contains(e, "=") {
			return fmt.Errorf("invalid spawner.environment entry %q, must be KEY=VALUE", e)
		}
	}

	steps, err := sandbox.ParseSteps(c.Sandbox.Steps)
	if err != nil {
		return fmt.Errorf("invalid sandbox.steps: %w", err)
	}
	if steps&sandbox.StepCgroup != 0 && c.Kernel.CgroupParent == "" {
		return fmt.Errorf("sandbox.steps has cgroup but kernel.cgroup_parent is empty")
	}
	if steps&sandbox.StepSeccomp != 0 && !contains(c.Spawner.Preload, "seccomp") {
		return fmt.Errorf("sandbox.steps has seccomp but spawner.preload does not")
	}
	sb := c.baseSandbox(steps)
	if err := sb.Validate(); err != nil {
		return err
	}
	if c.Spawner.Executable != "" {
		if _, err := os.Stat(c.Spawner.Executable); err != nil {
			return fmt.Errorf("spawner.executable: %w", err)
		}
	}
	return nil
}

func (c *Config) baseSandbox(steps sandbox.Steps) sandbox.Config {
	return sandbox.Config{
		Root:    c.Sandbox.ReadonlyRoot,
		Steps:   steps,
		RLimits: c.Sandbox.RLimits,
		Cgroup:  c.Sandbox.Cgroup,
	}
}

func contains(s []string, v string) bool {
	for _, e := range s {
		if e == v {
			return true
		}
	}
	return false
}

// KernelOptions converts the configuration to a kernel configuration
func (c *Config) KernelOptions() kernel.Config {
	// validated in New
	steps, _ := sandbox.ParseSteps(c.Sandbox.Steps)
	return kernel.Config{
		Timeouts: kernel.Timeouts{
			Validate:      c.Kernel.Timeouts.Validate,
			MigrateParams: c.Kernel.Timeouts.MigrateParams,
			Render:        c.Kernel.Timeouts.Render,
			Fetch:         c.Kernel.Timeouts.Fetch,
		},
		OutputMaxBytes: int(c.Kernel.OutputMaxBytes),
		LogMaxBytes:    int(c.Kernel.LogMaxBytes),
		ReapAttempts:   c.Kernel.ReapAttempts,
		ReapInterval:   c.Kernel.ReapInterval,
		CgroupParent:   c.Kernel.CgroupParent,
		Sandbox:        c.baseSandbox(steps),
		ExecFile:       c.Spawner.Executable,
		Env:            c.Spawner.Environment,
		Preload:        c.Spawner.Preload,
	}
}
