// Package config holds the emulator's run configuration: defaults, YAML
// file loading and environment overrides.
package config

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"rvjit/pkg/hart"
	"rvjit/pkg/ram"
)

// Environment variables that override file values.
const (
	EnvMode     = "RVJIT_MODE"
	EnvPolicy   = "RVJIT_POLICY"
	EnvLogLevel = "RVJIT_LOG_LEVEL"
)

// Config represents the configuration loaded from the YAML file
type Config struct {
	Mode         string `yaml:"mode"`          // simple or bb
	Policy       string `yaml:"policy"`        // interpret, eager or after
	HotThreshold uint64 `yaml:"hot_threshold"` // visits before "after" compiles
	Inline       bool   `yaml:"inline"`
	VerifyCode   bool   `yaml:"verify_code"`

	MemoryBase      uint64 `yaml:"memory_base"`
	MemorySize      uint64 `yaml:"memory_size"`
	StackSize       uint64 `yaml:"stack_size"`
	MaxInstructions uint64 `yaml:"max_instructions"` // 0 = unlimited

	ProfilePath string `yaml:"profile_path"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
	TraceFile   string `yaml:"trace_file"`
}

// Default returns the configuration used when nothing else is given. The
// mode is spelled out here rather than left to the hart.
func Default() Config {
	return Config{
		Mode:         "bb",
		Policy:       "eager",
		HotThreshold: 16,
		MemoryBase:   ram.DefaultBase,
		MemorySize:   ram.DefaultSize,
		StackSize:    1 << 20,
		LogLevel:     "info",
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	return cfg, nil
}

// ApplyEnv applies RVJIT_MODE, RVJIT_POLICY and RVJIT_LOG_LEVEL if set.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvMode); v != "" {
		c.Mode = v
	}
	if v := os.Getenv(EnvPolicy); v != "" {
		c.Policy = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
}

func (c Config) Validate() error {
	if _, err := c.HartMode(); err != nil {
		return err
	}
	if _, err := c.HartPolicy(); err != nil {
		return err
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	if c.MemorySize == 0 || c.MemorySize%ram.PageSize != 0 || c.MemorySize > ram.MaxSize {
		return errors.Newf("memory_size %d must be a non-zero multiple of %d up to %d", c.MemorySize, ram.PageSize, uint64(ram.MaxSize))
	}
	if c.StackSize >= c.MemorySize {
		return errors.Newf("stack_size %d does not fit in memory_size %d", c.StackSize, c.MemorySize)
	}
	return nil
}

func (c Config) HartMode() (hart.Mode, error) {
	return hart.ParseMode(c.Mode)
}

func (c Config) HartPolicy() (hart.Policy, error) {
	return hart.ParsePolicy(c.Policy, c.HotThreshold)
}

func (c Config) Level() (logrus.Level, error) {
	return logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
}

// StackTop is the initial stack pointer: the top of guest memory, 16-byte
// aligned.
func (c Config) StackTop() uint64 {
	return (c.MemoryBase + c.MemorySize) &^ 15
}
