// Package config loads and validates the startup configuration handed to
// the engine by the external launcher (spec.md §6). The engine core does
// not parse command-line flags or discover a config file path itself —
// that is the launcher's job — but it does own the shape of the struct
// and the validation rules a launcher's values must satisfy.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/e7canasta/kmsplay/internal/errs"
)

// LogLevel mirrors spec.md §6's five recognized levels.
type LogLevel string

const (
	LogLevelError LogLevel = "ERROR"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelTrace LogLevel = "TRACE"
)

func (l LogLevel) valid() bool {
	switch l {
	case LogLevelError, LogLevelWarn, LogLevelInfo, LogLevelDebug, LogLevelTrace:
		return true
	default:
		return false
	}
}

// Corner is one of the four keystone corner positions in normalized
// screen coordinates ([-1, 1] on each axis, matching the GL clip space
// the render pass draws into).
type Corner struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

// IdentityKeystone returns the four corners of the unfitted, non-keystoned
// unit quad — the default when keystone_initial is omitted.
func IdentityKeystone() [4]Corner {
	return [4]Corner{
		{X: -1, Y: -1}, // bottom-left
		{X: 1, Y: -1},  // bottom-right
		{X: 1, Y: 1},   // top-right
		{X: -1, Y: 1},  // top-left
	}
}

// Config is the struct supplied by the external launcher, decoded from
// YAML. Every field corresponds to one option in spec.md §6.
type Config struct {
	// Sources holds 1 or 2 media paths/URIs.
	Sources []string `yaml:"sources"`

	// PreferHardware attempts hardware decode first when true.
	PreferHardware bool `yaml:"prefer_hardware"`

	// MaxDecodeAttempts is the hardware-failure threshold before software
	// fallback (default 3).
	MaxDecodeAttempts int `yaml:"max_decode_attempts"`

	// DecodeTimeoutMS is the first-frame decode deadline in milliseconds
	// (default 5000).
	DecodeTimeoutMS int `yaml:"decode_timeout_ms"`

	// MemoryLimitMB is a soft ceiling enforced at pool allocation (default
	// 512).
	MemoryLimitMB int `yaml:"memory_limit_mb"`

	// MaxVideoWidth and MaxVideoHeight reject streams above these
	// dimensions (defaults 3840 / 2160).
	MaxVideoWidth  int `yaml:"max_video_width"`
	MaxVideoHeight int `yaml:"max_video_height"`

	// LogLevel is ERROR/WARN/INFO/DEBUG/TRACE, also overridable by the
	// log_level_env environment variable at process start.
	LogLevel LogLevel `yaml:"log_level"`

	// KeystoneInitial holds the four initial corner positions; defaults to
	// identity when empty.
	KeystoneInitial [4]Corner `yaml:"keystone_initial"`
}

// LogLevelEnvVar is the single environment variable spec.md §6 allows to
// override the configured log level at process start.
const LogLevelEnvVar = "log_level_env"

// Default returns a Config populated with every documented default.
func Default() Config {
	return Config{
		PreferHardware:    true,
		MaxDecodeAttempts: 3,
		DecodeTimeoutMS:   5000,
		MemoryLimitMB:     512,
		MaxVideoWidth:     3840,
		MaxVideoHeight:    2160,
		LogLevel:          LogLevelInfo,
		KeystoneInitial:   IdentityKeystone(),
	}
}

// Load reads a YAML configuration file, applies defaults for any zero
// field the file left unset, resolves the log-level environment override,
// and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.CategoryConfiguration, "read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errs.New(errs.CategoryConfiguration, "parse config: %w", err)
	}
	cfg.applyEnvOverride()

	if err := Validate(&cfg); err != nil {
		return nil, errs.Wrap(errs.CategoryConfiguration, err)
	}
	return &cfg, nil
}

// applyEnvOverride implements spec.md §6's single environment override.
func (c *Config) applyEnvOverride() {
	v, ok := os.LookupEnv(LogLevelEnvVar)
	if !ok || v == "" {
		return
	}
	lvl := LogLevel(strings.ToUpper(strings.TrimSpace(v)))
	if lvl.valid() {
		c.LogLevel = lvl
	}
}

// Validate checks every option spec.md §6 documents and returns a wrapped
// error describing the first violation found.
func Validate(c *Config) error {
	if n := len(c.Sources); n != 1 && n != 2 {
		return fmt.Errorf("sources: expected 1 or 2 entries, got %d", n)
	}
	for i, s := range c.Sources {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("sources[%d]: empty source path", i)
		}
	}
	if c.MaxDecodeAttempts < 1 {
		return fmt.Errorf("max_decode_attempts: must be >= 1, got %d", c.MaxDecodeAttempts)
	}
	if c.DecodeTimeoutMS < 1 {
		return fmt.Errorf("decode_timeout_ms: must be >= 1, got %d", c.DecodeTimeoutMS)
	}
	if c.MemoryLimitMB < 1 {
		return fmt.Errorf("memory_limit_mb: must be >= 1, got %d", c.MemoryLimitMB)
	}
	if c.MaxVideoWidth < 1 || c.MaxVideoHeight < 1 {
		return fmt.Errorf("max_video_width/height: must be positive, got %dx%d", c.MaxVideoWidth, c.MaxVideoHeight)
	}
	if !c.LogLevel.valid() {
		return fmt.Errorf("log_level: unrecognized value %q", c.LogLevel)
	}
	if err := validateKeystone(c.KeystoneInitial); err != nil {
		return fmt.Errorf("keystone_initial: %w", err)
	}
	return nil
}

// validateKeystone rejects any starting corner outside the normalized
// [-1, 1] range. It does not check whether the quad is degenerate or
// self-crossing.
func validateKeystone(corners [4]Corner) error {
	for i, c := range corners {
		if c.X < -1 || c.X > 1 || c.Y < -1 || c.Y > 1 {
			return fmt.Errorf("corner %d out of normalized range: (%v, %v)", i, c.X, c.Y)
		}
	}
	return nil
}

// DecodeTimeout returns DecodeTimeoutMS as a time.Duration.
func (c *Config) DecodeTimeout() time.Duration {
	return time.Duration(c.DecodeTimeoutMS) * time.Millisecond
}
