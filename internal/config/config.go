// Package config loads service settings from defaults, an optional config
// file and FPS_ prefixed environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override, e.g. FPS_SERVER_ADDR.
const EnvPrefix = "FPS"

// ConfigFileEnv names an optional config file in any format viper reads.
const ConfigFileEnv = "FPS_CONFIG"

// Config holds the service settings.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Capture CaptureConfig `mapstructure:"capture"`
	Log     LogConfig     `mapstructure:"log"`
	Reader  ReaderConfig  `mapstructure:"reader"`
	// DevicesFile is a TOML device catalog. Empty uses the built-in profiles.
	DevicesFile string `mapstructure:"devices_file"`
	// MatcherWorkers is the SourceAFIS extraction parallelism, 0 for one per CPU.
	MatcherWorkers int `mapstructure:"matcher_workers"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" default:":8090"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" default:"3s"`
	// BodyLimit caps request bodies; enrollment images travel base64 encoded.
	BodyLimit int `mapstructure:"body_limit" default:"8388608"`
}

type CaptureConfig struct {
	// Timeout bounds a blocking capture request.
	Timeout     time.Duration `mapstructure:"timeout" default:"30s"`
	StopTimeout time.Duration `mapstructure:"stop_timeout" default:"3s"`
	// ReleaseTimeout is how long a session shutdown waits for its worker
	// before closing the reader anyway.
	ReleaseTimeout time.Duration `mapstructure:"release_timeout" default:"3s"`
}

type LogConfig struct {
	Level string `mapstructure:"level" default:"info"`
	// File enables a rotating log file next to stdout. It is a strftime
	// pattern, e.g. logs/fingerprint.%Y%m%d.log.
	File         string        `mapstructure:"file"`
	MaxAge       time.Duration `mapstructure:"max_age" default:"168h"`
	RotationTime time.Duration `mapstructure:"rotation_time" default:"24h"`
}

type ReaderConfig struct {
	// FramesDir holds one frames directory per hardware family.
	FramesDir string        `mapstructure:"frames_dir" default:"frames"`
	Exposure  time.Duration `mapstructure:"exposure" default:"100ms"`
}

// Default returns the built-in settings.
func Default() *Config {
	cfg := new(Config)
	defaults.SetDefaults(cfg)
	return cfg
}

// Load builds the settings and validates them.
func Load() (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only sees keys viper already knows.
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)
	v.SetDefault("server.body_limit", cfg.Server.BodyLimit)
	v.SetDefault("capture.timeout", cfg.Capture.Timeout)
	v.SetDefault("capture.stop_timeout", cfg.Capture.StopTimeout)
	v.SetDefault("capture.release_timeout", cfg.Capture.ReleaseTimeout)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.file", cfg.Log.File)
	v.SetDefault("log.max_age", cfg.Log.MaxAge)
	v.SetDefault("log.rotation_time", cfg.Log.RotationTime)
	v.SetDefault("reader.frames_dir", cfg.Reader.FramesDir)
	v.SetDefault("reader.exposure", cfg.Reader.Exposure)
	v.SetDefault("devices_file", cfg.DevicesFile)
	v.SetDefault("matcher_workers", cfg.MatcherWorkers)

	if file := os.Getenv(ConfigFileEnv); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("invalid server.addr: must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid server.shutdown_timeout: %s", c.Server.ShutdownTimeout)
	}
	if c.Server.BodyLimit <= 0 {
		return fmt.Errorf("invalid server.body_limit: %d", c.Server.BodyLimit)
	}
	if c.Capture.Timeout <= 0 {
		return fmt.Errorf("invalid capture.timeout: %s", c.Capture.Timeout)
	}
	if c.Capture.StopTimeout <= 0 {
		return fmt.Errorf("invalid capture.stop_timeout: %s", c.Capture.StopTimeout)
	}
	if c.Capture.ReleaseTimeout <= 0 {
		return fmt.Errorf("invalid capture.release_timeout: %s", c.Capture.ReleaseTimeout)
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log.level: %w", err)
	}
	if c.Log.File != "" && (c.Log.MaxAge <= 0 || c.Log.RotationTime <= 0) {
		return errors.New("invalid log.max_age or log.rotation_time: must be > 0 when log.file is set")
	}
	if c.Reader.Exposure < 0 {
		return fmt.Errorf("invalid reader.exposure: %s", c.Reader.Exposure)
	}
	if c.MatcherWorkers < 0 {
		return fmt.Errorf("invalid matcher_workers: %d", c.MatcherWorkers)
	}
	return nil
}
