package objectplugin

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Setting keys understood by LoadSettings.
const (
	SettingAddr                    = "addr"
	SettingGracefulShutdownTimeout = "graceful-shutdown-timeout"
	SettingStreamSendBuffer        = "stream-send-buffer"
	SettingMaxSessions             = "max-sessions"
	SettingMaxGoroutines           = "max-goroutines"
	SettingRateLimitRPS            = "rate-limit-rps"
	SettingRateLimitBurst          = "rate-limit-burst"
	SettingLogLevel                = "log-level"
)

// EnvPrefix prefixes environment overrides (e.g. OBJPLUG_ADDR).
const EnvPrefix = "OBJPLUG"

// Settings are the file/env configurable parts of a ServeConfig.
type Settings struct {
	Addr                    string        `mapstructure:"addr"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful-shutdown-timeout"`
	StreamSendBuffer        int           `mapstructure:"stream-send-buffer"`
	MaxSessions             int           `mapstructure:"max-sessions"`
	MaxGoroutines           int           `mapstructure:"max-goroutines"`
	RateLimitRPS            float64       `mapstructure:"rate-limit-rps"`
	RateLimitBurst          int           `mapstructure:"rate-limit-burst"`
	LogLevel                string        `mapstructure:"log-level"`
}

// SetDefaults registers the default settings on v and binds environment
// variables.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(SettingAddr, DefaultAddr)
	v.SetDefault(SettingGracefulShutdownTimeout, DefaultGracefulShutdownTimeout)
	v.SetDefault(SettingStreamSendBuffer, DefaultStreamSendBuffer)
	v.SetDefault(SettingMaxSessions, 0)
	v.SetDefault(SettingMaxGoroutines, DefaultMaxGoroutines)
	v.SetDefault(SettingRateLimitRPS, 0)
	v.SetDefault(SettingRateLimitBurst, 0)
	v.SetDefault(SettingLogLevel, "info")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
}

// LoadSettings reads Settings from v. A nil v reads only defaults and
// the environment.
func LoadSettings(v *viper.Viper) (Settings, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return Settings{}, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks Settings for errors.
func (s Settings) Validate() error {
	if s.Addr == "" {
		return fmt.Errorf("%w: %s must be set", ErrInvalidConfig, SettingAddr)
	}
	if s.GracefulShutdownTimeout < 0 {
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidConfig, SettingGracefulShutdownTimeout)
	}
	if s.StreamSendBuffer < 0 {
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidConfig, SettingStreamSendBuffer)
	}
	if s.MaxSessions < 0 {
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidConfig, SettingMaxSessions)
	}
	if s.RateLimitRPS < 0 {
		return fmt.Errorf("%w: %s must be >= 0", ErrInvalidConfig, SettingRateLimitRPS)
	}
	if s.RateLimitRPS > 0 && s.RateLimitBurst < 1 {
		return fmt.Errorf("%w: %s must be >= 1 when %s is set", ErrInvalidConfig, SettingRateLimitBurst, SettingRateLimitRPS)
	}
	if _, err := zap.ParseAtomicLevel(s.LogLevel); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidConfig, SettingLogLevel, err)
	}
	return nil
}

// ApplyTo copies the settings into cfg.
func (s Settings) ApplyTo(cfg *ServeConfig) {
	cfg.Addr = s.Addr
	cfg.GracefulShutdownTimeout = s.GracefulShutdownTimeout
	cfg.StreamSendBuffer = s.StreamSendBuffer
	cfg.MaxSessions = s.MaxSessions
	cfg.MaxGoroutines = s.MaxGoroutines
	if s.RateLimitRPS > 0 {
		cfg.RateLimit = &Rate{RequestsPerSecond: s.RateLimitRPS, Burst: s.RateLimitBurst}
	}
}

// NewLogger builds a production zap logger at the given level.
func NewLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	return cfg.Build()
}
