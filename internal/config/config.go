// Package config loads GuardianBridge's process-level configuration
// (listen address, profiles root, default keyword file, Memory Guard
// thresholds, Trainer Scheduler interval) via github.com/spf13/viper, the
// teacher's configuration library (internal/server/config.go's `conf`-
// tagged struct shape, generalized here since the teacher's own `conf`
// loader package was not part of the retrieved source).
package config

import (
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/looplj/guardianbridge/internal/memguard"
	"github.com/looplj/guardianbridge/internal/training"
)

// Server is the HTTP listener configuration (spec.md §1 "TLS/listener...
// out of scope" — GuardianBridge binds a plain address, TLS termination is
// an external collaborator).
type Server struct {
	Addr           string        `conf:"addr" yaml:"addr" json:"addr"`
	ReadTimeout    time.Duration `conf:"read_timeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout   time.Duration `conf:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
	UpstreamTimeout time.Duration `conf:"upstream_timeout" yaml:"upstream_timeout" json:"upstream_timeout"`

	CORS CORS `conf:"cors" yaml:"cors" json:"cors"`
}

// CORS mirrors the teacher's internal/server.CORS block.
type CORS struct {
	Enabled        bool     `conf:"enabled" yaml:"enabled" json:"enabled"`
	AllowedOrigins []string `conf:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	AllowedMethods []string `conf:"allowed_methods" yaml:"allowed_methods" json:"allowed_methods"`
	AllowedHeaders []string `conf:"allowed_headers" yaml:"allowed_headers" json:"allowed_headers"`
}

// Moderation groups the process-wide defaults the per-request config blob
// (spec.md §6.2) falls back to.
type Moderation struct {
	ProfilesRoot        string `conf:"profiles_root" yaml:"profiles_root" json:"profiles_root"`
	DefaultKeywordsFile string `conf:"default_keywords_file" yaml:"default_keywords_file" json:"default_keywords_file"`
}

// Config is the top-level process configuration.
type Config struct {
	Server     Server            `conf:"server" yaml:"server" json:"server"`
	Moderation Moderation        `conf:"moderation" yaml:"moderation" json:"moderation"`
	Training   training.Config   `conf:"training" yaml:"training" json:"training"`
	MemoryGuard memguard.Config  `conf:"memory_guard" yaml:"memory_guard" json:"memory_guard"`
	Debug      bool              `conf:"debug" yaml:"debug" json:"debug"`
}

func defaults() Config {
	return Config{
		Server: Server{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    0, // unbounded: streaming responses may run long
			UpstreamTimeout: 120 * time.Second,
		},
		Moderation: Moderation{
			ProfilesRoot:        "/etc/guardianbridge/profiles",
			DefaultKeywordsFile: "/etc/guardianbridge/keywords.txt",
		},
		Training: training.Config{
			IntervalMinutes: 10,
			Cooldown:        30 * time.Minute,
		},
		MemoryGuard: memguard.Config{
			IntervalSeconds: 30,
			SoftLimitBytes:  0,
			HardLimitBytes:  0,
		},
	}
}

// Load reads configuration from path (if non-empty) layered over built-in
// defaults, with GUARDIANBRIDGE_-prefixed environment variables overriding
// both, matching the teacher's viper usage pattern (env override of a
// typed, file-backed config struct).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("guardianbridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, defaults())

	if path != "" {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viperTagOption); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// viperTagOption makes viper's mapstructure decoder read the same `conf`
// tag the struct fields are annotated with, instead of defaulting to
// lower-cased field names.
func viperTagOption(dc *mapstructure.DecoderConfig) {
	dc.TagName = "conf"
}

// setDefaults registers d's fields as viper defaults under their `conf`
// key paths, so a partial config file or no file at all still yields a
// fully populated Config after Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.upstream_timeout", d.Server.UpstreamTimeout)
	v.SetDefault("server.cors.enabled", d.Server.CORS.Enabled)
	v.SetDefault("server.cors.allowed_origins", d.Server.CORS.AllowedOrigins)
	v.SetDefault("server.cors.allowed_methods", d.Server.CORS.AllowedMethods)
	v.SetDefault("server.cors.allowed_headers", d.Server.CORS.AllowedHeaders)

	v.SetDefault("moderation.profiles_root", d.Moderation.ProfilesRoot)
	v.SetDefault("moderation.default_keywords_file", d.Moderation.DefaultKeywordsFile)

	v.SetDefault("training.interval_minutes", d.Training.IntervalMinutes)
	v.SetDefault("training.cooldown", d.Training.Cooldown)

	v.SetDefault("memory_guard.interval_seconds", d.MemoryGuard.IntervalSeconds)
	v.SetDefault("memory_guard.soft_limit_bytes", d.MemoryGuard.SoftLimitBytes)
	v.SetDefault("memory_guard.hard_limit_bytes", d.MemoryGuard.HardLimitBytes)
	v.SetDefault("memory_guard.log_fd_count", d.MemoryGuard.LogFDCount)

	v.SetDefault("debug", d.Debug)
}
