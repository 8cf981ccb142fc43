// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the roomchat service.
package server

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = "localhost:2025"

// Configuration keys understood by LoadConfig.
const (
	KeyAddr            = "server.addr"
	KeyAllowedOrigins  = "server.allowed_origins"
	KeyMaxMessageSize  = "server.max_message_size"
	KeySendBuffer      = "server.send_buffer"
	KeyJoinTimeout     = "server.join_timeout"
	KeyRateBurst       = "rate_limit.burst"
	KeyRateRefill      = "rate_limit.refill_interval"
	KeyHistorySize     = "history.size"
	KeyArchiveDir      = "archive.dir"
	KeySQLitePath      = "archive.sqlite_path"
	KeyShutdownTimeout = "shutdown.timeout"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// Config holds the server configuration settings.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	SendBuffer      int
	JoinTimeout     time.Duration
	RateLimit       RateLimitConfig
	HistorySize     int
	ArchiveDir      string
	SQLitePath      string
	ShutdownTimeout time.Duration
}

func defaultConfig() Config {
	return Config{
		Addr: DefaultAddr,
		AllowedOrigins: []string{
			"http://localhost:2025",
			"http://127.0.0.1:2025",
		},
		MaxMessageSize: 4096,
		SendBuffer:     256,
		JoinTimeout:    15 * time.Second,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		HistorySize:     5,
		ArchiveDir:      ".",
		ShutdownTimeout: 10 * time.Second,
	}
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// Sanitize replaces unusable values with defaults and normalizes origins.
func (c Config) Sanitize() Config {
	def := defaultConfig()

	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = def.Addr
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = def.JoinTimeout
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = def.RateLimit.Burst
	}
	if c.RateLimit.RefillInterval <= 0 {
		c.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if c.HistorySize <= 0 {
		c.HistorySize = def.HistorySize
	}
	if strings.TrimSpace(c.ArchiveDir) == "" {
		c.ArchiveDir = def.ArchiveDir
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}

	c.AllowedOrigins = append([]string(nil), c.AllowedOrigins...)
	return c
}

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	def := defaultConfig()
	v.SetDefault(KeyAddr, def.Addr)
	v.SetDefault(KeyAllowedOrigins, def.AllowedOrigins)
	v.SetDefault(KeyMaxMessageSize, def.MaxMessageSize)
	v.SetDefault(KeySendBuffer, def.SendBuffer)
	v.SetDefault(KeyJoinTimeout, def.JoinTimeout)
	v.SetDefault(KeyRateBurst, def.RateLimit.Burst)
	v.SetDefault(KeyRateRefill, def.RateLimit.RefillInterval)
	v.SetDefault(KeyHistorySize, def.HistorySize)
	v.SetDefault(KeyArchiveDir, def.ArchiveDir)
	v.SetDefault(KeySQLitePath, def.SQLitePath)
	v.SetDefault(KeyShutdownTimeout, def.ShutdownTimeout)
}

// LoadConfig reads the server configuration from v. Values from flags,
// environment and config files have already been merged by viper.
func LoadConfig(v *viper.Viper) Config {
	cfg := Config{
		Addr:           v.GetString(KeyAddr),
		AllowedOrigins: parseOrigins(v.GetStringSlice(KeyAllowedOrigins)),
		MaxMessageSize: v.GetInt64(KeyMaxMessageSize),
		SendBuffer:     v.GetInt(KeySendBuffer),
		JoinTimeout:    v.GetDuration(KeyJoinTimeout),
		RateLimit: RateLimitConfig{
			Burst:          v.GetInt(KeyRateBurst),
			RefillInterval: v.GetDuration(KeyRateRefill),
		},
		HistorySize:     v.GetInt(KeyHistorySize),
		ArchiveDir:      v.GetString(KeyArchiveDir),
		SQLitePath:      v.GetString(KeySQLitePath),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
	}
	return cfg.Sanitize()
}

// parseOrigins accepts both list values and a single comma separated string,
// which is what an environment variable produces.
func parseOrigins(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
