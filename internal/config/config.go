package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the server runtime parameters.
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	DatabasePath string `mapstructure:"database_path"`

	JWTSecret        string `mapstructure:"jwt_secret"`
	TokenTTLMinutes  int    `mapstructure:"token_ttl_minutes"`
	AllowUnverified  bool   `mapstructure:"allow_unverified_signatures"`
	CORSOriginsRaw   string `mapstructure:"cors_origins"`
	ShutdownGraceRaw string `mapstructure:"shutdown_grace_period"`

	MaxMessageLength  int `mapstructure:"max_message_length"`
	DefaultMaxMembers int `mapstructure:"default_max_members"`
	InviteTTLDays     int `mapstructure:"invite_ttl_days"`

	// Per-connection inbound event budget on the persistent channel.
	WSEventsPerSecond float64 `mapstructure:"ws_events_per_second"`
	WSEventBurst      int     `mapstructure:"ws_event_burst"`

	CORSOrigins   []string      `mapstructure:"-"`
	ShutdownGrace time.Duration `mapstructure:"-"`
}

const defaultShutdownGrace = 10 * time.Second

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with WALLETCHAT_ and
// override file values.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WALLETCHAT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// jwt_secret has no default, and Unmarshal only visits keys viper
	// already knows about. The explicit bind makes WALLETCHAT_JWT_SECRET
	// visible without one.
	_ = v.BindEnv("jwt_secret")

	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("port", 8000)
	v.SetDefault("log_level", "info")
	v.SetDefault("database_path", "data/walletchat.db")
	v.SetDefault("token_ttl_minutes", 60*24*7)
	v.SetDefault("allow_unverified_signatures", false)
	v.SetDefault("cors_origins", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("shutdown_grace_period", defaultShutdownGrace.String())
	v.SetDefault("max_message_length", 5000)
	v.SetDefault("default_max_members", 500)
	v.SetDefault("invite_ttl_days", 7)
	v.SetDefault("ws_events_per_second", 25.0)
	v.SetDefault("ws_event_burst", 50)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required (WALLETCHAT_JWT_SECRET)")
	}

	for _, part := range strings.Split(cfg.CORSOriginsRaw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, p)
		}
	}

	grace, err := time.ParseDuration(cfg.ShutdownGraceRaw)
	if err != nil {
		return nil, fmt.Errorf("invalid shutdown_grace_period: %w", err)
	}
	cfg.ShutdownGrace = grace

	return &cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}
