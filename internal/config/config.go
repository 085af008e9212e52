package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// OfferTTL bounds how long a connection offer may stay pending.
	// Zero disables expiry.
	OfferTTL time.Duration `mapstructure:"offer_ttl"`

	// Inbound signal frame budget per connection.
	MsgRate  float64 `mapstructure:"msg_rate"`
	MsgBurst int     `mapstructure:"msg_burst"`

	// STUN server handed to transfer clients.
	StunURL string `mapstructure:"stun_url"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("offer_ttl", "60s")
	v.SetDefault("msg_rate", 20.0)
	v.SetDefault("msg_burst", 40)
	v.SetDefault("stun_url", "stun:stun.l.google.com:19302")
	// Per-process fallback so the session store is never keyed on an
	// empty secret. Set a stable value in the config file to keep
	// cookies valid across restarts.
	v.SetDefault("secret", uuid.NewString())

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &cfg, nil
}
