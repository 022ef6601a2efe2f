// Package config loads subtitler settings from defaults, an optional
// appsettings.json, SUBTITLER_* environment variables and bound flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

const EnvPrefix = "SUBTITLER"

type Broadcast struct {
	Name        string `mapstructure:"name"`
	Addr        string `mapstructure:"addr"`
	Codec       string `mapstructure:"codec"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
}

type Retry struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Backoff     time.Duration `mapstructure:"backoff"`
}

type History struct {
	// Path of the SQLite journal. Empty disables the journal.
	Path string `mapstructure:"path"`
}

type Log struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	Locale          string        `mapstructure:"locale"`
	TargetLanguage  string        `mapstructure:"target_language"`
	Seconds         int           `mapstructure:"seconds"`
	Device          int           `mapstructure:"device"`
	CredentialsFile string        `mapstructure:"credentials_file"`
	GraceTimeout    time.Duration `mapstructure:"grace_timeout"`
	// TranslateTimeout bounds one translation including its retry.
	TranslateTimeout time.Duration `mapstructure:"translate_timeout"`

	Broadcast Broadcast `mapstructure:"broadcast"`
	Retry     Retry     `mapstructure:"retry"`
	History   History   `mapstructure:"history"`
	Log       Log       `mapstructure:"log"`
}

func SetDefaults(v *viper.Viper) {
	v.SetDefault("locale", "de")
	v.SetDefault("target_language", "de")
	v.SetDefault("seconds", 30)
	v.SetDefault("device", 0)
	v.SetDefault("credentials_file", "")
	v.SetDefault("grace_timeout", 5*time.Second)
	v.SetDefault("translate_timeout", 10*time.Second)

	v.SetDefault("broadcast.name", "subtitler")
	v.SetDefault("broadcast.addr", ":5960")
	v.SetDefault("broadcast.codec", "jpeg")
	v.SetDefault("broadcast.jpeg_quality", 85)

	v.SetDefault("retry.max_failures", 0)
	v.SetDefault("retry.backoff", 5*time.Second)

	v.SetDefault("history.path", "subtitler.db")
	v.SetDefault("log.level", "info")
}

// Load applies defaults and environment overrides, reads appsettings.json
// from the working directory when present, and decodes the result.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("appsettings")
	v.SetConfigType("json")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read settings: %w", err)
		}
	}

	return Decode(v)
}

// Decode turns the merged viper state into a validated Config.
func Decode(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Locale == "" {
		return errors.New("locale must not be empty")
	}
	if c.TargetLanguage == "" {
		return errors.New("target_language must not be empty")
	}
	if c.Device < 0 {
		return fmt.Errorf("device %d: index must not be negative", c.Device)
	}
	if q := c.Broadcast.JPEGQuality; q < 1 || q > 100 {
		return fmt.Errorf("broadcast.jpeg_quality %d: must be between 1 and 100", q)
	}
	if c.Retry.MaxFailures < 0 {
		return fmt.Errorf("retry.max_failures %d: must not be negative", c.Retry.MaxFailures)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// LogLevel is the parsed log.level; Validate has already checked it.
func (c Config) LogLevel() log.Level {
	level, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return level
}
