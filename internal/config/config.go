// Package config layers defaults, an optional YAML file, CBZKIT_* environment
// variables and command-line flags into one Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/yuanying/cbzkit/internal/codec"
	"github.com/yuanying/cbzkit/internal/comic"
)

const (
	AppName   = "cbzkit"
	EnvPrefix = "CBZKIT"
)

// Config is the full runtime configuration.
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Codec     CodecConfig     `mapstructure:"codec"`
	Load      LoadConfig      `mapstructure:"load"`
	Save      SaveConfig      `mapstructure:"save"`
	Thumbnail ThumbnailConfig `mapstructure:"thumbnail"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type CodecConfig struct {
	Format      string `mapstructure:"format"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
	AutoOrient  bool   `mapstructure:"auto_orient"`
}

type LoadConfig struct {
	Workers int      `mapstructure:"workers"`
	Ignore  []string `mapstructure:"ignore"`
	Strict  bool     `mapstructure:"strict"`
}

type SaveConfig struct {
	Merge string `mapstructure:"merge"`
}

type ThumbnailConfig struct {
	Size int `mapstructure:"size"`
}

// DefaultIgnore lists the junk entries archivers commonly leave behind.
var DefaultIgnore = []string{"__MACOSX/", ".DS_Store", "Thumbs.db"}

// New returns a viper instance with defaults and environment binding set up.
func New() *viper.Viper {
	v := viper.New()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("codec.format", string(codec.JPEG))
	v.SetDefault("codec.jpeg_quality", 85)
	v.SetDefault("codec.auto_orient", true)
	v.SetDefault("load.workers", runtime.NumCPU())
	v.SetDefault("load.ignore", DefaultIgnore)
	v.SetDefault("load.strict", false)
	v.SetDefault("save.merge", comic.MergeNode.String())
	v.SetDefault("thumbnail.size", 256)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// BindFlags binds each config key to the named flag when the flag exists.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}

// Load reads the config file and decodes the merged settings. An explicit
// configPath must exist; otherwise ./cbzkit.yaml and
// $HOME/.config/cbzkit/cbzkit.yaml are tried and may be absent.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(AppName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", AppName))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level %q (want debug, info, warn or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format %q (want text or json)", c.Log.Format)
	}
	if _, err := c.PageFormat(); err != nil {
		return fmt.Errorf("invalid codec.format: %w", err)
	}
	if c.Codec.JPEGQuality < 1 || c.Codec.JPEGQuality > 100 {
		return fmt.Errorf("invalid codec.jpeg_quality %d (want 1..100)", c.Codec.JPEGQuality)
	}
	if c.Load.Workers < 1 {
		return fmt.Errorf("invalid load.workers %d (want >= 1)", c.Load.Workers)
	}
	if _, err := comic.ParseMergeScope(c.Save.Merge); err != nil {
		return fmt.Errorf("invalid save.merge: %w", err)
	}
	if c.Thumbnail.Size < 0 {
		return fmt.Errorf("invalid thumbnail.size %d (want >= 0)", c.Thumbnail.Size)
	}
	return nil
}

// PageFormat returns the configured page encoder format.
func (c *Config) PageFormat() (codec.Format, error) {
	return codec.ParseFormat(c.Codec.Format)
}

// CodecOptions maps the codec section onto codec.Options.
func (c *Config) CodecOptions() codec.Options {
	return codec.Options{
		JPEGQuality: c.Codec.JPEGQuality,
		AutoOrient:  c.Codec.AutoOrient,
	}
}

// EngineOptions maps the config onto engine options. Host, Fs, Logger and
// Confirm are left for the caller.
func (c *Config) EngineOptions() (comic.Options, error) {
	format, err := c.PageFormat()
	if err != nil {
		return comic.Options{}, err
	}
	merge, err := comic.ParseMergeScope(c.Save.Merge)
	if err != nil {
		return comic.Options{}, err
	}
	return comic.Options{
		Codec:         codec.New(c.CodecOptions()),
		Workers:       c.Load.Workers,
		Ignore:        c.Load.Ignore,
		Strict:        c.Load.Strict,
		PageFormat:    format,
		Merge:         merge,
		ThumbnailSize: c.Thumbnail.Size,
	}, nil
}
