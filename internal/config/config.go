// Package config loads ema-demo settings from ema-demo.yaml, EMA_ prefixed
// environment variables and a .env file, in increasing order of precedence
// below command line flags.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	FileName  = "ema-demo.yaml"
	EnvPrefix = "EMA"
)

var ErrInvalid = errors.New("invalid configuration")

type Demo struct {
	URL  string `mapstructure:"url" yaml:"url"`
	Goal string `mapstructure:"goal" yaml:"goal"`
	// Credentials only come from the environment or flags and are never
	// written out.
	Username string `mapstructure:"username" yaml:"-"`
	Password string `mapstructure:"password" yaml:"-"`
}

type Planner struct {
	Provider string `mapstructure:"provider" yaml:"provider"`
	Model    string `mapstructure:"model" yaml:"model"`
}

type Speech struct {
	Enabled      bool   `mapstructure:"enabled" yaml:"enabled"`
	AudioBackend string `mapstructure:"audio_backend" yaml:"audio_backend"`
	Voice        string `mapstructure:"voice" yaml:"voice"`
	Language     string `mapstructure:"language" yaml:"language"`
}

type Browser struct {
	Headless bool `mapstructure:"headless" yaml:"headless"`
	Width    int  `mapstructure:"width" yaml:"width"`
	Height   int  `mapstructure:"height" yaml:"height"`
	Install  bool `mapstructure:"install" yaml:"install"`
}

type Config struct {
	Demo    Demo    `mapstructure:"demo" yaml:"demo"`
	Planner Planner `mapstructure:"planner" yaml:"planner"`
	Speech  Speech  `mapstructure:"speech" yaml:"speech"`
	Browser Browser `mapstructure:"browser" yaml:"browser"`
	Timings Timings `mapstructure:"timings" yaml:"timings"`
}

func Default() Config {
	return Config{
		Demo: Demo{
			Goal: "Give a short tour of the product's main features.",
		},
		Planner: Planner{Provider: "gemini"},
		Speech: Speech{
			Enabled:      true,
			AudioBackend: "miniaudio",
			Language:     "en-US",
		},
		Browser: Browser{Width: 1280, Height: 800},
		Timings: DefaultTimings(),
	}
}

// Load reads the configuration. An explicit path must exist; without one a
// missing ema-demo.yaml is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, ".yaml"))
		v.AddConfigPath(".")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, Default()); err != nil {
		return Config{}, err
	}
	for _, key := range []string{"demo.username", "demo.password"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.Planner.Provider {
	case "gemini", "groq":
	default:
		return fmt.Errorf("%w: unknown planner provider %q", ErrInvalid, c.Planner.Provider)
	}
	switch c.Speech.AudioBackend {
	case "miniaudio", "portaudio":
	default:
		return fmt.Errorf("%w: unknown audio backend %q", ErrInvalid, c.Speech.AudioBackend)
	}
	if c.Timings.MaxCycles <= 0 {
		return fmt.Errorf("%w: max_cycles must be positive", ErrInvalid)
	}
	return nil
}

// WriteDefaults writes the default configuration to path. An existing file
// is only replaced when overwrite is set.
func WriteDefaults(path string, overwrite bool) error {
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	encoder := yaml.NewEncoder(f)
	encoder.SetIndent(2)
	if err := encoder.Encode(Default()); err != nil {
		return fmt.Errorf("failed to write defaults: %w", err)
	}
	return encoder.Close()
}

// setDefaults registers every default key with viper so environment
// variables are picked up by Unmarshal.
func setDefaults(v *viper.Viper, defaults Config) error {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}

	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for key, value := range node {
			if child, ok := value.(map[string]any); ok {
				walk(prefix+key+".", child)
				continue
			}
			v.SetDefault(prefix+key, value)
		}
	}
	walk("", tree)
	return nil
}
