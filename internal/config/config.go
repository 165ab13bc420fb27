// ABOUTME: Player configuration loading and validation
// ABOUTME: Merges defaults, environment, .env files, config file and flags
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"time"

	"github.com/Resonate-Protocol/resonate-tts/pkg/protocol"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable
const EnvPrefix = "RESONATE_TTS_"

// Keys shared by flags, the config file and viper lookups
const (
	KeyControlURL      = "control_url"
	KeyAPIKey          = "api_key"
	KeyModel           = "model"
	KeyVoice           = "voice"
	KeyVoiceMode       = "voice_mode"
	KeyDecodePolicy    = "decode_policy"
	KeyBuffer          = "buffer"
	KeyVolume          = "volume"
	KeyAssetDir        = "asset_dir"
	KeyMetricsAddr     = "metrics_addr"
	KeyLogFile         = "log_file"
	KeyDebug           = "debug"
	KeyNoTUI           = "no_tui"
	KeyDiscoverTimeout = "discover_timeout"
)

// Config holds player configuration
type Config struct {
	ControlURL      string        `env:"CONTROL_URL"`
	APIKey          string        `env:"API_KEY"`
	ModelID         string        `env:"MODEL"`
	VoiceID         string        `env:"VOICE"`
	VoiceMode       string        `env:"VOICE_MODE"`
	DecodePolicy    string        `env:"DECODE_POLICY"`
	Buffer          time.Duration `env:"BUFFER"`
	Volume          int           `env:"VOLUME"`
	AssetDir        string        `env:"ASSET_DIR"`
	MetricsAddr     string        `env:"METRICS_ADDR"`
	LogFile         string        `env:"LOG_FILE"`
	Debug           bool          `env:"DEBUG"`
	NoTUI           bool          `env:"NO_TUI"`
	DiscoverTimeout time.Duration `env:"DISCOVER_TIMEOUT"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		ModelID:         protocol.DefaultModelID,
		VoiceID:         protocol.DefaultVoiceID,
		VoiceMode:       protocol.DefaultVoiceMode,
		DecodePolicy:    "abort",
		Buffer:          50 * time.Millisecond,
		Volume:          100,
		LogFile:         "resonate-tts.log",
		DiscoverTimeout: 5 * time.Second,
	}
}

// Load builds the configuration. Later sources win: defaults, .env files,
// the environment, then anything set in v (config file or changed flags).
func Load(v *viper.Viper, dotenvFiles ...string) (Config, error) {
	if err := loadDotenv(dotenvFiles...); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("error parsing environment: %w", err)
	}

	if v != nil {
		applyViper(v, &cfg)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotenv loads .env files without overriding the real environment.
// Missing files are ignored.
func loadDotenv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("error loading %s: %w", f, err)
		}
	}
	return nil
}

func applyViper(v *viper.Viper, cfg *Config) {
	if v.IsSet(KeyControlURL) {
		cfg.ControlURL = v.GetString(KeyControlURL)
	}
	if v.IsSet(KeyAPIKey) {
		cfg.APIKey = v.GetString(KeyAPIKey)
	}
	if v.IsSet(KeyModel) {
		cfg.ModelID = v.GetString(KeyModel)
	}
	if v.IsSet(KeyVoice) {
		cfg.VoiceID = v.GetString(KeyVoice)
	}
	if v.IsSet(KeyVoiceMode) {
		cfg.VoiceMode = v.GetString(KeyVoiceMode)
	}
	if v.IsSet(KeyDecodePolicy) {
		cfg.DecodePolicy = v.GetString(KeyDecodePolicy)
	}
	if v.IsSet(KeyBuffer) {
		cfg.Buffer = v.GetDuration(KeyBuffer)
	}
	if v.IsSet(KeyVolume) {
		cfg.Volume = v.GetInt(KeyVolume)
	}
	if v.IsSet(KeyAssetDir) {
		cfg.AssetDir = v.GetString(KeyAssetDir)
	}
	if v.IsSet(KeyMetricsAddr) {
		cfg.MetricsAddr = v.GetString(KeyMetricsAddr)
	}
	if v.IsSet(KeyLogFile) {
		cfg.LogFile = v.GetString(KeyLogFile)
	}
	if v.IsSet(KeyDebug) {
		cfg.Debug = v.GetBool(KeyDebug)
	}
	if v.IsSet(KeyNoTUI) {
		cfg.NoTUI = v.GetBool(KeyNoTUI)
	}
	if v.IsSet(KeyDiscoverTimeout) {
		cfg.DiscoverTimeout = v.GetDuration(KeyDiscoverTimeout)
	}
}

// Validate reports every problem at once
func (c Config) Validate() error {
	var errs []error

	if c.ControlURL != "" {
		u, err := url.Parse(c.ControlURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("control url must be an absolute http(s) url: %q", c.ControlURL))
		}
	}
	if c.ModelID == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	if c.VoiceID == "" {
		errs = append(errs, errors.New("voice must not be empty"))
	}
	if _, err := protocol.ParseDecodePolicy(c.DecodePolicy); err != nil {
		errs = append(errs, err)
	}
	if c.Buffer < 5*time.Millisecond || c.Buffer > time.Second {
		errs = append(errs, fmt.Errorf("buffer must be between 5ms and 1s, got %v", c.Buffer))
	}
	if c.Volume < 0 || c.Volume > 100 {
		errs = append(errs, fmt.Errorf("volume must be between 0 and 100, got %d", c.Volume))
	}
	if c.DiscoverTimeout <= 0 {
		errs = append(errs, fmt.Errorf("discover timeout must be positive, got %v", c.DiscoverTimeout))
	}

	return errors.Join(errs...)
}

// TransportConfig maps the configuration onto a transport client template
func (c Config) TransportConfig() protocol.Config {
	policy, _ := protocol.ParseDecodePolicy(c.DecodePolicy)
	return protocol.Config{
		ControlURL:   c.ControlURL,
		APIKey:       c.APIKey,
		ModelID:      c.ModelID,
		Voice:        protocol.Voice{Mode: c.VoiceMode, ID: c.VoiceID},
		DecodePolicy: policy,
	}
}
