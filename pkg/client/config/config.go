// Package config loads the voice client's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/vango-go/vai-voice/pkg/client/language"
	"github.com/vango-go/vai-voice/pkg/client/localstore"
	"github.com/vango-go/vai-voice/pkg/client/quota"
)

const (
	DefaultPath      = "vai-voice.toml"
	DefaultServerURL = "ws://localhost:3000/ws"
)

type Config struct {
	ServerURL   string `toml:"server_url"`
	Language    string `toml:"language"`
	BackupModel string `toml:"backup_model"`

	ReconnectBackoff time.Duration `toml:"reconnect_backoff"`
	SettleDelay      time.Duration `toml:"settle_delay"`
	IdleTimeout      time.Duration `toml:"idle_timeout"`
	// SilenceTimeout is how long the console mic waits before no-speech.
	SilenceTimeout time.Duration `toml:"silence_timeout"`

	Store  StoreConfig  `toml:"store"`
	Log    LogConfig    `toml:"log"`
	Speech SpeechConfig `toml:"speech"`
}

type StoreConfig struct {
	Driver string `toml:"driver"` // memory, file or sqlite
	Path   string `toml:"path"`
}

type LogConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

type SpeechConfig struct {
	Rate   float64 `toml:"rate"`
	Pitch  float64 `toml:"pitch"`
	Volume float64 `toml:"volume"`
	// Echo prints each utterance as the console synthesizer speaks it.
	Echo         bool          `toml:"echo"`
	WordDuration time.Duration `toml:"word_duration"`
	VoicesAfter  time.Duration `toml:"voices_after"`
}

func Default() Config {
	return Config{
		ServerURL:        DefaultServerURL,
		Language:         language.Default,
		BackupModel:      quota.DefaultBackupModel,
		ReconnectBackoff: 3 * time.Second,
		SettleDelay:      250 * time.Millisecond,
		IdleTimeout:      30 * time.Second,
		SilenceTimeout:   8 * time.Second,
		Store: StoreConfig{
			Driver: localstore.DriverFile,
			Path:   "vai-voice-state.json",
		},
		Log: LogConfig{
			File:  "vai-voice.log",
			Level: "info",
		},
		Speech: SpeechConfig{
			Rate:         1.04,
			Pitch:        1.06,
			Volume:       1.0,
			WordDuration: 350 * time.Millisecond,
		},
	}
}

// Load reads path over the defaults. A missing file is only an error when
// required is set.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || required {
			return Config{}, fmt.Errorf("read %s: %w", path, err)
		}
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses TOML text over the defaults.
func Decode(text string) (Config, error) {
	cfg := Default()
	if _, err := toml.Decode(text, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.ServerURL = strings.TrimSpace(c.ServerURL)
	c.Language = strings.TrimSpace(c.Language)
	c.BackupModel = strings.TrimSpace(c.BackupModel)
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
}

func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("server_url must be a ws:// or wss:// URL, got %q", c.ServerURL)
	}
	if _, ok := language.Lookup(c.Language); !ok {
		return fmt.Errorf("unknown language %q", c.Language)
	}
	switch c.Store.Driver {
	case localstore.DriverMemory:
	case localstore.DriverFile, localstore.DriverSQLite:
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	if c.ReconnectBackoff <= 0 || c.SettleDelay <= 0 || c.IdleTimeout <= 0 || c.SilenceTimeout <= 0 {
		return errors.New("reconnect_backoff, settle_delay, idle_timeout and silence_timeout must be positive")
	}
	if c.Speech.Rate <= 0 || c.Speech.Pitch <= 0 || c.Speech.Volume < 0 || c.Speech.Volume > 1 {
		return fmt.Errorf("invalid speech parameters rate=%v pitch=%v volume=%v", c.Speech.Rate, c.Speech.Pitch, c.Speech.Volume)
	}
	return nil
}

func (c Config) LogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return lvl, nil
}
