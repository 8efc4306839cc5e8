package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/notexe/vocalizeit/internal/scheduler"
	"github.com/notexe/vocalizeit/internal/speech"
)

// EnvPrefix marks environment overrides. A double underscore separates
// nested keys: VOCALIZEIT_SPEECH__RATE sets speech.rate.
const EnvPrefix = "VOCALIZEIT_"

type Config struct {
	Store     StoreConfig            `koanf:"store"`
	Timezone  string                 `koanf:"timezone"` // IANA name; empty means local time
	Speech    SpeechConfig           `koanf:"speech"`
	Delivery  DeliveryConfig         `koanf:"delivery"`
	Lifecycle LifecycleConfig        `koanf:"lifecycle"`
	Platform  scheduler.Capabilities `koanf:"platform"`
	Telegram  TelegramConfig         `koanf:"telegram"`
	UI        UIConfig               `koanf:"ui"`
}

type StoreConfig struct {
	Path string `koanf:"path"`
}

type SpeechConfig struct {
	Enabled  bool    `koanf:"enabled"`
	Command  string  `koanf:"command"` // espeak, espeak-ng, spd-say or say
	Language string  `koanf:"language"`
	Rate     float64 `koanf:"rate"`
	Pitch    float64 `koanf:"pitch"`
}

type DeliveryConfig struct {
	PrimeDelayMS int `koanf:"prime_delay_ms"` // Pause between speech start and the alarm
}

type LifecycleConfig struct {
	MissedAfterMinutes int           `koanf:"missed_after_minutes"`
	ReconcileInterval  time.Duration `koanf:"reconcile_interval"`
}

type TelegramConfig struct {
	Enabled  bool   `koanf:"enabled"`
	BotToken string `koanf:"bot_token"`
	ChatID   string `koanf:"chat_id"`
}

type UIConfig struct {
	ColoredOutput bool `koanf:"colored_output"`
}

func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(NewDefaultProvider(), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath != "" {
		configPath = expandPath(configPath)

		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file: %w", err)
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// Same variables the Telegram tooling uses
	if token := os.Getenv("TELEGRAM_BOT_TOKEN"); token != "" {
		k.Set("telegram.bot_token", token)
	}
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		k.Set("telegram.chat_id", chatID)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.Path = expandPath(cfg.Store.Path)

	return &cfg, nil
}

// envKey maps VOCALIZEIT_LIFECYCLE__MISSED_AFTER_MINUTES to
// lifecycle.missed_after_minutes.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if _, err := c.Location(); err != nil {
		return err
	}

	if c.Speech.Enabled {
		if c.Speech.Command == "" {
			return fmt.Errorf("speech.command is required when speech is enabled")
		}
		if c.Speech.Rate <= 0 || c.Speech.Rate > 4 {
			return fmt.Errorf("speech.rate must be between 0 and 4")
		}
		if c.Speech.Pitch <= 0 || c.Speech.Pitch > 2 {
			return fmt.Errorf("speech.pitch must be between 0 and 2")
		}
	}

	if c.Delivery.PrimeDelayMS < 0 || c.Delivery.PrimeDelayMS > 10000 {
		return fmt.Errorf("delivery.prime_delay_ms must be between 0 and 10000")
	}

	if c.Lifecycle.MissedAfterMinutes <= 0 {
		return fmt.Errorf("lifecycle.missed_after_minutes must be positive")
	}

	if c.Lifecycle.ReconcileInterval < time.Second {
		return fmt.Errorf("lifecycle.reconcile_interval must be at least 1s")
	}

	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram bot token and chat id are required (set TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID or add to config file)")
	}

	return nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Voice returns the speech parameters for delivered reminders.
func (c *Config) Voice() speech.Options {
	return speech.Options{
		Language: c.Speech.Language,
		Rate:     c.Speech.Rate,
		Pitch:    c.Speech.Pitch,
	}
}

// PrimeDelay returns the pause between speech start and the alarm.
func (c *Config) PrimeDelay() time.Duration {
	return time.Duration(c.Delivery.PrimeDelayMS) * time.Millisecond
}

// MissedAfter returns how long a fired reminder waits before it is missed.
func (c *Config) MissedAfter() time.Duration {
	return time.Duration(c.Lifecycle.MissedAfterMinutes) * time.Minute
}

func expandPath(path string) string {
	if path == "" {
		return path
	}

	if len(path) >= 2 && path[:2] == "~/" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}

	return path
}
