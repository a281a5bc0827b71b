// Package config defines the bridge configuration and the comb layout file.
//
// Configuration is layered: defaults, an optional YAML file named by
// WDD_CONFIG, WDD_* environment variables and finally command-line flags
// that were explicitly set.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// Addr configures the admin HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// WDDAddr is where decoder sessions connect.
	WDDAddr string `koanf:"wdd_addr"`
	// WDDAuthKey authenticates decoder sessions.
	WDDAuthKey string `koanf:"wdd_authkey"`

	// NATSURL enables the NATS event source when set.
	NATSURL     string `koanf:"nats_url"`
	NATSSubject string `koanf:"nats_subject"`

	// CombPort is the serial device, a .wav file for audio playback, or empty
	// for dummy mode.
	CombPort string `koanf:"comb_port"`
	// CombConfig is the path of the comb layout file.
	CombConfig string `koanf:"comb_config"`

	CharacterDelayMS    int    `koanf:"character_delay_ms"`
	ReconnectIntervalMS int    `koanf:"reconnect_interval_ms"`
	AudioPlayer         string `koanf:"audio_player"`

	// StatsFile enables the JSON-lines statistics log. "<date>" expands to
	// the current UTC date.
	StatsFile string `koanf:"stats_file"`

	// SoundIndex is the soundboard file played in all-actuators mode (0-11).
	SoundIndex int `koanf:"sound_index"`
	// SignalIndex is the signal linked to the nearest actuator (1-5).
	SignalIndex int `koanf:"signal_index"`
	// UseSoundboard lists the soundboards used in all-actuators mode.
	UseSoundboard []int `koanf:"use_soundboard"`
	// AllActuators plays the signal on every actuator at once.
	AllActuators bool `koanf:"all_actuators"`
	// HardwiredSignals uses the per-actuator soundboard assignment from the
	// layout file.
	HardwiredSignals bool `koanf:"hardwired_signals"`
	// SignalDuration is the hold of one activation in seconds.
	SignalDuration float64 `koanf:"signal_duration"`

	WaggleMaxGap      float64 `koanf:"waggle_max_gap"`
	WaggleMinCount    int     `koanf:"waggle_min_count"`
	WaggleMaxDistance float64 `koanf:"waggle_max_distance"`

	// QueueSize bounds the inbound and outbound queues.
	QueueSize int `koanf:"queue_size"`
	// DedupeSize bounds the remembered waggle ids.
	DedupeSize int `koanf:"dedupe_size"`

	AzimuthRefreshS float64 `koanf:"azimuth_refresh_s"`
	// AzimuthFixedDeg is the compass azimuth used when no command is set.
	AzimuthFixedDeg float64 `koanf:"azimuth_fixed_deg"`
	// AzimuthCommand is an external program printing the compass azimuth.
	AzimuthCommand string `koanf:"azimuth_command"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:            "info",
		Addr:                ":9080",
		WDDAddr:             ":9901",
		NATSSubject:         "wdd.waggles",
		CharacterDelayMS:    1,
		ReconnectIntervalMS: 1000,
		AudioPlayer:         "aplay -q",
		SoundIndex:          0,
		SignalIndex:         1,
		UseSoundboard:       []int{0},
		SignalDuration:      1.0,
		WaggleMaxGap:        7.0,
		WaggleMinCount:      3,
		WaggleMaxDistance:   200.0,
		QueueSize:           1024,
		DedupeSize:          10000,
		AzimuthRefreshS:     60,
		AzimuthFixedDeg:     180,
	}
}

// Validate checks ranges and required fields.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Addr == "" {
		add("addr must not be empty")
	}
	if c.WDDAddr == "" {
		add("wdd_addr must not be empty")
	}
	if c.WDDAuthKey == "" {
		add("wdd_authkey is required")
	}
	if c.CombConfig == "" {
		add("comb_config is required")
	}
	if c.SoundIndex < 0 || c.SoundIndex > 11 {
		add("sound_index must be within 0-11, got %d", c.SoundIndex)
	}
	if c.SignalIndex < 1 || c.SignalIndex > 5 {
		add("signal_index must be within 1-5, got %d", c.SignalIndex)
	}
	for _, sb := range c.UseSoundboard {
		if sb != 0 && sb != 1 {
			add("use_soundboard entries must be 0 or 1, got %d", sb)
		}
	}
	if c.AllActuators && c.HardwiredSignals {
		add("all_actuators and hardwired_signals are mutually exclusive")
	}
	if c.SignalDuration <= 0 {
		add("signal_duration must be positive")
	}
	if c.WaggleMaxGap <= 0 {
		add("waggle_max_gap must be positive")
	}
	if c.WaggleMinCount < 2 {
		add("waggle_min_count must be at least 2, got %d", c.WaggleMinCount)
	}
	if c.WaggleMaxDistance <= 0 {
		add("waggle_max_distance must be positive")
	}
	if c.QueueSize <= 0 {
		add("queue_size must be positive")
	}
	if c.CharacterDelayMS < 0 {
		add("character_delay_ms must not be negative")
	}
	if c.ReconnectIntervalMS <= 0 {
		add("reconnect_interval_ms must be positive")
	}
	if c.AzimuthRefreshS <= 0 {
		add("azimuth_refresh_s must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Soundboards returns UseSoundboard, defaulting to soundboard 0.
func (c *Config) Soundboards() []int {
	if len(c.UseSoundboard) == 0 {
		return []int{0}
	}
	return c.UseSoundboard
}

// SignalHold returns SignalDuration as a duration.
func (c *Config) SignalHold() time.Duration {
	return time.Duration(c.SignalDuration * float64(time.Second))
}

// MaxGap returns WaggleMaxGap as a duration.
func (c *Config) MaxGap() time.Duration {
	return time.Duration(c.WaggleMaxGap * float64(time.Second))
}

// CharacterDelay returns CharacterDelayMS as a duration.
func (c *Config) CharacterDelay() time.Duration {
	return time.Duration(c.CharacterDelayMS) * time.Millisecond
}

// ReconnectInterval returns ReconnectIntervalMS as a duration.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.ReconnectIntervalMS) * time.Millisecond
}

// AzimuthRefresh returns AzimuthRefreshS as a duration.
func (c *Config) AzimuthRefresh() time.Duration {
	return time.Duration(c.AzimuthRefreshS * float64(time.Second))
}
