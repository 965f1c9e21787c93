// Package config implements the Configuration struct spec.md section 6
// names (multicast addresses/port/TTL, sample rate, jitter bounds, host
// timeout, retransmit policy) as a YAML-loaded struct: Load starts
// from Default() and unmarshals the file over it, so any field the file
// does not mention keeps its default. cmd/wifiparty picks the file with
// its --config flag; it has no per-field flag overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full Wi-Fi Party configuration (spec.md section 6).
type Config struct {
	MulticastV4      string        `yaml:"multicast_v4"`
	MulticastV6      string        `yaml:"multicast_v6"`
	Port             int           `yaml:"port"`
	TTL              int           `yaml:"ttl"`
	SampleRate       int           `yaml:"sample_rate"`
	Channels         int           `yaml:"channels"`
	OpusFrameMS      float64       `yaml:"opus_frame_ms"`
	JitterMinFrames  int           `yaml:"jitter_min_frames"`
	JitterMaxFrames  int           `yaml:"jitter_max_frames"`
	JitterInitFrames int           `yaml:"jitter_init_frames"`
	HostTimeout      time.Duration `yaml:"host_timeout"`
	RetransmitSlack  time.Duration `yaml:"retransmit_slack"`
	MaxRetransmits   int           `yaml:"max_retransmit_attempts"`
	RetransmitRate   float64       `yaml:"retransmit_rate_per_sec"`
	NtpInterval      time.Duration `yaml:"ntp_interval"`
	HostSyncHz       float64       `yaml:"host_sync_hz"`
	Interface        string        `yaml:"interface"`
}

// Default returns spec.md's literal defaults.
func Default() Config {
	return Config{
		MulticastV4:      "239.255.43.2",
		MulticastV6:      "ff02::7667:7667",
		Port:             7667,
		TTL:              1,
		SampleRate:       48000,
		Channels:         2,
		OpusFrameMS:      5.0,
		JitterMinFrames:  2,
		JitterMaxFrames:  40,
		JitterInitFrames: 6,
		HostTimeout:      5 * time.Second,
		RetransmitSlack:  150 * time.Millisecond,
		MaxRetransmits:   3,
		RetransmitRate:   10,
		NtpInterval:      2 * time.Second,
		HostSyncHz:       5,
		Interface:        "",
	}
}

// Load reads path as YAML over top of Default(), so an incomplete file
// still produces a fully usable Config — the same "unspecified fields
// fall back to defaults" precedence the teacher's LoadConfig applies
// field-by-field after unmarshaling.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects a Config whose values would make the rest of the
// module misbehave rather than failing loudly at startup.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("config: invalid sample_rate %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("config: invalid channels %d (must be 1 or 2)", c.Channels)
	}
	if c.JitterMinFrames <= 0 || c.JitterMinFrames > c.JitterInitFrames || c.JitterInitFrames > c.JitterMaxFrames {
		return fmt.Errorf("config: jitter frame bounds must satisfy 0 < min <= init <= max, got min=%d init=%d max=%d",
			c.JitterMinFrames, c.JitterInitFrames, c.JitterMaxFrames)
	}
	return nil
}

// FrameSamples returns the Opus frame length in samples/channel at
// SampleRate (e.g. 240 at 48kHz/5ms).
func (c Config) FrameSamples() int {
	return int(float64(c.SampleRate) * c.OpusFrameMS / 1000.0)
}
