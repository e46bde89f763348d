package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// ClientConfig represents the complete client configuration
type ClientConfig struct {
	Transport TransportConfig `yaml:"transport"`
	Modem     ModemConfig     `yaml:"modem"`
	Remote    RemoteConfig    `yaml:"remote"`
	Stream    StreamConfig    `yaml:"stream"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig selects how the client reaches the server
type TransportConfig struct {
	Mode string `yaml:"mode"` // "modem" or "tcp"
}

// ModemConfig contains the serial AT modem parameters
type ModemConfig struct {
	Device      string `yaml:"device"`
	Baud        int    `yaml:"baud"`
	FastBaud    int    `yaml:"fast_baud"`
	SSID        string `yaml:"ssid"`
	Password    string `yaml:"password"`
	JoinTimeout int    `yaml:"join_timeout"` // seconds
}

// RemoteConfig identifies the session server
type RemoteConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StreamConfig contains capture and send scheduling parameters
type StreamConfig struct {
	StagingCapacity int     `yaml:"staging_capacity"` // bytes
	SendThreshold   int     `yaml:"send_threshold"`   // bytes
	StopGrace       float64 `yaml:"stop_grace"`       // seconds
	DisplayInterval float64 `yaml:"display_interval"` // seconds
}

// LoadClient reads and parses the client configuration file
func LoadClient(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ClientConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the client configuration
func (c *ClientConfig) Validate() error {
	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if c.Transport.Mode == "modem" {
		if err := c.Modem.Validate(); err != nil {
			return fmt.Errorf("modem config: %w", err)
		}
	}

	if err := c.Remote.Validate(); err != nil {
		return fmt.Errorf("remote config: %w", err)
	}

	if err := c.Stream.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	validModes := map[string]bool{"modem": true, "tcp": true}
	if !validModes[t.Mode] {
		return fmt.Errorf("mode must be 'modem' or 'tcp', got '%s'", t.Mode)
	}

	return nil
}

// Validate validates modem configuration
func (m *ModemConfig) Validate() error {
	if m.Device == "" {
		return fmt.Errorf("device cannot be empty")
	}

	if m.Baud < 9600 {
		return fmt.Errorf("baud must be at least 9600, got %d", m.Baud)
	}

	if m.FastBaud != 0 && m.FastBaud < m.Baud {
		return fmt.Errorf("fast_baud (%d) must be at least baud (%d)", m.FastBaud, m.Baud)
	}

	if m.SSID == "" {
		return fmt.Errorf("ssid cannot be empty")
	}

	return nil
}

// Validate validates remote configuration
func (r *RemoteConfig) Validate() error {
	if r.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	if r.Port < 1 || r.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", r.Port)
	}

	return nil
}

// Validate validates stream configuration
func (s *StreamConfig) Validate() error {
	if s.StagingCapacity < 1 {
		return fmt.Errorf("staging_capacity must be at least 1 byte, got %d", s.StagingCapacity)
	}

	if s.SendThreshold < 1 || s.SendThreshold > s.StagingCapacity {
		return fmt.Errorf("send_threshold must be between 1 and staging_capacity (%d), got %d",
			s.StagingCapacity, s.SendThreshold)
	}

	if s.StopGrace <= 0 {
		return fmt.Errorf("stop_grace must be positive, got %f", s.StopGrace)
	}

	if s.DisplayInterval <= 0 {
		return fmt.Errorf("display_interval must be positive, got %f", s.DisplayInterval)
	}

	return nil
}

// GetJoinTimeoutDuration returns the network join timeout as a time.Duration
func (m *ModemConfig) GetJoinTimeoutDuration() time.Duration {
	return time.Duration(m.JoinTimeout) * time.Second
}

// GetStopGraceDuration returns the stop grace period as a time.Duration
func (s *StreamConfig) GetStopGraceDuration() time.Duration {
	return time.Duration(s.StopGrace * float64(time.Second))
}

// GetDisplayIntervalDuration returns the display refresh interval as a time.Duration
func (s *StreamConfig) GetDisplayIntervalDuration() time.Duration {
	return time.Duration(s.DisplayInterval * float64(time.Second))
}
