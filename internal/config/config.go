// Package config loads the streamer configuration from YAML.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"hands/mjpeg-streamer/internal/camera"
)

// Config is the complete streamer configuration.
type Config struct {
	ListenAddr      string        `yaml:"listen_addr"`
	AdminAddr       string        `yaml:"admin_addr"` // /health and /stats; disabled when empty
	LogLevel        string        `yaml:"log_level"`
	GinMode         string        `yaml:"gin_mode"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Camera   CameraConfig   `yaml:"camera"`
	Stream   StreamConfig   `yaml:"stream"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// CameraConfig selects the capture driver.
type CameraConfig struct {
	Driver      string `yaml:"driver"`       // ffmpeg, v4l2, testpattern
	Device      string `yaml:"device"`       // /dev/video0, or the ffmpeg -i argument
	InputFormat string `yaml:"input_format"` // ffmpeg -f for the input
	HFlip       bool   `yaml:"hflip"`
	VFlip       bool   `yaml:"vflip"`
	Verbose     bool   `yaml:"verbose"`
}

type Mode struct {
	Width     int `yaml:"width"`
	Height    int `yaml:"height"`
	Framerate int `yaml:"framerate"`
}

type StreamConfig struct {
	Mode        `yaml:",inline"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

type SnapshotConfig struct {
	Mode    `yaml:",inline"`
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ListenAddr:      ":8000",
		LogLevel:        "info",
		GinMode:         "release",
		ShutdownTimeout: 5 * time.Second,
		Camera: CameraConfig{
			Driver:      camera.DriverFFmpeg,
			Device:      "/dev/video0",
			InputFormat: "v4l2",
			HFlip:       true,
			VFlip:       true,
		},
		Stream: StreamConfig{
			Mode:        Mode{Width: 320, Height: 240, Framerate: 24},
			OpenTimeout: 10 * time.Second,
		},
		Snapshot: SnapshotConfig{
			Mode:    Mode{Width: 2592, Height: 1944, Framerate: 24},
			Timeout: 10 * time.Second,
		},
	}
}

// Load reads path on top of the defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("gin_mode must be debug, release or test, got %q", c.GinMode)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown_timeout must be positive")
	}

	switch c.Camera.Driver {
	case camera.DriverFFmpeg, camera.DriverV4L2:
		if c.Camera.Device == "" {
			return fmt.Errorf("camera.device is required for driver %s", c.Camera.Driver)
		}
	case camera.DriverTestPattern:
	default:
		return fmt.Errorf("camera.driver must be ffmpeg, v4l2 or testpattern, got %q", c.Camera.Driver)
	}

	if err := c.Stream.Mode.validate("stream"); err != nil {
		return err
	}
	if err := c.Snapshot.Mode.validate("snapshot"); err != nil {
		return err
	}
	if c.Stream.OpenTimeout <= 0 {
		return fmt.Errorf("stream.open_timeout must be positive")
	}
	if c.Snapshot.Timeout <= 0 {
		return fmt.Errorf("snapshot.timeout must be positive")
	}
	return nil
}

func (m Mode) validate(name string) error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("%s: resolution must be positive, got %dx%d", name, m.Width, m.Height)
	}
	if m.Framerate <= 0 {
		return fmt.Errorf("%s: framerate must be positive, got %d", name, m.Framerate)
	}
	return nil
}

// SlogLevel maps log_level onto a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log_level: %w", err)
	}
	return l, nil
}

// StreamCamera is the camera mode of streaming sessions.
func (c *Config) StreamCamera() camera.Config {
	return c.cameraConfig(c.Stream.Mode)
}

// SnapshotCamera is the camera mode of snapshot sessions.
func (c *Config) SnapshotCamera() camera.Config {
	return c.cameraConfig(c.Snapshot.Mode)
}

func (c *Config) cameraConfig(m Mode) camera.Config {
	return camera.Config{
		Width:     m.Width,
		Height:    m.Height,
		Framerate: m.Framerate,
		HFlip:     c.Camera.HFlip,
		VFlip:     c.Camera.VFlip,
	}
}

// Device is the driver selection for camera.NewDevice.
func (c *Config) Device() camera.DeviceConfig {
	return camera.DeviceConfig{
		Driver:      c.Camera.Driver,
		Device:      c.Camera.Device,
		InputFormat: c.Camera.InputFormat,
		Verbose:     c.Camera.Verbose,
	}
}
