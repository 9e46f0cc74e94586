// Package camera defines what the streaming core needs from a capture
// device and provides the drivers that satisfy it.
package camera

import (
	"context"
	"errors"
	"fmt"
)

// ErrClosed is returned by a Session that has already been closed.
var ErrClosed = errors.New("camera: session closed")

// Config is the acquisition mode of one session.
type Config struct {
	Width     int
	Height    int
	Framerate int
	HFlip     bool
	VFlip     bool
}

// Resolution formats the size as WxH.
func (c Config) Resolution() string {
	return fmt.Sprintf("%dx%d", c.Width, c.Height)
}

// Sink receives the raw encoded stream in arbitrarily sized chunks.
type Sink interface {
	Ingest(chunk []byte)
}

// Device opens capture sessions. Implementations may assume that callers
// never hold two sessions at once; the capture package enforces that.
type Device interface {
	Open(cfg Config) (Session, error)
}

// Session is one open acquisition on a device.
type Session interface {
	// StartContinuousCapture pushes the encoded MJPEG stream into sink until
	// ctx ends, the session is closed, or the device fails. It returns nil
	// when stopped through ctx or Close.
	StartContinuousCapture(ctx context.Context, sink Sink) error

	// CaptureSingle returns one encoded JPEG still.
	CaptureSingle(ctx context.Context) ([]byte, error)

	Close() error
}

// Driver names accepted by Open.
const (
	DriverFFmpeg      = "ffmpeg"
	DriverV4L2        = "v4l2"
	DriverTestPattern = "testpattern"
)

// DeviceConfig selects and parameterises a driver.
type DeviceConfig struct {
	Driver      string
	Device      string
	InputFormat string
	Verbose     bool
}

// NewDevice returns the driver named by cfg.Driver.
func NewDevice(cfg DeviceConfig) (Device, error) {
	switch cfg.Driver {
	case DriverFFmpeg:
		return &FFmpeg{Input: cfg.Device, Format: cfg.InputFormat, Verbose: cfg.Verbose}, nil
	case DriverV4L2:
		return &V4L2{Path: cfg.Device}, nil
	case DriverTestPattern:
		return &TestPattern{}, nil
	default:
		return nil, fmt.Errorf("unknown camera driver %q", cfg.Driver)
	}
}
