// Package cameratest provides a scripted camera.Device for tests.
package cameratest

import (
	"context"
	"errors"
	"sync"
	"time"

	"hands/mjpeg-streamer/internal/camera"
)

// Device is a fake capture device. Chunks sent on Feed are pushed into the
// sink of whichever session is capturing. It records how many sessions
// were open at once so tests can assert exclusivity.
type Device struct {
	Feed chan []byte

	// Still is returned by CaptureSingle after StillDelay.
	Still      []byte
	StillDelay time.Duration
	StillErr   error

	// OpenErr makes Open fail.
	OpenErr error

	mu       sync.Mutex
	open     int
	maxOpen  int
	opened   int
	closed   int
	configs  []camera.Config
	capturer chan struct{}
}

// New returns a Device with an unbuffered Feed.
func New() *Device {
	return &Device{Feed: make(chan []byte)}
}

func (d *Device) Open(cfg camera.Config) (camera.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}
	d.open++
	d.opened++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	d.configs = append(d.configs, cfg)
	return &session{dev: d, done: make(chan struct{})}, nil
}

// Stats is a snapshot of the fake's counters.
type Stats struct {
	Open    int
	MaxOpen int
	Opened  int
	Closed  int
	Configs []camera.Config
}

func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		Open:    d.open,
		MaxOpen: d.maxOpen,
		Opened:  d.opened,
		Closed:  d.closed,
		Configs: append([]camera.Config(nil), d.configs...),
	}
}

// WaitClosed blocks until no session is open or the timeout passes.
func (d *Device) WaitClosed(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if d.Stats().Open == 0 {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return d.Stats().Open == 0
}

// ErrFailed is returned by a capture ended through Fail.
var ErrFailed = errors.New("cameratest: device failure")

type session struct {
	dev *Device

	once sync.Once
	done chan struct{}
}

// Fail makes the currently running continuous capture return ErrFailed.
func (d *Device) Fail() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.capturer != nil {
		close(d.capturer)
		d.capturer = nil
	}
}

func (s *session) StartContinuousCapture(ctx context.Context, sink camera.Sink) error {
	fail := make(chan struct{})
	s.dev.mu.Lock()
	s.dev.capturer = fail
	s.dev.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-fail:
			return ErrFailed
		case chunk := <-s.dev.Feed:
			sink.Ingest(chunk)
		}
	}
}

func (s *session) CaptureSingle(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, camera.ErrClosed
	case <-time.After(s.dev.StillDelay):
	}
	if s.dev.StillErr != nil {
		return nil, s.dev.StillErr
	}
	return append([]byte(nil), s.dev.Still...), nil
}

func (s *session) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.dev.mu.Lock()
		s.dev.open--
		s.dev.closed++
		s.dev.mu.Unlock()
	})
	return nil
}
