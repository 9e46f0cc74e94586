//go:build linux

package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/blackjack/webcam"
)

// FourCC of the motion-JPEG pixel format.
const pixelFormatMJPG = webcam.PixelFormat(uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24)

// V4L2 control ids for mirroring.
const (
	cidHFlip = webcam.ControlID(0x00980914)
	cidVFlip = webcam.ControlID(0x00980915)
)

// V4L2 captures MJPEG directly from a Video4Linux device.
type V4L2 struct {
	Path string
	// BufferCount is the number of mmap buffers; 0 means 2.
	BufferCount uint32
}

func (v *V4L2) Open(cfg Config) (Session, error) {
	cam, err := webcam.Open(v.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", v.Path, err)
	}

	if _, ok := cam.GetSupportedFormats()[pixelFormatMJPG]; !ok {
		cam.Close()
		return nil, fmt.Errorf("%s: MJPG pixel format not supported", v.Path)
	}
	_, w, h, err := cam.SetImageFormat(pixelFormatMJPG, uint32(cfg.Width), uint32(cfg.Height))
	if err != nil {
		cam.Close()
		return nil, fmt.Errorf("%s: set format %s: %w", v.Path, cfg.Resolution(), err)
	}
	if int(w) != cfg.Width || int(h) != cfg.Height {
		slog.Info("camera adjusted resolution", "device", v.Path, "requested", cfg.Resolution(), "width", w, "height", h)
	}

	if cfg.Framerate > 0 {
		if err := cam.SetFramerate(float32(cfg.Framerate)); err != nil {
			slog.Debug("camera framerate not set", "device", v.Path, "err", err)
		}
	}
	for id, on := range map[webcam.ControlID]bool{cidHFlip: cfg.HFlip, cidVFlip: cfg.VFlip} {
		var val int32
		if on {
			val = 1
		}
		if err := cam.SetControl(id, val); err != nil {
			slog.Debug("camera flip control not set", "device", v.Path, "control", id, "err", err)
		}
	}

	n := v.BufferCount
	if n == 0 {
		n = 2
	}
	if err := cam.SetBufferCount(n); err != nil {
		cam.Close()
		return nil, fmt.Errorf("%s: set buffer count: %w", v.Path, err)
	}

	return &v4l2Session{path: v.Path, cam: cam}, nil
}

type v4l2Session struct {
	path string

	mu     sync.Mutex
	cam    *webcam.Webcam
	closed bool
}

// frameTimeout is how long one WaitForFrame call blocks, in seconds. It
// bounds how quickly a cancelled capture notices.
const frameTimeout = 1

// next blocks until the device delivers a frame or ctx ends. The returned
// slice aliases a driver buffer and is only valid until the next call.
func (s *v4l2Session) next(ctx context.Context) ([]byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		err := s.cam.WaitForFrame(frameTimeout)
		switch err.(type) {
		case nil:
		case *webcam.Timeout:
			continue
		default:
			return nil, fmt.Errorf("%s: wait for frame: %w", s.path, err)
		}

		frame, err := s.cam.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("%s: read frame: %w", s.path, err)
		}
		if len(frame) > 0 {
			return frame, nil
		}
	}
}

func (s *v4l2Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := s.cam.StartStreaming(); err != nil {
		return fmt.Errorf("%s: start streaming: %w", s.path, err)
	}
	return nil
}

func (s *v4l2Session) StartContinuousCapture(ctx context.Context, sink Sink) error {
	if err := s.start(); err != nil {
		return err
	}
	defer s.cam.StopStreaming()

	for {
		frame, err := s.next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		// Ingest copies, so the driver buffer can be reused afterwards.
		sink.Ingest(frame)
	}
}

func (s *v4l2Session) CaptureSingle(ctx context.Context) ([]byte, error) {
	if err := s.start(); err != nil {
		return nil, err
	}
	defer s.cam.StopStreaming()

	frame, err := s.next(ctx)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), frame...), nil
}

func (s *v4l2Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.cam.Close()
}
