package camera

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// FFmpeg captures through an ffmpeg subprocess that writes MJPEG to stdout.
type FFmpeg struct {
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
	// Input is passed to -i, e.g. /dev/video0 or "0" for avfoundation.
	Input string
	// Format is passed to -f before the input, e.g. v4l2 or avfoundation.
	Format  string
	Verbose bool
}

func (f *FFmpeg) binary() string {
	if f.Binary == "" {
		return "ffmpeg"
	}
	return f.Binary
}

// Open checks that the binary is runnable. The device itself is opened by
// the subprocess when capture starts.
func (f *FFmpeg) Open(cfg Config) (Session, error) {
	if _, err := exec.LookPath(f.binary()); err != nil {
		return nil, fmt.Errorf("ffmpeg not available: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &ffmpegSession{dev: f, cfg: cfg, ctx: ctx, cancel: cancel}, nil
}

// args builds the ffmpeg command line. single selects a one-frame still
// instead of an endless MJPEG stream.
func (f *FFmpeg) args(cfg Config, single bool) []string {
	var args []string
	if !f.Verbose {
		args = append(args, "-loglevel", "error")
	}
	args = append(args, "-hide_banner")
	if f.Format != "" {
		args = append(args, "-f", f.Format)
	}
	args = append(args,
		"-video_size", cfg.Resolution(),
		"-framerate", strconv.Itoa(cfg.Framerate),
		"-i", f.Input,
	)

	var filters []string
	if cfg.HFlip {
		filters = append(filters, "hflip")
	}
	if cfg.VFlip {
		filters = append(filters, "vflip")
	}
	if len(filters) > 0 {
		args = append(args, "-vf", strings.Join(filters, ","))
	}

	args = append(args, "-c:v", "mjpeg", "-q:v", "5")
	if single {
		args = append(args, "-frames:v", "1", "-f", "image2pipe")
	} else {
		args = append(args, "-f", "mjpeg")
	}
	return append(args, "-")
}

type ffmpegSession struct {
	dev    *FFmpeg
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

type sinkWriter struct{ sink Sink }

func (w sinkWriter) Write(p []byte) (int, error) {
	w.sink.Ingest(p)
	return len(p), nil
}

func (s *ffmpegSession) command(ctx context.Context, single bool) (*exec.Cmd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	cmd := exec.CommandContext(ctx, s.dev.binary(), s.dev.args(s.cfg, single)...)
	cmd.Stderr = os.Stderr
	return cmd, nil
}

func (s *ffmpegSession) StartContinuousCapture(ctx context.Context, sink Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	cmd, err := s.command(ctx, false)
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	_, copyErr := io.Copy(sinkWriter{sink}, stdout)
	waitErr := cmd.Wait()

	if ctx.Err() != nil {
		return nil
	}
	if waitErr != nil {
		return fmt.Errorf("ffmpeg exited: %w", waitErr)
	}
	if copyErr != nil {
		return fmt.Errorf("read ffmpeg output: %w", copyErr)
	}
	return fmt.Errorf("ffmpeg output ended: %w", io.ErrUnexpectedEOF)
}

func (s *ffmpegSession) CaptureSingle(ctx context.Context) ([]byte, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	cmd, err := s.command(ctx, true)
	if err != nil {
		return nil, err
	}
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("ffmpeg still capture: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("ffmpeg still capture: empty output")
	}
	return out, nil
}

func (s *ffmpegSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	return nil
}
