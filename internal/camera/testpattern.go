package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TestPattern synthesises JPEG frames with a moving gradient and a frame
// counter. It needs no hardware.
type TestPattern struct {
	// Quality is the JPEG quality; 0 means 75.
	Quality int
}

func (p *TestPattern) Open(cfg Config) (Session, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("test pattern: invalid resolution %s", cfg.Resolution())
	}
	q := p.Quality
	if q == 0 {
		q = 75
	}
	return &patternSession{cfg: cfg, quality: q, done: make(chan struct{})}, nil
}

type patternSession struct {
	cfg     Config
	quality int

	mu     sync.Mutex
	n      int
	closed bool
	done   chan struct{}
}

func (s *patternSession) render() ([]byte, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.n++
	n := s.n
	s.mu.Unlock()

	w, h := s.cfg.Width, s.cfg.Height
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + n*4) * 255 / (w + 1)),
				G: uint8(y * 255 / (h + 1)),
				B: uint8(n * 8),
				A: 0xFF,
			})
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(8, 18),
	}
	d.DrawString(fmt.Sprintf("#%d %s", n, time.Now().Format("15:04:05.000")))

	out := flip(img, s.cfg.HFlip, s.cfg.VFlip)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, out, &jpeg.Options{Quality: s.quality}); err != nil {
		return nil, fmt.Errorf("test pattern: encode: %w", err)
	}
	return buf.Bytes(), nil
}

func flip(src *image.RGBA, h, v bool) image.Image {
	if !h && !v {
		return src
	}
	b := src.Bounds()
	dst := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			sx, sy := x, y
			if h {
				sx = b.Max.X - 1 - (x - b.Min.X)
			}
			if v {
				sy = b.Max.Y - 1 - (y - b.Min.Y)
			}
			dst.SetRGBA(x, y, src.RGBAAt(sx, sy))
		}
	}
	return dst
}

func (s *patternSession) StartContinuousCapture(ctx context.Context, sink Sink) error {
	rate := s.cfg.Framerate
	if rate <= 0 {
		rate = 1
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.done:
			return nil
		case <-ticker.C:
		}

		frame, err := s.render()
		if err == ErrClosed {
			return nil
		}
		if err != nil {
			return err
		}
		// Deliver in two pieces the way a pipe read would.
		half := len(frame) / 2
		sink.Ingest(frame[:half])
		sink.Ingest(frame[half:])
	}
}

func (s *patternSession) CaptureSingle(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.render()
}

func (s *patternSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.done)
	}
	return nil
}
