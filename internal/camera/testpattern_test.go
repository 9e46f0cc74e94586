package camera

import (
	"bytes"
	"context"
	"errors"
	"image/jpeg"
	"testing"
	"time"
)

type chunkSink struct {
	chunks chan []byte
}

func (s *chunkSink) Ingest(chunk []byte) {
	s.chunks <- append([]byte(nil), chunk...)
}

func TestTestPatternCaptureSingle(t *testing.T) {
	sess, err := (&TestPattern{}).Open(Config{Width: 64, Height: 48, Framerate: 10, HFlip: true})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer sess.Close()

	data, err := sess.CaptureSingle(context.Background())
	if err != nil {
		t.Fatalf("CaptureSingle() error = %v", err)
	}
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Fatalf("still does not start with SOI: % x", data[:4])
	}
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("jpeg.Decode() error = %v", err)
	}
	if b := img.Bounds(); b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("decoded size = %v", b)
	}
}

func TestTestPatternContinuousStopsOnClose(t *testing.T) {
	sess, err := (&TestPattern{}).Open(Config{Width: 32, Height: 32, Framerate: 100})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	sink := &chunkSink{chunks: make(chan []byte, 64)}
	errc := make(chan error, 1)
	go func() { errc <- sess.StartContinuousCapture(context.Background(), sink) }()

	select {
	case c := <-sink.chunks:
		if !bytes.HasPrefix(c, []byte{0xFF, 0xD8}) {
			t.Fatalf("first chunk does not start with SOI")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no chunk delivered")
	}

	sess.Close()
	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("StartContinuousCapture() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("capture did not stop after Close")
	}

	if _, err := sess.CaptureSingle(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("CaptureSingle() after Close = %v, want ErrClosed", err)
	}
}

func TestNewDevice(t *testing.T) {
	for _, driver := range []string{DriverFFmpeg, DriverV4L2, DriverTestPattern} {
		if _, err := NewDevice(DeviceConfig{Driver: driver}); err != nil {
			t.Errorf("NewDevice(%q) error = %v", driver, err)
		}
	}
	if _, err := NewDevice(DeviceConfig{Driver: "picamera"}); err == nil {
		t.Error("NewDevice(picamera) succeeded")
	}
}
