package mjpeg

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"hands/mjpeg-streamer/internal/broadcast"
)

func TestWriteFrameFraming(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, Boundary)

	payload := []byte{0xFF, 0xD8, 1, 2, 3}
	if err := sw.WriteFrame(payload); err != nil {
		t.Fatalf("WriteFrame() error = %v", err)
	}

	want := "--FRAME\r\nContent-Type: image/jpeg\r\nContent-Length: 5\r\n\r\n" + string(payload) + "\r\n"
	if got := buf.String(); got != want {
		t.Fatalf("WriteFrame() wrote %q, want %q", got, want)
	}
	if sw.Frames() != 1 || sw.Bytes() != 5 {
		t.Fatalf("Frames() = %d, Bytes() = %d", sw.Frames(), sw.Bytes())
	}
}

func TestWriteFrameFlushesResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	sw := NewStreamWriter(rec, Boundary)
	if err := sw.WriteFrame([]byte("x")); err != nil {
		t.Fatal(err)
	}
	if !rec.Flushed {
		t.Fatal("response not flushed after part")
	}
}

type failingWriter struct {
	after int
}

func (w *failingWriter) Write(p []byte) (int, error) {
	if w.after == 0 {
		return 0, io.ErrClosedPipe
	}
	w.after--
	return len(p), nil
}

func TestRunStopsOnWriteError(t *testing.T) {
	b := broadcast.New()
	b.Publish([]byte("A"))

	sw := NewStreamWriter(&failingWriter{after: 3}, Boundary)
	done := make(chan error, 1)
	go func() { done <- sw.Run(context.Background(), b) }()

	deadline := time.Now().Add(time.Second)
	for b.Stats().Waiting == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	b.Publish([]byte("B"))

	select {
	case err := <-done:
		if !errors.Is(err, ErrClientGone) {
			t.Fatalf("Run() = %v, want ErrClientGone", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop on write error")
	}
	if sw.Frames() != 1 {
		t.Fatalf("Frames() = %d, want 1", sw.Frames())
	}
}

func TestRunStopsOnClose(t *testing.T) {
	b := broadcast.New()
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, Boundary)

	done := make(chan error, 1)
	go func() { done <- sw.Run(context.Background(), b) }()
	b.Close()

	select {
	case err := <-done:
		if !errors.Is(err, broadcast.ErrClosed) {
			t.Fatalf("Run() = %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop on Close")
	}
}

func TestDecoderReadsWriterOutput(t *testing.T) {
	var buf bytes.Buffer
	sw := NewStreamWriter(&buf, Boundary)
	frames := [][]byte{
		[]byte("\xff\xd8first"),
		[]byte("\xff\xd8\r\n--FRAM not a boundary"),
		{},
	}
	for _, f := range frames {
		if err := sw.WriteFrame(f); err != nil {
			t.Fatal(err)
		}
	}
	buf.WriteString("--FRAME--\r\n")

	dec := NewDecoder(&buf, Boundary)
	for i, want := range frames {
		p, err := dec.Decode()
		if err != nil {
			t.Fatalf("Decode() part %d error = %v", i, err)
		}
		if !bytes.Equal(p.Data, want) {
			t.Fatalf("part %d = %q, want %q", i, p.Data, want)
		}
		if ct := p.Header.Get("Content-Type"); ct != "image/jpeg" {
			t.Fatalf("part %d Content-Type = %q", i, ct)
		}
	}
}

func TestDecoderRejectsLengthMismatch(t *testing.T) {
	body := "--FRAME\r\nContent-Type: image/jpeg\r\nContent-Length: 9\r\n\r\nabc\r\n--FRAME\r\n"
	dec := NewDecoder(bytes.NewBufferString(body), Boundary)
	if _, err := dec.Decode(); err == nil {
		t.Fatal("Decode() accepted a wrong Content-Length")
	}
}
