// Package framesink splits a raw MJPEG elementary stream into complete JPEG
// frames on start-of-image markers.
package framesink

import "bytes"

// soi is the JPEG start-of-image marker that opens every frame.
var soi = [2]byte{0xFF, 0xD8}

// Publisher receives each completed frame. The slice is never touched again
// by the Sink after it is handed over.
type Publisher interface {
	Publish(frame []byte)
}

// Sink accumulates bytes between start-of-image markers. A frame is
// published when the marker of the following frame arrives, so the last
// frame of a stream stays buffered until more data shows up.
//
// A Sink is driven by a single capture goroutine and is not safe for
// concurrent use.
type Sink struct {
	pub Publisher
	buf []byte
	// from is the first index in buf that may still begin a marker. It
	// trails the end of buf by one byte so a marker split across two
	// chunks is still found.
	from int

	frames uint64
}

// New returns a Sink that publishes frames to pub.
func New(pub Publisher) *Sink {
	return &Sink{pub: pub}
}

// Ingest appends chunk to the in-progress frame and publishes every frame
// closed by a marker inside it. Bytes before the very first marker are
// published as a frame only if there are any.
func (s *Sink) Ingest(chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.buf = append(s.buf, chunk...)

	for {
		i := s.index()
		if i < 0 {
			break
		}
		if i > 0 {
			frame := s.buf[:i:i]
			s.buf = append(make([]byte, 0, cap(s.buf)), s.buf[i:]...)
			s.frames++
			s.pub.Publish(frame)
		}
		// buf now starts with the marker; resume after it.
		s.from = len(soi)
	}

	if n := len(s.buf) - 1; n > s.from {
		s.from = n
	}
}

// Write implements io.Writer so a capture pipe can be copied into the sink.
func (s *Sink) Write(p []byte) (int, error) {
	s.Ingest(p)
	return len(p), nil
}

// Frames returns the number of frames published so far.
func (s *Sink) Frames() uint64 { return s.frames }

// Pending returns the size of the in-progress frame.
func (s *Sink) Pending() int { return len(s.buf) }

// Reset drops the in-progress frame.
func (s *Sink) Reset() {
	s.buf = nil
	s.from = 0
}

func (s *Sink) index() int {
	if s.from >= len(s.buf) {
		return -1
	}
	i := bytes.Index(s.buf[s.from:], soi[:])
	if i < 0 {
		return -1
	}
	return s.from + i
}
