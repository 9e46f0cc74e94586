// Package mjpeg writes and reads multipart/x-mixed-replace JPEG streams.
package mjpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"hands/mjpeg-streamer/internal/broadcast"
)

// Boundary is the multipart boundary used by the stream endpoint.
const Boundary = "FRAME"

// ContentType returns the response media type for boundary.
func ContentType(boundary string) string {
	return "multipart/x-mixed-replace; boundary=" + boundary
}

// ErrClientGone wraps every failed write to the client connection. It is
// the normal way a stream ends.
var ErrClientGone = errors.New("mjpeg: client gone")

// Source is where a StreamWriter pulls frames from.
type Source interface {
	WaitNext(ctx context.Context, lastSeen uint64) (broadcast.Frame, error)
}

// StreamWriter frames JPEG images as multipart parts on one connection.
type StreamWriter struct {
	w        io.Writer
	flush    func() error
	boundary string
	hdr      []byte

	frames uint64
	bytes  uint64
}

// NewStreamWriter returns a StreamWriter on w. When w is an
// http.ResponseWriter every part is flushed to the client as soon as it is
// written.
func NewStreamWriter(w io.Writer, boundary string) *StreamWriter {
	sw := &StreamWriter{w: w, boundary: boundary}
	switch fw := w.(type) {
	case http.ResponseWriter:
		rc := http.NewResponseController(fw)
		sw.flush = rc.Flush
	case http.Flusher:
		sw.flush = func() error { fw.Flush(); return nil }
	}
	return sw
}

// WriteFrame writes one part:
//
//	--FRAME\r\n
//	Content-Type: image/jpeg\r\n
//	Content-Length: N\r\n
//	\r\n
//	<N bytes>\r\n
func (sw *StreamWriter) WriteFrame(data []byte) error {
	sw.hdr = fmt.Appendf(sw.hdr[:0],
		"--%s\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", sw.boundary, len(data))

	for _, b := range [][]byte{sw.hdr, data, crlf} {
		if _, err := sw.w.Write(b); err != nil {
			return fmt.Errorf("%w: %v", ErrClientGone, err)
		}
	}
	if sw.flush != nil {
		if err := sw.flush(); err != nil {
			return fmt.Errorf("%w: %v", ErrClientGone, err)
		}
	}

	sw.frames++
	sw.bytes += uint64(len(data))
	return nil
}

var crlf = []byte("\r\n")

// Run writes every frame src makes visible, starting with the current one,
// until a write fails, src is closed, or ctx ends. It never returns nil.
func (sw *StreamWriter) Run(ctx context.Context, src Source) error {
	var last uint64
	for {
		f, err := src.WaitNext(ctx, last)
		if err != nil {
			return err
		}
		if err := sw.WriteFrame(f.Data); err != nil {
			return err
		}
		last = f.Seq
	}
}

// Frames returns the number of parts written.
func (sw *StreamWriter) Frames() uint64 { return sw.frames }

// Bytes returns the number of image bytes written.
func (sw *StreamWriter) Bytes() uint64 { return sw.bytes }
