package mjpeg

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// Part is one decoded image of a stream.
type Part struct {
	Header textproto.MIMEHeader
	Data   []byte
}

// Decoder reads parts from a multipart JPEG stream.
type Decoder struct {
	r *multipart.Reader
}

func NewDecoder(r io.Reader, boundary string) *Decoder {
	return &Decoder{r: multipart.NewReader(r, boundary)}
}

// NewDecoderFromResponse reads the boundary from the response Content-Type.
func NewDecoderFromResponse(res *http.Response) (*Decoder, error) {
	mediaType, params, err := mime.ParseMediaType(res.Header.Get("Content-Type"))
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(mediaType, "multipart/") {
		return nil, fmt.Errorf("not a multipart stream: %s", mediaType)
	}
	return NewDecoder(res.Body, strings.Trim(params["boundary"], "-")), nil
}

// Decode returns the next part. A Content-Length header that does not match
// the part body is an error.
func (d *Decoder) Decode() (*Part, error) {
	p, err := d.r.NextPart()
	if err != nil {
		return nil, err
	}
	defer p.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, p); err != nil {
		return nil, err
	}

	if cl := p.Header.Get("Content-Length"); cl != "" {
		n, err := strconv.Atoi(cl)
		if err != nil {
			return nil, fmt.Errorf("bad Content-Length %q: %w", cl, err)
		}
		if n != buf.Len() {
			return nil, fmt.Errorf("Content-Length %d does not match part size %d", n, buf.Len())
		}
	}
	return &Part{Header: p.Header, Data: buf.Bytes()}, nil
}
