//go:build !linux

package camera

import (
	"errors"
	"runtime"
)

// V4L2 is only available on Linux.
type V4L2 struct {
	Path        string
	BufferCount uint32
}

func (v *V4L2) Open(cfg Config) (Session, error) {
	return nil, errors.New("v4l2 capture is not supported on " + runtime.GOOS)
}
