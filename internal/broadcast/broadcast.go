// Package broadcast holds the latest encoded frame of a capture session and
// lets any number of consumers block until a newer one is published.
//
// Only one frame is ever retained. A consumer that falls behind skips the
// frames it missed and is handed whatever is current when it wakes up, so
// memory stays bounded no matter how many consumers there are or how slowly
// they drain.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrClosed is returned by WaitNext once the broadcaster has been torn down.
var ErrClosed = errors.New("broadcast: closed")

// Frame is one complete encoded image. Data is shared by every consumer and
// must not be modified after Publish.
type Frame struct {
	Data      []byte
	Seq       uint64
	Timestamp time.Time
}

// Len returns the encoded size of the frame in bytes.
func (f Frame) Len() int { return len(f.Data) }

// Stats is a point-in-time view of a Broadcaster.
type Stats struct {
	Seq        uint64    `json:"seq"`
	Waiting    int       `json:"waiting"`
	FrameBytes int       `json:"frame_bytes"`
	LastFrame  time.Time `json:"last_frame"`
	Closed     bool      `json:"closed"`
}

// Broadcaster is a single-slot publish/subscribe cell with sequence numbers.
//
// Publish closes the current ready channel and installs a fresh one while
// holding mu; WaitNext reads the sequence number and grabs the ready channel
// under the same lock, so a publish that lands between the check and the
// wait always closes the channel the waiter is about to block on.
type Broadcaster struct {
	mu      sync.Mutex
	current Frame
	seq     uint64
	ready   chan struct{}
	waiting int
	closed  bool
}

// New returns an empty Broadcaster. WaitNext(0) blocks until the first Publish.
func New() *Broadcaster {
	return &Broadcaster{ready: make(chan struct{})}
}

// Publish makes data the current frame, advances the sequence number by one
// and wakes every waiting consumer. It never waits on consumers. Publishing
// after Close is a no-op.
func (b *Broadcaster) Publish(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.seq++
	b.current = Frame{Data: data, Seq: b.seq, Timestamp: time.Now()}

	close(b.ready)
	b.ready = make(chan struct{})
}

// WaitNext blocks until the sequence number is strictly greater than
// lastSeen and returns the frame current at that moment. Frames published
// while the caller was busy are skipped.
//
// It returns ErrClosed after Close and ctx.Err() if ctx ends first.
func (b *Broadcaster) WaitNext(ctx context.Context, lastSeen uint64) (Frame, error) {
	for {
		b.mu.Lock()
		if b.seq > lastSeen {
			f := b.current
			b.mu.Unlock()
			return f, nil
		}
		if b.closed {
			b.mu.Unlock()
			return Frame{}, ErrClosed
		}
		ready := b.ready
		b.waiting++
		b.mu.Unlock()

		var err error
		select {
		case <-ready:
		case <-ctx.Done():
			err = ctx.Err()
		}

		b.mu.Lock()
		b.waiting--
		b.mu.Unlock()

		if err != nil {
			return Frame{}, err
		}
	}
}

// Latest returns the current frame without blocking. ok is false until the
// first Publish.
func (b *Broadcaster) Latest() (Frame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current, b.seq > 0
}

// Close tears the broadcaster down and wakes all waiters. A frame published
// before Close is still delivered to consumers that have not seen it yet;
// after that they get ErrClosed. Close is idempotent.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	close(b.ready)
}

// Closed reports whether Close has been called.
func (b *Broadcaster) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Stats returns a snapshot of the broadcaster state.
func (b *Broadcaster) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{
		Seq:        b.seq,
		Waiting:    b.waiting,
		FrameBytes: len(b.current.Data),
		LastFrame:  b.current.Timestamp,
		Closed:     b.closed,
	}
}
