// Package capture owns the camera device. It hands out reference-counted
// streaming subscriptions backed by one shared capture session, and takes
// one-shot stills, never letting two sessions be open at the same time.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"hands/mjpeg-streamer/internal/broadcast"
	"hands/mjpeg-streamer/internal/camera"
	"hands/mjpeg-streamer/internal/framesink"
)

var (
	// ErrCaptureUnavailable means the device could not be acquired or
	// opened for this request.
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrManagerClosed is returned once Close has been called.
	ErrManagerClosed = errors.New("capture manager closed")
)

// Config holds the acquisition modes and the time bounds for acquiring the
// device.
type Config struct {
	Stream   camera.Config
	Snapshot camera.Config

	// OpenTimeout bounds the wait for the device when a stream session has
	// to be started.
	OpenTimeout time.Duration
	// SnapshotTimeout bounds the wait for the device plus the capture.
	SnapshotTimeout time.Duration
}

// gate is a context-aware mutex.
type gate chan struct{}

func newGate() gate { return make(gate, 1) }

func (g gate) acquire(ctx context.Context) error {
	select {
	case g <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g gate) release() { <-g }

// Manager serialises every use of one camera device.
type Manager struct {
	dev camera.Device
	cfg Config

	// device is held by whichever session has the camera open.
	device gate
	// starting serialises stream session creation so concurrent first
	// subscribers share one session.
	starting gate

	mu     sync.Mutex
	stream *streamSession
	closed bool

	sessions  atomic.Uint64
	snapshots atomic.Uint64
}

// NewManager returns a Manager for dev.
func NewManager(dev camera.Device, cfg Config) *Manager {
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = 10 * time.Second
	}
	if cfg.SnapshotTimeout <= 0 {
		cfg.SnapshotTimeout = 10 * time.Second
	}
	return &Manager{
		dev:      dev,
		cfg:      cfg,
		device:   newGate(),
		starting: newGate(),
	}
}

type streamSession struct {
	id   string
	sess camera.Session
	bus  *broadcast.Broadcaster
	sink *framesink.Sink

	cancel context.CancelFunc
	done   chan struct{}

	// refs is guarded by Manager.mu.
	refs int
}

// Subscription is one consumer of the shared stream session.
type Subscription struct {
	ID string

	m    *Manager
	s    *streamSession
	once sync.Once
}

// Broadcaster returns the frame source of the subscribed session.
func (sub *Subscription) Broadcaster() *broadcast.Broadcaster { return sub.s.bus }

// SessionID identifies the capture session shared by this subscription.
func (sub *Subscription) SessionID() string { return sub.s.id }

// Release drops the subscription. Releasing the last one stops the capture
// session and frees the device. Release is idempotent.
func (sub *Subscription) Release() {
	sub.once.Do(func() { sub.m.release(sub.s) })
}

// Subscribe joins the running stream session or starts one. Starting waits
// for the device, so it blocks behind an in-flight snapshot.
func (m *Manager) Subscribe(ctx context.Context) (*Subscription, error) {
	if err := m.starting.acquire(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	defer m.starting.release()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if s := m.stream; s != nil && !s.bus.Closed() {
		s.refs++
		m.mu.Unlock()
		return m.newSubscription(s), nil
	}
	m.mu.Unlock()

	s, err := m.startStream(ctx)
	if err != nil {
		return nil, err
	}
	return m.newSubscription(s), nil
}

func (m *Manager) newSubscription(s *streamSession) *Subscription {
	return &Subscription{ID: uuid.NewString(), m: m, s: s}
}

func (m *Manager) startStream(ctx context.Context) (*streamSession, error) {
	waitCtx, cancel := context.WithTimeout(ctx, m.cfg.OpenTimeout)
	err := m.device.acquire(waitCtx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: camera busy: %v", ErrCaptureUnavailable, err)
	}

	sess, err := m.dev.Open(m.cfg.Stream)
	if err != nil {
		m.device.release()
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}

	bus := broadcast.New()
	runCtx, stop := context.WithCancel(context.Background())
	s := &streamSession{
		id:     uuid.NewString(),
		sess:   sess,
		bus:    bus,
		sink:   framesink.New(bus),
		cancel: stop,
		done:   make(chan struct{}),
		refs:   1,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		stop()
		sess.Close()
		m.device.release()
		return nil, ErrManagerClosed
	}
	m.stream = s
	m.mu.Unlock()
	m.sessions.Add(1)

	slog.Info("capture session started",
		"session", s.id,
		"resolution", m.cfg.Stream.Resolution(),
		"framerate", m.cfg.Stream.Framerate,
	)

	go m.run(runCtx, s)
	return s, nil
}

// run drives the capture source. When capture ends for any reason the
// broadcaster is closed so every consumer wakes up and releases.
func (m *Manager) run(ctx context.Context, s *streamSession) {
	defer close(s.done)

	if err := s.sess.StartContinuousCapture(ctx, s.sink); err != nil {
		slog.Warn("capture session failed", "session", s.id, "err", err)
	}
	s.bus.Close()
}

func (m *Manager) release(s *streamSession) {
	m.mu.Lock()
	s.refs--
	last := s.refs == 0
	if last && m.stream == s {
		m.stream = nil
	}
	m.mu.Unlock()

	if last {
		m.stop(s)
	}
}

func (m *Manager) stop(s *streamSession) {
	s.cancel()
	<-s.done
	if err := s.sess.Close(); err != nil {
		slog.Warn("capture session close failed", "session", s.id, "err", err)
	}
	m.device.release()
	slog.Info("capture session stopped", "session", s.id, "frames", s.sink.Frames())
}

// CaptureOne opens a dedicated session with cfg, takes one still and closes
// the session again before returning. It waits for the device, so it is
// serialised against other snapshots and against a running stream.
func (m *Manager) CaptureOne(ctx context.Context, cfg camera.Config) (broadcast.Frame, error) {
	if m.isClosed() {
		return broadcast.Frame{}, ErrManagerClosed
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.SnapshotTimeout)
	defer cancel()

	if err := m.device.acquire(ctx); err != nil {
		return broadcast.Frame{}, fmt.Errorf("%w: camera busy: %v", ErrCaptureUnavailable, err)
	}
	defer m.device.release()

	sess, err := m.dev.Open(cfg)
	if err != nil {
		return broadcast.Frame{}, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	defer sess.Close()

	data, err := sess.CaptureSingle(ctx)
	if err != nil {
		return broadcast.Frame{}, fmt.Errorf("capture still: %w", err)
	}
	n := m.snapshots.Add(1)
	return broadcast.Frame{Data: data, Seq: n, Timestamp: time.Now()}, nil
}

// Snapshot is CaptureOne with the configured snapshot mode.
func (m *Manager) Snapshot(ctx context.Context) (broadcast.Frame, error) {
	return m.CaptureOne(ctx, m.cfg.Snapshot)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Close refuses new work and stops the running stream session, which wakes
// all of its consumers. It then waits until the device is free or ctx ends.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	s := m.stream
	m.mu.Unlock()

	if s != nil {
		s.cancel()
	}

	if err := m.device.acquire(ctx); err != nil {
		return fmt.Errorf("wait for capture to stop: %w", err)
	}
	m.device.release()
	return nil
}

// Stats is a point-in-time view of a Manager.
type Stats struct {
	Session   string           `json:"session,omitempty"`
	Consumers int              `json:"consumers"`
	Sessions  uint64           `json:"sessions"`
	Snapshots uint64           `json:"snapshots"`
	Broadcast *broadcast.Stats `json:"broadcast,omitempty"`
}

func (m *Manager) Stats() Stats {
	st := Stats{
		Sessions:  m.sessions.Load(),
		Snapshots: m.snapshots.Load(),
	}

	m.mu.Lock()
	s := m.stream
	if s != nil {
		st.Session = s.id
		st.Consumers = s.refs
	}
	m.mu.Unlock()

	if s != nil {
		bs := s.bus.Stats()
		st.Broadcast = &bs
	}
	return st
}

// Active reports whether a stream session currently holds the camera.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}
