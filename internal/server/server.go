// Package server exposes the camera over HTTP: a single JPEG snapshot and a
// multipart MJPEG stream shared by any number of clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"hands/mjpeg-streamer/internal/broadcast"
	"hands/mjpeg-streamer/internal/capture"
	"hands/mjpeg-streamer/internal/mjpeg"
)

const (
	SnapshotPath = "/snapshot.jpg"
	StreamPath   = "/stream.mjpg"
)

// Server routes requests to the capture manager.
type Server struct {
	mgr    *capture.Manager
	engine *gin.Engine
}

// New builds the router. gin's mode must be set by the caller beforehand.
func New(mgr *capture.Manager) *Server {
	s := &Server{mgr: mgr}

	router := gin.Default()
	router.Use(func(c *gin.Context) {
		slog.Debug("incoming request", "method", c.Request.Method, "path", c.Request.URL.Path, "client", c.Request.RemoteAddr)
		c.Next()
	})

	router.GET(SnapshotPath, s.handleSnapshot)
	router.GET(StreamPath, s.handleStream)
	router.NoRoute(func(c *gin.Context) {
		c.AbortWithStatus(http.StatusNotFound)
	})

	s.engine = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

func setNoCache(c *gin.Context) {
	c.Header("Age", "0")
	c.Header("Cache-Control", "no-cache, private")
	c.Header("Pragma", "no-cache")
}

// abortConnection drops the connection without sending a response.
func abortConnection(c *gin.Context) {
	conn, _, err := c.Writer.Hijack()
	if err != nil {
		c.AbortWithStatus(http.StatusServiceUnavailable)
		return
	}
	conn.Close()
	c.Abort()
}

func (s *Server) handleSnapshot(c *gin.Context) {
	frame, err := s.mgr.Snapshot(c.Request.Context())
	if err != nil {
		slog.Warn("snapshot failed", "client", c.Request.RemoteAddr, "err", err)
		abortConnection(c)
		return
	}

	setNoCache(c)
	c.Header("Content-Length", strconv.Itoa(frame.Len()))
	c.Data(http.StatusOK, "image/jpeg", frame.Data)
}

func (s *Server) handleStream(c *gin.Context) {
	client := c.Request.RemoteAddr
	ctx := c.Request.Context()

	sub, err := s.mgr.Subscribe(ctx)
	if err != nil {
		slog.Warn("stream failed", "client", client, "err", err)
		abortConnection(c)
		return
	}
	defer sub.Release()

	setNoCache(c)
	c.Header("Content-Type", mjpeg.ContentType(mjpeg.Boundary))
	c.Status(http.StatusOK)
	c.Writer.Flush()

	slog.Info("added streaming client", "client", client, "consumer", sub.ID, "session", sub.SessionID())

	sw := mjpeg.NewStreamWriter(c.Writer, mjpeg.Boundary)
	err = sw.Run(ctx, sub.Broadcaster())

	attrs := []any{"client", client, "consumer", sub.ID, "frames", sw.Frames(), "bytes", sw.Bytes()}
	switch {
	case errors.Is(err, mjpeg.ErrClientGone), errors.Is(err, context.Canceled):
		slog.Info("removed streaming client", attrs...)
	case errors.Is(err, broadcast.ErrClosed):
		slog.Warn("capture ended, closing stream", attrs...)
	default:
		slog.Warn("stream ended", append(attrs, "err", err)...)
	}
}

// NewAdmin returns the handler of the optional admin listener.
func NewAdmin(mgr *capture.Manager) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, mgr.Stats())
	})
	return router
}

// Options configures Run.
type Options struct {
	Addr            string
	AdminAddr       string
	ShutdownTimeout time.Duration
}

// Run serves until ctx ends, then shuts down: request contexts are
// cancelled so stream handlers return, the listeners drain, and the capture
// manager releases the camera.
func (s *Server) Run(ctx context.Context, opts Options) error {
	base, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	servers := []*http.Server{{
		Addr:        opts.Addr,
		Handler:     s.engine,
		BaseContext: func(net.Listener) context.Context { return base },
	}}
	if opts.AdminAddr != "" {
		servers = append(servers, &http.Server{Addr: opts.AdminAddr, Handler: NewAdmin(s.mgr)})
	}

	errc := make(chan error, len(servers))
	for _, srv := range servers {
		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			for _, started := range servers {
				started.Close()
			}
			return fmt.Errorf("listen %s: %w", srv.Addr, err)
		}
		slog.Info("listening", "addr", ln.Addr().String())
		go func(srv *http.Server) {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errc <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errc:
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()

	cancelBase()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("server shutdown", "addr", srv.Addr, "err", err)
		}
	}
	if err := s.mgr.Close(shutdownCtx); err != nil {
		slog.Warn("capture shutdown", "err", err)
	}
	return runErr
}
