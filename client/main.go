package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hands/mjpeg-streamer/internal/mjpeg"
)

// Probe connects to a running streamer, decodes the multipart stream and
// reports per-frame sizes and the running frame rate.
func main() {
	streamURL := flag.String("url", "http://localhost:8000/stream.mjpg", "URL of the MJPEG stream.")
	frames := flag.Int("frames", 0, "Stop after this many frames; 0 streams until interrupted.")
	save := flag.String("save", "", "Write the last received frame to this file on exit.")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, *streamURL, nil)
	if err != nil {
		slog.Error("build request", "err", err)
		os.Exit(1)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Error("connect", "url", *streamURL, "err", err)
		os.Exit(1)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		slog.Error("unexpected status", "status", res.Status)
		os.Exit(1)
	}

	dec, err := mjpeg.NewDecoderFromResponse(res)
	if err != nil {
		slog.Error("not an MJPEG stream", "err", err)
		os.Exit(1)
	}

	slog.Info("streaming", "url", *streamURL)
	start := time.Now()
	var count int
	var last []byte
	for *frames == 0 || count < *frames {
		p, err := dec.Decode()
		if err != nil {
			if ctx.Err() == nil && err != io.EOF {
				slog.Warn("stream ended", "err", err)
			}
			break
		}
		count++
		last = p.Data
		fps := float64(count) / time.Since(start).Seconds()
		slog.Info("frame", "n", count, "bytes", len(p.Data), "fps", fps)
	}

	if *save != "" && last != nil {
		if err := os.WriteFile(*save, last, 0o644); err != nil {
			slog.Error("save frame", "path", *save, "err", err)
			os.Exit(1)
		}
		slog.Info("saved last frame", "path", *save)
	}
	slog.Info("stream finished", "frames", count, "elapsed", time.Since(start).Round(time.Millisecond))
}
