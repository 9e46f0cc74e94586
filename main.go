package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"hands/mjpeg-streamer/internal/camera"
	"hands/mjpeg-streamer/internal/capture"
	"hands/mjpeg-streamer/internal/config"
	"hands/mjpeg-streamer/internal/server"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file.")
	addr := flag.String("addr", "", "Listen address, overrides listen_addr.")
	driver := flag.String("driver", "", "Camera driver: ffmpeg, v4l2 or testpattern.")
	device := flag.String("device", "", "Camera device path or ffmpeg input.")
	verbose := flag.Bool("verbose", false, "Enable verbose ffmpeg logs.")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fatal("config", err)
		}
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *driver != "" {
		cfg.Camera.Driver = *driver
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if *verbose {
		cfg.Camera.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		fatal("config", err)
	}

	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	gin.SetMode(cfg.GinMode)

	slog.Info("starting mjpeg-streamer",
		"driver", cfg.Camera.Driver,
		"device", cfg.Camera.Device,
		"stream", cfg.StreamCamera().Resolution(),
		"snapshot", cfg.SnapshotCamera().Resolution(),
	)

	dev, err := camera.NewDevice(cfg.Device())
	if err != nil {
		fatal("camera", err)
	}
	mgr := capture.NewManager(dev, capture.Config{
		Stream:          cfg.StreamCamera(),
		Snapshot:        cfg.SnapshotCamera(),
		OpenTimeout:     cfg.Stream.OpenTimeout,
		SnapshotTimeout: cfg.Snapshot.Timeout,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = server.New(mgr).Run(ctx, server.Options{
		Addr:            cfg.ListenAddr,
		AdminAddr:       cfg.AdminAddr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	})
	if err != nil {
		fatal("server", err)
	}
	slog.Info("stopped")
}

func fatal(what string, err error) {
	slog.Error(what, "err", err)
	os.Exit(1)
}
