package camera

import (
	"strings"
	"testing"
)

func TestFFmpegArgs(t *testing.T) {
	f := &FFmpeg{Input: "/dev/video0", Format: "v4l2"}
	cfg := Config{Width: 320, Height: 240, Framerate: 24, HFlip: true, VFlip: true}

	tests := []struct {
		name   string
		single bool
		want   string
	}{
		{
			name: "stream",
			want: "-loglevel error -hide_banner -f v4l2 -video_size 320x240 -framerate 24 -i /dev/video0 -vf hflip,vflip -c:v mjpeg -q:v 5 -f mjpeg -",
		},
		{
			name:   "still",
			single: true,
			want:   "-loglevel error -hide_banner -f v4l2 -video_size 320x240 -framerate 24 -i /dev/video0 -vf hflip,vflip -c:v mjpeg -q:v 5 -frames:v 1 -f image2pipe -",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := strings.Join(f.args(cfg, tt.single), " ")
			if got != tt.want {
				t.Errorf("args() =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestFFmpegArgsVerboseNoFlip(t *testing.T) {
	f := &FFmpeg{Input: "0", Verbose: true}
	got := strings.Join(f.args(Config{Width: 640, Height: 480, Framerate: 10}, false), " ")
	want := "-hide_banner -video_size 640x480 -framerate 10 -i 0 -c:v mjpeg -q:v 5 -f mjpeg -"
	if got != want {
		t.Errorf("args() = %s, want %s", got, want)
	}
}

func TestFFmpegOpenMissingBinary(t *testing.T) {
	f := &FFmpeg{Binary: "definitely-not-an-ffmpeg-binary"}
	if _, err := f.Open(Config{}); err == nil {
		t.Fatal("Open() with missing binary succeeded")
	}
}
