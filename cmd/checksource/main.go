// Command checksource probes the configured video source and reports whether
// it is reachable and what streams it carries. Useful before pointing the
// controller at a camera.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/onnwee/camlive/config"
)

type probeOutput struct {
	Streams []struct {
		Index     int    `json:"index"`
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width,omitempty"`
		Height    int    `json:"height,omitempty"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
	} `json:"format"`
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if cfg.SourceURL == "" {
		slog.Error("SOURCE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	args := []string{"run", "--rm", "--network", "host", "--entrypoint", "ffprobe", cfg.AgentImage,
		"-v", "error", "-print_format", "json", "-show_streams", "-show_format"}
	if strings.HasPrefix(cfg.SourceURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	args = append(args, cfg.SourceURL)

	out, err := exec.CommandContext(ctx, "docker", args...).Output()
	if err != nil {
		var stderr string
		if ee, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(ee.Stderr))
		}
		slog.Error("source probe failed",
			slog.String("source", config.MaskURL(cfg.SourceURL)),
			slog.String("stderr", stderr),
			slog.Any("err", err))
		os.Exit(1)
	}

	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		slog.Error("unexpected ffprobe output", slog.Any("err", err))
		os.Exit(1)
	}

	fmt.Printf("source reachable (%s)\n", probe.Format.FormatName)
	for _, s := range probe.Streams {
		switch s.CodecType {
		case "video":
			fmt.Printf("  video: %s %dx%d\n", s.CodecName, s.Width, s.Height)
		default:
			fmt.Printf("  %s: %s\n", s.CodecType, s.CodecName)
		}
	}

	hasVideo := false
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			hasVideo = true
		}
	}
	if !hasVideo {
		fmt.Println("warning: no video stream found; the relay will fail")
		os.Exit(1)
	}
}
