// Package agent supervises the external ffmpeg relay process that copies the
// video source into an ingest endpoint byte-for-byte. The process itself runs
// in a container; the Runtime interface is the lifecycle contract against the
// container runtime, and Supervisor layers health checks, restart-in-place,
// and crash-loop detection on top.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Runtime is the relay-process lifecycle contract: create/start, inspect,
// and stop-with-grace operations keyed by a stable name unique per agent.
type Runtime interface {
	// Launch starts a detached relay copying sourceURL into ingestURL under
	// the given name. A leftover process with the same name is removed first.
	Launch(ctx context.Context, name, sourceURL, ingestURL string) error
	// Alive reports whether the named relay is currently running.
	Alive(ctx context.Context, name string) (bool, error)
	// Stop terminates the named relay, allowing grace before a forced kill.
	// Stopping an already-stopped relay is not an error.
	Stop(ctx context.Context, name string, grace time.Duration) error
}

// DockerRuntime drives the relay via the docker CLI, one named container per
// agent running ffmpeg with stream copy (no re-encode).
type DockerRuntime struct {
	// Image is the ffmpeg container image.
	Image string
	// CommandTimeout bounds each docker CLI invocation.
	CommandTimeout time.Duration
}

func NewDockerRuntime(image string) *DockerRuntime {
	if image == "" {
		image = "linuxserver/ffmpeg:latest"
	}
	return &DockerRuntime{Image: image, CommandTimeout: 30 * time.Second}
}

// relayArgs builds the ffmpeg argument list: map first video stream and
// optional audio, copy both codecs, mux to FLV for RTMP ingest.
func relayArgs(sourceURL, ingestURL string) []string {
	args := []string{}
	if strings.HasPrefix(sourceURL, "rtsp://") {
		args = append(args, "-rtsp_transport", "tcp")
	}
	return append(args,
		"-i", sourceURL,
		"-map", "0:v:0",
		"-map", "0:a?",
		"-c:v", "copy",
		"-c:a", "copy",
		"-f", "flv",
		ingestURL,
	)
}

func (d *DockerRuntime) run(ctx context.Context, args ...string) (string, error) {
	timeout := d.CommandTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := exec.CommandContext(cctx, "docker", args...).CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

func (d *DockerRuntime) Launch(ctx context.Context, name, sourceURL, ingestURL string) error {
	// Clear any leftover container holding the name; --rm usually handles
	// this but a hard crash of the controller can leave one behind.
	_, _ = d.run(ctx, "stop", "-t", "2", name)
	_, _ = d.run(ctx, "rm", "-f", name)

	args := append([]string{
		"run", "-d",
		"--name", name,
		"--network", "host",
		"--rm",
		d.Image,
	}, relayArgs(sourceURL, ingestURL)...)

	out, err := d.run(ctx, args...)
	if err != nil {
		return err
	}
	id := out
	if len(id) > 12 {
		id = id[:12]
	}
	slog.Info("relay container started", slog.String("name", name), slog.String("container_id", id))
	return nil
}

func (d *DockerRuntime) Alive(ctx context.Context, name string) (bool, error) {
	out, err := d.run(ctx, "inspect", "-f", "{{.State.Running}}", name)
	if err != nil {
		// inspect on a missing container errors; that just means not running
		if strings.Contains(out, "No such object") || strings.Contains(err.Error(), "No such object") {
			return false, nil
		}
		return false, err
	}
	return out == "true", nil
}

func (d *DockerRuntime) Stop(ctx context.Context, name string, grace time.Duration) error {
	secs := int(grace / time.Second)
	if secs < 1 {
		secs = 1
	}
	if _, err := d.run(ctx, "stop", "-t", strconv.Itoa(secs), name); err != nil {
		slog.Debug("docker stop failed, forcing removal", slog.String("name", name), slog.Any("err", err))
	}
	_, _ = d.run(ctx, "rm", "-f", name)
	return nil
}
