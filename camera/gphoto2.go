package camera

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
)

const (
	GPhoto2Binary = "gphoto2"
	MountBinary   = "gvfs-mount"
)

type gphoto2 struct {
	log *slog.Logger

	binary      string
	mountBinary string
	out         io.Writer

	// run executes a prepared command; replaced in tests.
	run func(cmd *exec.Cmd) error
}

// NewGPhoto2 drives a camera through the gphoto2 command line tool.
// Output of the capture command is copied to out.
func NewGPhoto2(log *slog.Logger, cfg *Config, out io.Writer) Device {
	if log == nil {
		log = slog.Default()
	}
	g := &gphoto2{
		log:         log.With("svc", "camera"),
		binary:      GPhoto2Binary,
		mountBinary: MountBinary,
		out:         out,
		run:         (*exec.Cmd).Run,
	}
	if cfg != nil && cfg.GPhoto2Binary != "" {
		g.binary = cfg.GPhoto2Binary
	}
	if cfg != nil && cfg.MountBinary != "" {
		g.mountBinary = cfg.MountBinary
	}
	if g.out == nil {
		g.out = io.Discard
	}
	return g
}

// gphoto2 --auto-detect
func (g *gphoto2) Detect(ctx context.Context) ([]string, error) {
	output, err := g.output(ctx, g.binary, "--auto-detect")
	if err != nil {
		return nil, fmt.Errorf("fail to run %s --auto-detect: %w", g.binary, err)
	}

	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(output))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("fail to read auto-detect output: %w", err)
	}
	g.log.DebugContext(ctx, "auto-detect", "lines", len(lines))
	return lines, nil
}

// gvfs-mount -s gphoto2
// Unmounts every gphoto2 volume, otherwise the desktop keeps the camera busy.
func (g *gphoto2) PrepareMount(ctx context.Context) error {
	if _, err := g.output(ctx, g.mountBinary, "-s", "gphoto2"); err != nil {
		return fmt.Errorf("fail to unmount camera: %w", err)
	}
	return nil
}

// gphoto2 --set-config capturetarget=1
func (g *gphoto2) SetCaptureTarget(ctx context.Context, target string) error {
	if _, err := g.output(ctx, g.binary, "--set-config", "capturetarget="+target); err != nil {
		return fmt.Errorf("fail to set capture target: %w", err)
	}
	return nil
}

// gphoto2 --capture-image -F 720 -I 5
// gphoto2 keeps the timing itself; the call returns once the last frame is taken.
func (g *gphoto2) Capture(ctx context.Context, frames, intervalSeconds int) error {
	args := []string{
		"--capture-image",
		"-F", strconv.Itoa(frames),
		"-I", strconv.Itoa(intervalSeconds),
	}
	g.log.DebugContext(ctx, "gphoto2 args", "args", args)

	cmd := exec.CommandContext(ctx, g.binary, args...)
	cmd.Stdout = g.out
	cmd.Stderr = g.out
	if err := g.run(cmd); err != nil {
		return fmt.Errorf("fail to run %s: %w", g.binary, err)
	}
	return nil
}

func (g *gphoto2) output(ctx context.Context, name string, args ...string) ([]byte, error) {
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := g.run(cmd)
	g.log.DebugContext(ctx, "command output", "cmd", cmd.Args, "stdout", stdout.String(), "stderr", stderr.String())
	return stdout.Bytes(), err
}
