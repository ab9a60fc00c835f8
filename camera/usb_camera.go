package camera

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/blackjack/webcam"
)

const (
	V4L2_PIX_FMT_PJPG = 0x47504A50
	V4L2_PIX_FMT_YUYV = 0x56595559

	V4L2Path = "/dev/video0"
)

var supportedFormats = map[webcam.PixelFormat]bool{
	V4L2_PIX_FMT_PJPG: false,
	V4L2_PIX_FMT_YUYV: true,
}

// frame wait timeout in seconds, and how many timeouts in a row a shot survives
const (
	frameTimeout  = 5
	frameAttempts = 3
)

// frameSource is the part of *webcam.Webcam the device uses.
type frameSource interface {
	GetSupportedFormats() map[webcam.PixelFormat]string
	GetSupportedFrameSizes(webcam.PixelFormat) []webcam.FrameSize
	SetImageFormat(webcam.PixelFormat, uint32, uint32) (webcam.PixelFormat, uint32, uint32, error)
	StartStreaming() error
	WaitForFrame(timeout uint32) error
	ReadFrame() ([]byte, error)
	Close() error
}

type usbDevice struct {
	log *slog.Logger

	path      string
	outputDir string

	open func(path string) (frameSource, error)
}

// NewUSBDevice drives a V4L2 webcam. The timelapse frames are written as
// numbered JPEG files into the directory given to SetCaptureTarget.
func NewUSBDevice(log *slog.Logger, cfg *Config) Device {
	if log == nil {
		log = slog.Default()
	}
	d := &usbDevice{
		log:       log.With("svc", "camera"),
		path:      V4L2Path,
		outputDir: ".",
		open:      openWebcam,
	}
	if cfg != nil && cfg.V4L2Path != "" {
		d.path = cfg.V4L2Path
	}
	return d
}

func openWebcam(path string) (frameSource, error) {
	cam, err := webcam.Open(path)
	if err != nil {
		return nil, err
	}
	return cam, nil
}

// Detect lists the configured video device in the same table layout as
// gphoto2 --auto-detect, so the readiness rule is shared.
func (d *usbDevice) Detect(ctx context.Context) ([]string, error) {
	lines := []string{
		fmt.Sprintf("%-30s %s", "Model", "Port"),
		"----------------------------------------------------------",
	}

	cam, err := d.open(d.path)
	if err != nil {
		d.log.DebugContext(ctx, "fail to open camera", "path", d.path, "err", err)
		return lines, nil
	}
	defer cam.Close()

	if _, ok := pickFormat(cam.GetSupportedFormats()); !ok {
		d.log.WarnContext(ctx, "camera has no supported format", "path", d.path)
		return lines, nil
	}

	return append(lines, fmt.Sprintf("%-30s v4l2:%s", "USB camera (YUYV)", d.path)), nil
}

func (d *usbDevice) PrepareMount(ctx context.Context) error {
	d.log.DebugContext(ctx, "nothing to unmount for v4l2")
	return nil
}

func (d *usbDevice) SetCaptureTarget(ctx context.Context, target string) error {
	if err := os.MkdirAll(target, 0o755); err != nil {
		return fmt.Errorf("fail to create output dir: %w", err)
	}
	d.outputDir = target
	d.log.DebugContext(ctx, "capture target set", "dir", target)
	return nil
}

func (d *usbDevice) Capture(ctx context.Context, frames, intervalSeconds int) error {
	cam, err := d.open(d.path)
	if err != nil {
		return fmt.Errorf("fail to open camera: %w", err)
	}
	defer cam.Close()

	format, ok := pickFormat(cam.GetSupportedFormats())
	if !ok {
		return fmt.Errorf("found no supported formats")
	}

	sizes := FrameSizes(cam.GetSupportedFrameSizes(format))
	if len(sizes) == 0 {
		return fmt.Errorf("found no frame sizes")
	}
	sort.Sort(sizes)
	size := sizes[len(sizes)-1]

	f, w, h, err := cam.SetImageFormat(format, size.MaxWidth, size.MaxHeight)
	if err != nil {
		return fmt.Errorf("fail to set image format: %w", err)
	}
	d.log.InfoContext(ctx, "Set image format", "format", f, "width", w, "height", h)

	if err := cam.StartStreaming(); err != nil {
		return fmt.Errorf("fail to start streaming: %w", err)
	}

	interval := time.Duration(intervalSeconds) * time.Second
	for i := 0; i < frames; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(interval):
			}
		}

		frame, err := d.readFrame(ctx, cam)
		if err != nil {
			return fmt.Errorf("fail to read frame %d: %w", i, err)
		}

		img, err := encodeYUYV(frame, int(w), int(h))
		if err != nil {
			return err
		}

		name := filepath.Join(d.outputDir, fmt.Sprintf("image%06d.jpg", i))
		if err := os.WriteFile(name, img, 0o644); err != nil {
			return fmt.Errorf("fail to write shot: %w", err)
		}
		d.log.DebugContext(ctx, "shot taken", "n", i+1, "of", frames, "file", name)
	}

	return nil
}

func (d *usbDevice) readFrame(ctx context.Context, cam frameSource) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < frameAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := cam.WaitForFrame(frameTimeout); err != nil {
			d.log.WarnContext(ctx, "fail to wait for frame", "err", err)
			lastErr = err
			continue
		}
		frame, err := cam.ReadFrame()
		if err != nil {
			d.log.WarnContext(ctx, "fail to read frame", "err", err)
			lastErr = err
			continue
		}
		if len(frame) == 0 {
			lastErr = fmt.Errorf("empty frame")
			continue
		}
		return frame, nil
	}
	return nil, lastErr
}

func pickFormat(formats map[webcam.PixelFormat]string) (webcam.PixelFormat, bool) {
	for f := range formats {
		if supportedFormats[f] {
			return f, true
		}
	}
	return 0, false
}

// encodeYUYV converts a packed YUYV 4:2:2 frame into a JPEG.
func encodeYUYV(frame []byte, width, height int) ([]byte, error) {
	if len(frame) < width*height*2 {
		return nil, fmt.Errorf("short frame: %d bytes for %dx%d", len(frame), width, height)
	}

	yuyv := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for i := range yuyv.Cb {
		ii := i * 4
		yuyv.Y[i*2] = frame[ii]
		yuyv.Y[i*2+1] = frame[ii+2]
		yuyv.Cb[i] = frame[ii+1]
		yuyv.Cr[i] = frame[ii+3]
	}

	buf := &bytes.Buffer{}
	if err := jpeg.Encode(buf, yuyv, nil); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

type FrameSizes []webcam.FrameSize

func (slice FrameSizes) Len() int {
	return len(slice)
}

// For sorting purposes
func (slice FrameSizes) Less(i, j int) bool {
	ls := slice[i].MaxWidth * slice[i].MaxHeight
	rs := slice[j].MaxWidth * slice[j].MaxHeight
	return ls < rs
}

// For sorting purposes
func (slice FrameSizes) Swap(i, j int) {
	slice[i], slice[j] = slice[j], slice[i]
}
