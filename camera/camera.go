package camera

import "context"

// Device is a tethered camera able to run a whole timelapse by itself.
type Device interface {
	// Detect returns the lines of the auto-detect listing, header included.
	Detect(ctx context.Context) ([]string, error)
	// PrepareMount releases the camera storage from the desktop so it can be driven.
	PrepareMount(ctx context.Context) error
	SetCaptureTarget(ctx context.Context, target string) error
	// Capture blocks until frames shots, intervalSeconds apart, were taken.
	Capture(ctx context.Context, frames, intervalSeconds int) error
}

// DetectHeaderLines is the size of an auto-detect listing with no camera in it.
const DetectHeaderLines = 2

const (
	TypeGPhoto2 = "gphoto2"
	TypeV4L2    = "v4l2"
)

type Config struct {
	Type string

	GPhoto2Binary string
	MountBinary   string

	V4L2Path string
}
