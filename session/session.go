package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/tuzkov/intervalometer/camera"
	"github.com/tuzkov/intervalometer/input"
	"github.com/tuzkov/intervalometer/timelapse"
)

var ErrDeviceNotConnected = errors.New("camera not connected")

type DeviceStatus int

const (
	NotConnected DeviceStatus = iota
	Connected
)

func (s DeviceStatus) String() string {
	if s == Connected {
		return "connected"
	}
	return "not connected"
}

type State int

const (
	Idle State = iota
	CheckingDevice
	Aborted
	AcquiringParameters
	Calculating
	PresentingSummary
	AwaitingConfirmation
	Triggering
	Cancelled
	Done
)

var stateNames = [...]string{
	Idle:                 "idle",
	CheckingDevice:       "checking device",
	Aborted:              "aborted",
	AcquiringParameters:  "acquiring parameters",
	Calculating:          "calculating",
	PresentingSummary:    "presenting summary",
	AwaitingConfirmation: "awaiting confirmation",
	Triggering:           "triggering",
	Cancelled:            "cancelled",
	Done:                 "done",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Argument names, also used as the long flag names.
const (
	ArgEvent = "evento"
	ArgVideo = "video"
	ArgFPS   = "fps"
)

const (
	DefaultAffirmative   = "y"
	DefaultCaptureTarget = "1" // memory card
)

// Config holds the per-session camera and confirmation settings.
type Config struct {
	// CaptureTarget is passed to Device.SetCaptureTarget before shooting.
	CaptureTarget string
	// Affirmative lists the answers that start the capture, compared ignoring case.
	Affirmative []string
}

// Session runs one check, acquire, confirm and capture cycle against a device.
type Session struct {
	log    *slog.Logger
	cfg    Config
	device camera.Device
	args   input.ArgumentSource
	prompt *input.Prompter
	out    io.Writer

	state State
}

// New returns a Session. A nil log falls back to slog.Default, an empty
// CaptureTarget to DefaultCaptureTarget and an empty Affirmative to
// DefaultAffirmative.
func New(log *slog.Logger, cfg Config, device camera.Device, args input.ArgumentSource, prompt *input.Prompter, out io.Writer) *Session {
	if log == nil {
		log = slog.Default()
	}
	if cfg.CaptureTarget == "" {
		cfg.CaptureTarget = DefaultCaptureTarget
	}
	if len(cfg.Affirmative) == 0 {
		cfg.Affirmative = []string{DefaultAffirmative}
	}
	return &Session{
		log:    log.With("svc", "session"),
		cfg:    cfg,
		device: device,
		args:   args,
		prompt: prompt,
		out:    out,
	}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) setState(ctx context.Context, st State) {
	s.log.DebugContext(ctx, "state", "from", s.state, "to", st)
	s.state = st
}

// Run goes through one capture session. A user who declines the capture
// ends the session without error; see State for how it ended.
func (s *Session) Run(ctx context.Context) error {
	s.setState(ctx, CheckingDevice)
	status, err := s.CheckDevice(ctx)
	if err != nil {
		s.setState(ctx, Aborted)
		return err
	}
	if status != Connected {
		s.setState(ctx, Aborted)
		return ErrDeviceNotConnected
	}

	s.setState(ctx, AcquiringParameters)
	req, err := s.acquire()
	if err != nil {
		s.setState(ctx, Aborted)
		return err
	}

	s.setState(ctx, Calculating)
	res, err := req.Calculate()
	if err != nil {
		s.setState(ctx, Aborted)
		return err
	}
	s.log.InfoContext(ctx, "timelapse calculated", "frames", res.FrameCount, "interval", res.IntervalSeconds)

	s.setState(ctx, PresentingSummary)
	s.printSummary(req, res)

	s.setState(ctx, AwaitingConfirmation)
	question := fmt.Sprintf("\nWith these parameters, do you want to start the timelapse (%s/N)? ", s.cfg.Affirmative[0])
	if !s.prompt.Confirm(question, s.cfg.Affirmative...) {
		fmt.Fprint(s.out, "\n***** Image capture cancelled by the user *****\n\n")
		s.setState(ctx, Cancelled)
		return nil
	}

	s.setState(ctx, Triggering)
	if err := s.device.SetCaptureTarget(ctx, s.cfg.CaptureTarget); err != nil {
		s.setState(ctx, Aborted)
		return fmt.Errorf("fail to set capture target: %w", err)
	}
	s.log.InfoContext(ctx, "capture started", "frames", res.FrameCount, "interval", res.IntervalSeconds, "expected", res.Duration().String())
	if err := s.device.Capture(ctx, res.FrameCount, res.IntervalSeconds); err != nil {
		s.setState(ctx, Aborted)
		return fmt.Errorf("fail to capture timelapse: %w", err)
	}
	s.log.InfoContext(ctx, "capture finished")
	s.setState(ctx, Done)
	return nil
}

// CheckDevice reports whether a camera answers auto-detect. A connected
// camera is also unmounted so it can be triggered; a missing one gets a
// notice on the output.
func (s *Session) CheckDevice(ctx context.Context) (DeviceStatus, error) {
	lines, err := s.device.Detect(ctx)
	if err != nil {
		return NotConnected, fmt.Errorf("fail to detect camera: %w", err)
	}

	if len(lines) <= camera.DetectHeaderLines {
		fmt.Fprint(s.out, "\n+-----------------------------------------------------------------------+\n")
		fmt.Fprint(s.out, "|      Please make sure the camera is connected and switched on         |\n")
		fmt.Fprint(s.out, "+-----------------------------------------------------------------------+\n\n")
		return NotConnected, nil
	}

	// a failed unmount usually means nothing was mounted
	if err := s.device.PrepareMount(ctx); err != nil {
		s.log.WarnContext(ctx, "fail to prepare camera mount", "err", err)
	}
	return Connected, nil
}

func (s *Session) acquire() (timelapse.Request, error) {
	var (
		req timelapse.Request
		err error
	)
	req.EventMinutes, err = s.prompt.Acquire(s.args, ArgEvent, " >>> Enter the event duration (minutes): ")
	if err != nil {
		return req, err
	}
	req.VideoSeconds, err = s.prompt.Acquire(s.args, ArgVideo, " >>> Enter the desired video duration (seconds): ")
	if err != nil {
		return req, err
	}
	req.FPS, err = s.prompt.Acquire(s.args, ArgFPS, " >>> Frames per second (fps): ")
	if err != nil {
		return req, err
	}
	return req, nil
}

func (s *Session) printSummary(req timelapse.Request, res timelapse.Result) {
	fmt.Fprintf(s.out, "\n >>> Estimated event duration : %d minutes\n", req.EventMinutes)
	fmt.Fprintf(s.out, " >>> Desired timelapse length : %d seconds\n", req.VideoSeconds)
	fmt.Fprintf(s.out, " >>> Frames per second        : %d fps\n", req.FPS)
	fmt.Fprintf(s.out, "\n     * Number of captures    : %d images\n", res.FrameCount)
	fmt.Fprintf(s.out, "     * Interval between shots: %d seconds\n", res.IntervalSeconds)
	fmt.Fprintf(s.out, "     * Expected capture time : %s\n", res.Duration())
	if res.IntervalSeconds == 0 {
		fmt.Fprint(s.out, "\n     ! The event is too short for this video: shots will be taken back to back\n")
	}
}
