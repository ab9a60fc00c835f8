package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"strconv"
	"strings"
	"testing"

	"github.com/tuzkov/intervalometer/input"
	"github.com/tuzkov/intervalometer/timelapse"
)

// recordingDevice records device calls for verification.
type recordingDevice struct {
	lines []string
	calls []string

	detectErr  error
	mountErr   error
	targetErr  error
	captureErr error

	target          string
	frames          int
	intervalSeconds int
}

func (d *recordingDevice) Detect(ctx context.Context) ([]string, error) {
	d.calls = append(d.calls, "detect")
	return d.lines, d.detectErr
}

func (d *recordingDevice) PrepareMount(ctx context.Context) error {
	d.calls = append(d.calls, "prepareMount")
	return d.mountErr
}

func (d *recordingDevice) SetCaptureTarget(ctx context.Context, target string) error {
	d.calls = append(d.calls, "setCaptureTarget")
	d.target = target
	return d.targetErr
}

func (d *recordingDevice) Capture(ctx context.Context, frames, intervalSeconds int) error {
	d.calls = append(d.calls, "capture")
	d.frames, d.intervalSeconds = frames, intervalSeconds
	return d.captureErr
}

type mapSource map[string]string

func (m mapSource) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

var (
	headerOnly = []string{"Model  Port", "-----------"}
	withCamera = []string{"Model  Port", "-----------", "Nikon DSC D90 (PTP mode)  usb:001,004"}
)

func newTestSession(dev *recordingDevice, args mapSource, stdin string, cfg Config) (*Session, *bytes.Buffer) {
	out := &bytes.Buffer{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	prompt := input.NewPrompter(log, strings.NewReader(stdin), out, input.DefaultMaxAttempts)
	return New(log, cfg, dev, args, prompt, out), out
}

func TestRun_NotConnected(t *testing.T) {
	dev := &recordingDevice{lines: headerOnly}
	s, out := newTestSession(dev, mapSource{}, "60\n30\n24\ny\n", Config{})

	err := s.Run(testContext(t))
	if !errors.Is(err, ErrDeviceNotConnected) {
		t.Fatalf("err = %v, want ErrDeviceNotConnected", err)
	}
	if s.State() != Aborted {
		t.Errorf("state = %v, want %v", s.State(), Aborted)
	}
	if want := []string{"detect"}; !reflect.DeepEqual(dev.calls, want) {
		t.Errorf("calls = %v, want %v", dev.calls, want)
	}
	if !strings.Contains(out.String(), "connected and switched on") {
		t.Errorf("missing notice in %q", out.String())
	}
	if strings.Contains(out.String(), ">>>") {
		t.Errorf("should not prompt when camera is missing: %q", out.String())
	}
}

func TestRun_DetectError(t *testing.T) {
	boom := errors.New("gphoto2 not found")
	dev := &recordingDevice{detectErr: boom}
	s, _ := newTestSession(dev, mapSource{}, "", Config{})

	if err := s.Run(testContext(t)); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if s.State() != Aborted {
		t.Errorf("state = %v, want %v", s.State(), Aborted)
	}
}

func TestRun_ConfirmedFromArguments(t *testing.T) {
	dev := &recordingDevice{lines: withCamera}
	args := mapSource{ArgEvent: "60", ArgVideo: "30", ArgFPS: "24"}
	s, out := newTestSession(dev, args, "y\n", Config{})

	if err := s.Run(testContext(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != Done {
		t.Errorf("state = %v, want %v", s.State(), Done)
	}
	want := []string{"detect", "prepareMount", "setCaptureTarget", "capture"}
	if !reflect.DeepEqual(dev.calls, want) {
		t.Errorf("calls = %v, want %v", dev.calls, want)
	}
	if dev.frames != 720 || dev.intervalSeconds != 5 {
		t.Errorf("capture(%d, %d), want capture(720, 5)", dev.frames, dev.intervalSeconds)
	}
	if dev.target != DefaultCaptureTarget {
		t.Errorf("target = %q, want %q", dev.target, DefaultCaptureTarget)
	}

	summary := out.String()
	for _, want := range []string{"60 minutes", "30 seconds", "24 fps", "720 images", "5 seconds", "1h0m0s"} {
		if !strings.Contains(summary, want) {
			t.Errorf("summary misses %q:\n%s", want, summary)
		}
	}
}

func TestRun_InteractiveParameters(t *testing.T) {
	dev := &recordingDevice{lines: withCamera}
	s, out := newTestSession(dev, mapSource{ArgFPS: "1"}, "10\nten\n10\nY\n", Config{})

	if err := s.Run(testContext(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if dev.frames != 10 || dev.intervalSeconds != 60 {
		t.Errorf("capture(%d, %d), want capture(10, 60)", dev.frames, dev.intervalSeconds)
	}
	if strings.Contains(out.String(), "Frames per second (fps): ") {
		t.Error("fps was supplied and should not be prompted")
	}
	if n := strings.Count(out.String(), "video duration (seconds): "); n != 2 {
		t.Errorf("video prompted %d times, want 2", n)
	}
}

func TestRun_ConfirmationAnswers(t *testing.T) {
	cases := []struct {
		answer  string
		letters []string
		capture bool
	}{
		{"y", nil, true},
		{"Y", nil, true},
		{"s", []string{"s"}, true},
		{"S", []string{"s"}, true},
		{"y", []string{"s"}, false},
		{"n", nil, false},
		{"", nil, false},
		{"yes", nil, false},
		{"no", []string{"s"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.answer+"_"+strings.Join(tc.letters, ""), func(t *testing.T) {
			dev := &recordingDevice{lines: withCamera}
			args := mapSource{ArgEvent: "60", ArgVideo: "30", ArgFPS: "24"}
			s, out := newTestSession(dev, args, tc.answer+"\n", Config{Affirmative: tc.letters})

			if err := s.Run(testContext(t)); err != nil {
				t.Fatalf("Run: %v", err)
			}
			captured := dev.frames != 0
			if captured != tc.capture {
				t.Errorf("answer %q: captured = %v, want %v", tc.answer, captured, tc.capture)
			}
			if !tc.capture {
				if s.State() != Cancelled {
					t.Errorf("state = %v, want %v", s.State(), Cancelled)
				}
				if !strings.Contains(out.String(), "cancelled by the user") {
					t.Errorf("missing cancellation notice: %q", out.String())
				}
				if want := []string{"detect", "prepareMount"}; !reflect.DeepEqual(dev.calls, want) {
					t.Errorf("calls = %v, want %v", dev.calls, want)
				}
			}
		})
	}
}

func TestRun_ConfirmationEndOfInput(t *testing.T) {
	dev := &recordingDevice{lines: withCamera}
	args := mapSource{ArgEvent: "60", ArgVideo: "30", ArgFPS: "24"}
	s, _ := newTestSession(dev, args, "", Config{})

	if err := s.Run(testContext(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != Cancelled {
		t.Errorf("state = %v, want %v", s.State(), Cancelled)
	}
}

func TestRun_InputExhausted(t *testing.T) {
	dev := &recordingDevice{lines: withCamera}
	s, _ := newTestSession(dev, mapSource{}, "a\nb\nc\nd\ne\n", Config{})

	if err := s.Run(testContext(t)); !errors.Is(err, input.ErrInputExhausted) {
		t.Fatalf("err = %v, want ErrInputExhausted", err)
	}
	if s.State() != Aborted {
		t.Errorf("state = %v, want %v", s.State(), Aborted)
	}
	if want := []string{"detect", "prepareMount"}; !reflect.DeepEqual(dev.calls, want) {
		t.Errorf("calls = %v, want %v", dev.calls, want)
	}
}

func TestRun_InvalidArgument(t *testing.T) {
	dev := &recordingDevice{lines: withCamera}
	s, _ := newTestSession(dev, mapSource{ArgEvent: "0"}, "30\n24\ny\n", Config{})

	if err := s.Run(testContext(t)); !errors.Is(err, input.ErrInvalidArgument) {
		t.Fatalf("err = %v, want ErrInvalidArgument", err)
	}
	if dev.frames != 0 {
		t.Error("capture must not run")
	}
}

func TestRun_MountFailureIsNotFatal(t *testing.T) {
	dev := &recordingDevice{lines: withCamera, mountErr: errors.New("no gphoto2 mounts")}
	args := mapSource{ArgEvent: "10", ArgVideo: "10", ArgFPS: "1"}
	s, _ := newTestSession(dev, args, "y\n", Config{})

	if err := s.Run(testContext(t)); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != Done {
		t.Errorf("state = %v, want %v", s.State(), Done)
	}
}

func TestRun_CaptureErrors(t *testing.T) {
	boom := errors.New("camera busy")
	cases := []struct {
		name string
		dev  *recordingDevice
	}{
		{"target", &recordingDevice{lines: withCamera, targetErr: boom}},
		{"capture", &recordingDevice{lines: withCamera, captureErr: boom}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			args := mapSource{ArgEvent: "10", ArgVideo: "10", ArgFPS: "1"}
			s, _ := newTestSession(tc.dev, args, "y\n", Config{CaptureTarget: "0"})
			if err := s.Run(testContext(t)); !errors.Is(err, boom) {
				t.Fatalf("err = %v, want %v", err, boom)
			}
			if tc.dev.target != "0" {
				t.Errorf("target = %q, want \"0\"", tc.dev.target)
			}
			if s.State() != Aborted {
				t.Errorf("state = %v, want %v", s.State(), Aborted)
			}
		})
	}
}

func TestRun_OverflowingParameters(t *testing.T) {
	cases := map[string]mapSource{
		"event":  {ArgEvent: strconv.Itoa(math.MaxInt/60 + 1), ArgVideo: "30", ArgFPS: "24"},
		"frames": {ArgEvent: "60", ArgVideo: strconv.Itoa(math.MaxInt/2 + 1), ArgFPS: "2"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			dev := &recordingDevice{lines: withCamera}
			s, out := newTestSession(dev, args, "y\n", Config{})

			if err := s.Run(testContext(t)); !errors.Is(err, timelapse.ErrInvalidParameters) {
				t.Fatalf("err = %v, want ErrInvalidParameters", err)
			}
			if s.State() != Aborted {
				t.Errorf("state = %v, want %v", s.State(), Aborted)
			}
			if dev.frames != 0 {
				t.Errorf("capture should not run, frames = %d", dev.frames)
			}
			if strings.Contains(out.String(), "Interval between shots") {
				t.Errorf("summary printed for invalid parameters: %q", out.String())
			}
		})
	}
}

func TestRun_ZeroIntervalNotice(t *testing.T) {
	dev := &recordingDevice{lines: withCamera}
	args := mapSource{ArgEvent: "1", ArgVideo: "30", ArgFPS: "25"}
	s, out := newTestSession(dev, args, "n\n", Config{})

	if err := s.Run(testContext(t)); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out.String(), "back to back") {
		t.Errorf("missing zero interval notice: %q", out.String())
	}
}

func TestCheckDevice(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		want  DeviceStatus
		calls []string
	}{
		{"empty", nil, NotConnected, []string{"detect"}},
		{"header_only", headerOnly, NotConnected, []string{"detect"}},
		{"camera", withCamera, Connected, []string{"detect", "prepareMount"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dev := &recordingDevice{lines: tc.lines}
			s, _ := newTestSession(dev, nil, "", Config{})
			got, err := s.CheckDevice(testContext(t))
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("status = %v, want %v", got, tc.want)
			}
			if !reflect.DeepEqual(dev.calls, tc.calls) {
				t.Errorf("calls = %v, want %v", dev.calls, tc.calls)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	if Triggering.String() != "triggering" {
		t.Errorf("Triggering = %q", Triggering.String())
	}
	if State(99).String() != "state(99)" {
		t.Errorf("unknown = %q", State(99).String())
	}
}
