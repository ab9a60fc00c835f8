package timelapse

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var ErrInvalidParameters = errors.New("invalid timelapse parameters")

type Request struct {
	EventMinutes int
	VideoSeconds int
	FPS          int
}

type Result struct {
	IntervalSeconds int
	FrameCount      int
}

// Duration is the expected wall time of the whole capture, capped at the
// largest time.Duration.
func (r Result) Duration() time.Duration {
	const maxSeconds = math.MaxInt64 / int64(time.Second)
	frames, interval := int64(r.FrameCount), int64(r.IntervalSeconds)
	if interval != 0 && frames > maxSeconds/interval {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(frames*interval) * time.Second
}

func (r Request) Calculate() (Result, error) {
	return Calculate(r.EventMinutes, r.VideoSeconds, r.FPS)
}

// Calculate returns the interval between shots and the number of shots needed
// to fill videoSeconds of video at fps frames per second while the event lasts
// eventMinutes. All arithmetic is integer: the interval is truncated, so the
// capture may end slightly before the event does.
//
// Negative inputs are a caller error and panic.
func Calculate(eventMinutes, videoSeconds, fps int) (Result, error) {
	if eventMinutes < 0 || videoSeconds < 0 || fps < 0 {
		panic(fmt.Sprintf("timelapse: negative input (event=%d, video=%d, fps=%d)", eventMinutes, videoSeconds, fps))
	}

	if videoSeconds != 0 && fps > math.MaxInt/videoSeconds {
		return Result{}, fmt.Errorf("%w: frame count overflows (video=%ds, fps=%d)", ErrInvalidParameters, videoSeconds, fps)
	}
	if eventMinutes > math.MaxInt/60 {
		return Result{}, fmt.Errorf("%w: event duration overflows (event=%dmin)", ErrInvalidParameters, eventMinutes)
	}

	frames := fps * videoSeconds
	eventSeconds := eventMinutes * 60

	if frames == 0 {
		return Result{}, fmt.Errorf("%w: frame count is zero (video=%ds, fps=%d), division by zero", ErrInvalidParameters, videoSeconds, fps)
	}

	return Result{
		IntervalSeconds: eventSeconds / frames,
		FrameCount:      frames,
	}, nil
}
