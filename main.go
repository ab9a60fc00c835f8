package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tuzkov/intervalometer/camera"
	"github.com/tuzkov/intervalometer/input"
	"github.com/tuzkov/intervalometer/session"
	"github.com/tuzkov/intervalometer/timelapse"
)

const (
	exitOK           = 0
	exitFailure      = 1
	exitNotConnected = 2
	exitInput        = 3
	exitParameters   = 4
)

var loglevel = new(slog.LevelVar)

var rootCmd = &cobra.Command{
	Use:   "intervalometer",
	Short: "Timelapse calculator and trigger for a tethered camera",
	Long: `Calculates the interval between shots and the number of shots of a timelapse
from the event duration, the desired video duration and the frame rate, then
lets the camera take them. Missing values are asked for interactively.

Nothing checks the camera exposure against the interval: an exposure longer
than the interval makes shots overlap.`,
	Example:       "  intervalometer -e 60 -v 30 -n 24",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return entrypoint(cmd.Context(), cmd, os.Stdin, os.Stdout)
	},
}

func initConfig() {
	viper.SetDefault("loglevel", "info")
	viper.SetDefault("device", camera.TypeGPhoto2)
	viper.SetDefault("gphoto2.binary", camera.GPhoto2Binary)
	viper.SetDefault("gphoto2.mountBinary", camera.MountBinary)
	viper.SetDefault("gphoto2.captureTarget", session.DefaultCaptureTarget)
	viper.SetDefault("v4l2.path", camera.V4L2Path)
	viper.SetDefault("v4l2.outputDir", ".")
	viper.SetDefault("prompt.attempts", input.DefaultMaxAttempts)
	viper.SetDefault("confirm.affirmative", session.DefaultAffirmative)

	viper.SetConfigName("intervalometer")
	viper.AddConfigPath(".")
	viper.ReadInConfig()
}

func entrypoint(ctx context.Context, cmd *cobra.Command, stdin io.Reader, stdout io.Writer) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: loglevel,
	}))
	setLogLevel(viper.GetString("loglevel"))

	cfg := getConfig()
	log.Debug("config", "camera", cfg.Camera, "session", cfg.Session, "attempts", cfg.Attempts)

	device, err := newDevice(log, &cfg.Camera, stdout)
	if err != nil {
		return err
	}

	prompt := input.NewPrompter(log, stdin, stdout, cfg.Attempts)
	s := session.New(log, cfg.Session, device, input.NewFlagSource(cmd.Flags()), prompt, stdout)
	return s.Run(ctx)
}

type config struct {
	Camera   camera.Config
	Session  session.Config
	Attempts int
}

func getConfig() *config {
	cfg := &config{
		Camera: camera.Config{
			Type:          strings.ToLower(viper.GetString("device")),
			GPhoto2Binary: viper.GetString("gphoto2.binary"),
			MountBinary:   viper.GetString("gphoto2.mountBinary"),
			V4L2Path:      viper.GetString("v4l2.path"),
		},
		Session: session.Config{
			CaptureTarget: viper.GetString("gphoto2.captureTarget"),
			Affirmative:   viper.GetStringSlice("confirm.affirmative"),
		},
		Attempts: viper.GetInt("prompt.attempts"),
	}
	// a webcam has no memory card, frames go to a directory
	if cfg.Camera.Type == camera.TypeV4L2 {
		cfg.Session.CaptureTarget = viper.GetString("v4l2.outputDir")
	}
	return cfg
}

func newDevice(log *slog.Logger, cfg *camera.Config, out io.Writer) (camera.Device, error) {
	switch cfg.Type {
	case camera.TypeGPhoto2:
		return camera.NewGPhoto2(log, cfg, out), nil
	case camera.TypeV4L2:
		return camera.NewUSBDevice(log, cfg), nil
	default:
		return nil, fmt.Errorf("unsupported device type: %s", cfg.Type)
	}
}

func setLogLevel(level string) {
	level = strings.ToLower(level)
	switch level {
	case "debug":
		loglevel.Set(slog.LevelDebug)
	case "info":
		loglevel.Set(slog.LevelInfo)
	case "warn":
		loglevel.Set(slog.LevelWarn)
	case "error":
		loglevel.Set(slog.LevelError)
	default:
		slog.Warn("unknown log level, using INFO instead", "level", level)
		loglevel.Set(slog.LevelInfo)
	}
}

// exitCode maps a session outcome to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, session.ErrDeviceNotConnected):
		return exitNotConnected
	case errors.Is(err, input.ErrInputExhausted), errors.Is(err, input.ErrInvalidArgument):
		return exitInput
	case errors.Is(err, timelapse.ErrInvalidParameters):
		return exitParameters
	default:
		return exitFailure
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Flags().StringP(session.ArgEvent, "e", "", "estimated event duration (minutes)")
	rootCmd.Flags().StringP(session.ArgVideo, "v", "", "desired video duration (seconds)")
	rootCmd.Flags().StringP(session.ArgFPS, "n", "", "frames per second of the video (fps)")

	rootCmd.Flags().String("loglevel", "info", "log level: debug, info, warn or error")
	viper.BindPFlag("loglevel", rootCmd.Flags().Lookup("loglevel"))
	rootCmd.Flags().String("device", camera.TypeGPhoto2, "camera backend: gphoto2 or v4l2")
	viper.BindPFlag("device", rootCmd.Flags().Lookup("device"))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	cancel()
	// the missing camera notice was already printed
	if err != nil && !errors.Is(err, session.ErrDeviceNotConnected) {
		slog.Error("intervalometer", "err", err)
	}
	os.Exit(exitCode(err))
}
