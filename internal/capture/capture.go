// Package capture grabs single frames from the workstation camera through ffmpeg.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/andresmejia3/visage/internal/utils"
)

const megabyte = 1024 * 1024

// ErrNoFrame is returned when the camera produced no decodable JPEG.
var ErrNoFrame = errors.New("camera produced no frame")

// Camera captures frames from a device using ffmpeg.
type Camera struct {
	Device string
	Format string // ffmpeg input format, defaults per OS
	// Frames grabbed per capture; only the last is returned so the sensor
	// can settle exposure on the first few.
	Frames  int
	Timeout time.Duration
}

// DefaultDevice returns the usual first camera for an OS.
func DefaultDevice(goos string) string {
	switch goos {
	case "darwin":
		return "0"
	case "windows":
		return "video=Integrated Camera"
	default:
		return "/dev/video0"
	}
}

// NewCamera returns a Camera for the current OS. Empty arguments use defaults.
func NewCamera(device, format string) *Camera {
	if device == "" {
		device = DefaultDevice(runtime.GOOS)
	}
	if format == "" {
		format = utils.CameraInputFormat(runtime.GOOS)
	}
	return &Camera{Device: device, Format: format, Frames: 5, Timeout: 15 * time.Second}
}

// Capture returns one JPEG frame.
func (c *Camera) Capture(ctx context.Context) ([]byte, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	frames := c.Frames
	if frames < 1 {
		frames = 1
	}
	ffmpeg := utils.NewCameraCmd(ctx, c.Format, c.Device, frames)

	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	frame, scanErr := lastFrame(bufio.NewScanner(out))
	waitErr := ffmpeg.Wait()

	if scanErr != nil {
		return nil, scanErr
	}
	if frame == nil {
		if waitErr != nil {
			return nil, fmt.Errorf("ffmpeg: %w: %s", waitErr, ffmpeg.Logs())
		}
		return nil, ErrNoFrame
	}
	return frame, nil
}

func lastFrame(scanner *bufio.Scanner) ([]byte, error) {
	scanner.Buffer(make([]byte, megabyte), 16*megabyte)
	scanner.Split(utils.SplitJpeg)

	var frame []byte
	for scanner.Scan() {
		frame = append(frame[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("frame scanner failed: %w", err)
	}
	return frame, nil
}

// Record films the camera for d and writes every frame into dir as
// frame_0000.jpg, frame_0001.jpg, ... It returns the number of frames written.
func (c *Camera) Record(ctx context.Context, d time.Duration, dir string) (int, error) {
	if d <= 0 {
		return 0, fmt.Errorf("record duration must be positive, got %s", d)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}

	ffmpeg := utils.NewRecordCmd(ctx, c.Format, c.Device, d.Seconds())
	out, err := ffmpeg.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := ffmpeg.Start(); err != nil {
		return 0, fmt.Errorf("start ffmpeg: %w", err)
	}

	n, writeErr := writeFrames(bufio.NewScanner(out), dir)
	waitErr := ffmpeg.Wait()
	if writeErr != nil {
		return n, writeErr
	}
	if n == 0 {
		if waitErr != nil {
			return 0, fmt.Errorf("ffmpeg: %w: %s", waitErr, ffmpeg.Logs())
		}
		return 0, ErrNoFrame
	}
	return n, nil
}

func writeFrames(scanner *bufio.Scanner, dir string) (int, error) {
	scanner.Buffer(make([]byte, megabyte), 16*megabyte)
	scanner.Split(utils.SplitJpeg)

	n := 0
	for scanner.Scan() {
		path := filepath.Join(dir, fmt.Sprintf("frame_%04d.jpg", n))
		if err := os.WriteFile(path, scanner.Bytes(), 0o644); err != nil {
			return n, err
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("frame scanner failed: %w", err)
	}
	return n, nil
}
