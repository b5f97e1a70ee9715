// Package capture grabs still frames from cameras and video sources.
package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/your-org/facegate/internal/config"
)

const maxFrameSize = 10 << 20

// ErrNoFrame is returned when the source closed before a full JPEG frame.
var ErrNoFrame = errors.New("no frame received")

// FFmpegCamera grabs one JPEG frame per Capture call by running ffmpeg
// against Source: a V4L2/AVFoundation/DirectShow device, a file, or an
// RTSP/HTTP stream URL.
type FFmpegCamera struct {
	Source  string
	Width   int
	Timeout time.Duration
	// Binary defaults to "ffmpeg" on PATH.
	Binary string
}

func NewFFmpegCamera(cfg config.CaptureConfig) *FFmpegCamera {
	return &FFmpegCamera{Source: cfg.Source, Width: cfg.Width, Timeout: 10 * time.Second}
}

// Capture implements faceauth.CaptureSource.
func (c *FFmpegCamera) Capture(ctx context.Context) ([]byte, error) {
	if c.Source == "" {
		return nil, errors.New("no capture source configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	bin := c.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(ctx, bin, c.args()...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	frame, readErr := readJPEGFrame(stdout)
	if readErr != nil {
		// Drain so ffmpeg can exit instead of blocking on a full pipe.
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if readErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("capture from %s: %w", c.Source, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			slog.Warn("ffmpeg stderr", "source", c.Source, "output", msg)
		}
		return nil, fmt.Errorf("capture from %s: %w", c.Source, readErr)
	}
	if waitErr != nil {
		slog.Debug("ffmpeg exited after frame", "source", c.Source, "error", waitErr)
	}
	return frame, nil
}

func (c *FFmpegCamera) args() []string {
	args := []string{"-hide_banner", "-loglevel", "error"}

	switch src := c.Source; {
	case strings.HasPrefix(src, "rtsp://"), strings.HasPrefix(src, "rtsps://"):
		args = append(args, "-rtsp_transport", "tcp", "-timeout", "5000000")
	case strings.HasPrefix(src, "http://"), strings.HasPrefix(src, "https://"):
		args = append(args, "-timeout", "10000000")
	case strings.HasPrefix(src, "/dev/video"):
		args = append(args, "-f", "v4l2")
	case strings.HasPrefix(src, "video="):
		args = append(args, "-f", "dshow")
	case runtime.GOOS == "darwin" && isDeviceIndex(src):
		args = append(args, "-f", "avfoundation")
	}

	args = append(args, "-i", c.Source, "-frames:v", "1")
	if c.Width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", c.Width))
	}
	return append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", "3", "pipe:1")
}

func isDeviceIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != ':' {
			return false
		}
	}
	return true
}

// readJPEGFrame returns the first complete JPEG (FF D8 ... FF D9) in r.
func readJPEGFrame(r io.Reader) ([]byte, error) {
	br := bufio.NewReaderSize(r, 256*1024)
	if err := findJPEGStart(br); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNoFrame
		}
		return nil, err
	}
	frame, err := readUntilJPEGEnd(br)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, ErrNoFrame
	}
	return frame, err
}

func findJPEGStart(r *bufio.Reader) error {
	prev := byte(0)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if prev == 0xFF && b == 0xD8 {
			return nil
		}
		prev = b
	}
}

func readUntilJPEGEnd(r *bufio.Reader) ([]byte, error) {
	data := []byte{0xFF, 0xD8}
	for {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		data = append(data, b)
		if b == 0xFF {
			next, err := r.ReadByte()
			if err != nil {
				return nil, err
			}
			data = append(data, next)
			if next == 0xD9 {
				return data, nil
			}
		}
		if len(data) > maxFrameSize {
			return nil, fmt.Errorf("jpeg frame larger than %d bytes", maxFrameSize)
		}
	}
}
