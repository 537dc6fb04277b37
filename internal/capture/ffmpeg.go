// Package capture grabs still frames from the door camera.
package capture

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ErrCaptureUnavailable means no frame could be obtained from the camera.
var ErrCaptureUnavailable = errors.New("camera capture unavailable")

// maxFrameBytes bounds a single JPEG frame read from ffmpeg.
const maxFrameBytes = 10 * 1024 * 1024

// Source produces one encoded still image per call.
type Source interface {
	Capture(ctx context.Context) ([]byte, error)
}

// FFmpegSource grabs a single JPEG frame from an RTSP or HTTP camera.
type FFmpegSource struct {
	url     string
	timeout time.Duration
	binary  string
	logger  *slog.Logger
}

func NewFFmpegSource(url string, timeout time.Duration, logger *slog.Logger) *FFmpegSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpegSource{url: url, timeout: timeout, binary: "ffmpeg", logger: logger}
}

// Capture runs ffmpeg until the first complete frame arrives.
func (s *FFmpegSource) Capture(ctx context.Context) ([]byte, error) {
	if s.url == "" {
		return nil, fmt.Errorf("%w: no camera url configured", ErrCaptureUnavailable)
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, s.binary, captureArgs(s.url)...)
	cmd.WaitDelay = time.Second
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrCaptureUnavailable, err)
	}

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			s.logger.Warn("ffmpeg stderr", "output", scanner.Text())
		}
	}()

	frame, readErr := readFrame(bufio.NewReaderSize(stdout, 512*1024))
	if readErr != nil {
		_ = cmd.Process.Kill()
	}
	waitErr := cmd.Wait()

	if readErr != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if waitErr != nil {
			return nil, fmt.Errorf("%w: %v (ffmpeg: %v)", ErrCaptureUnavailable, readErr, waitErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, readErr)
	}
	return frame, nil
}

func captureArgs(url string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
	}

	if strings.HasPrefix(url, "rtsp://") || strings.HasPrefix(url, "rtsps://") {
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "5000000", // microseconds
		)
	} else if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		args = append(args,
			"-reconnect", "1",
			"-reconnect_delay_max", "2",
			"-timeout", "10000000",
		)
	}

	return append(args,
		"-i", url,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)
}

// readFrame returns the first complete JPEG (FF D8 ... FF D9) in r.
func readFrame(r *bufio.Reader) ([]byte, error) {
	if err := findJPEGStart(r); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("no frame received")
		}
		return nil, err
	}
	frame, err := readUntilJPEGEnd(r)
	if errors.Is(err, io.EOF) {
		return nil, errors.New("truncated frame")
	}
	return frame, err
}

func findJPEGStart(r *bufio.Reader) error {
	for {
		b, err := r.ReadByte()
		if err != nil {
			return err
		}
		if b != 0xFF {
			continue
		}
		b, err = r.ReadByte()
		if err != nil {
			return err
		}
		if b == 0xD8 {
			return nil
		}
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

		if len(data) > maxFrameBytes {
			return nil, fmt.Errorf("jpeg frame too large: %d bytes", len(data))
		}
	}
}
