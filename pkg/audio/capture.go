package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"runtime"
)

// ErrCaptureUnavailable reports that no microphone source could be opened.
var ErrCaptureUnavailable = errors.New("audio capture unavailable")

// FrameSource yields fixed-size sample frames until the source ends.
type FrameSource interface {
	// ReadFrame returns the next frame. The final frame may be short.
	// Returns io.EOF when the source is exhausted.
	ReadFrame() ([]int16, error)
	Close() error
}

// FrameProducer converts a raw f32le sample stream into int16 frames using
// saturating conversion.
type FrameProducer struct {
	r            io.ReadCloser
	frameSamples int
	buf          []byte
}

// NewFrameProducer wraps r, which must deliver little-endian float32 mono
// samples. frameSamples is the number of samples per frame.
func NewFrameProducer(r io.ReadCloser, frameSamples int) *FrameProducer {
	if frameSamples <= 0 {
		frameSamples = 1024
	}
	return &FrameProducer{
		r:            r,
		frameSamples: frameSamples,
		buf:          make([]byte, frameSamples*4),
	}
}

func (p *FrameProducer) ReadFrame() ([]int16, error) {
	n, err := io.ReadFull(p.r, p.buf)
	n -= n % 4
	if n == 0 {
		if err == nil || errors.Is(err, io.ErrUnexpectedEOF) {
			err = io.EOF
		}
		return nil, err
	}
	floats := make([]float32, n/4)
	for i := range floats {
		bits := uint32(p.buf[i*4]) | uint32(p.buf[i*4+1])<<8 | uint32(p.buf[i*4+2])<<16 | uint32(p.buf[i*4+3])<<24
		floats[i] = math.Float32frombits(bits)
	}
	return FloatsToInt16(floats), nil
}

func (p *FrameProducer) Close() error {
	return p.r.Close()
}

// MicCapture reads microphone audio through an ffmpeg subprocess emitting
// f32le at CaptureSampleRate.
type MicCapture struct {
	*FrameProducer
	cmd *exec.Cmd
}

// NewMicCapture opens the default microphone. Missing ffmpeg or an
// unsupported platform yields ErrCaptureUnavailable.
func NewMicCapture(frameSamples int) (*MicCapture, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("%w: ffmpeg not found in PATH", ErrCaptureUnavailable)
	}
	args, err := micFFmpegArgs(runtime.GOOS)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command("ffmpeg", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("open ffmpeg stdout: %w", err)
	}
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrCaptureUnavailable, err)
	}
	return &MicCapture{
		FrameProducer: NewFrameProducer(stdout, frameSamples),
		cmd:           cmd,
	}, nil
}

func micFFmpegArgs(goos string) ([]string, error) {
	switch goos {
	case "darwin":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "avfoundation", "-i", ":0",
			"-ac", "1", "-ar", fmt.Sprintf("%d", CaptureSampleRate),
			"-f", "f32le", "-",
		}, nil
	case "linux":
		return []string{
			"-hide_banner", "-loglevel", "error",
			"-f", "pulse", "-i", "default",
			"-ac", "1", "-ar", fmt.Sprintf("%d", CaptureSampleRate),
			"-f", "f32le", "-",
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported platform %s", ErrCaptureUnavailable, goos)
	}
}

func (m *MicCapture) Close() error {
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
		_ = m.cmd.Wait()
	}
	return m.FrameProducer.Close()
}
