package main

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/voxlingua/voxlingua/pkg/audio"
	"github.com/voxlingua/voxlingua/pkg/live"
)

// ffplaySink renders scheduled PCM chunks by piping them to a long-lived
// ffplay process. Chunks are written when their start instant arrives, so
// back-to-back chunks play gaplessly through ffplay's own buffer.
type ffplaySink struct {
	mu    sync.Mutex
	cmd   *exec.Cmd
	stdin io.WriteCloser
}

func newFFplaySink() (*ffplaySink, error) {
	if _, err := exec.LookPath("ffplay"); err != nil {
		return nil, errors.New("ffplay is required for playback (install ffmpeg/ffplay and ensure it is in PATH)")
	}
	s := &ffplaySink{}
	if err := s.startLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *ffplaySink) startLocked() error {
	s.cmd = exec.Command("ffplay",
		"-nodisp",
		"-autoexit",
		"-loglevel", "error",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", audio.PlaybackSampleRate),
		"-ac", "1",
		"-i", "pipe:0",
	)
	stdin, err := s.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open ffplay stdin: %w", err)
	}
	s.cmd.Stdout = io.Discard
	s.cmd.Stderr = io.Discard
	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("start ffplay: %w", err)
	}
	s.stdin = stdin
	return nil
}

func (s *ffplaySink) write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return errors.New("ffplay stdin is not initialized")
	}
	_, err := s.stdin.Write(pcm)
	return err
}

// PlayAt arms a timer that writes the chunk when its slot arrives.
func (s *ffplaySink) PlayAt(pcm []byte, at time.Time, onDone func()) (live.Handle, error) {
	h := &ffplayHandle{onDone: onDone}
	h.timer = time.AfterFunc(time.Until(at), func() {
		_ = s.write(pcm)
		h.fire()
	})
	return h, nil
}

// Reset kills the player so buffered audio stops immediately, then restarts
// it for the next chunk. Used on model interruption.
func (s *ffplaySink) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	return s.startLocked()
}

func (s *ffplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
		_ = s.cmd.Wait()
	}
	s.stdin = nil
	return nil
}

type ffplayHandle struct {
	timer  *time.Timer
	once   sync.Once
	onDone func()
}

func (h *ffplayHandle) fire() {
	h.once.Do(func() {
		if h.onDone != nil {
			h.onDone()
		}
	})
}

func (h *ffplayHandle) Stop() {
	h.timer.Stop()
	h.fire()
}
