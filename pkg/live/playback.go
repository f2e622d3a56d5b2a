package live

import (
	"sync"
	"time"

	"github.com/voxlingua/voxlingua/pkg/audio"
)

// Clock abstracts the render timeline so scheduling is testable.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall-clock timeline used in production.
var SystemClock Clock = systemClock{}

// Handle controls one scheduled chunk.
type Handle interface {
	Stop()
}

// Sink renders PCM chunks at scheduled instants. PlayAt must not invoke
// onDone synchronously; onDone fires when the chunk finishes or is stopped.
type Sink interface {
	PlayAt(pcm []byte, at time.Time, onDone func()) (Handle, error)
}

// Scheduler lines model audio chunks up back to back on the sink timeline.
// Chunks arrive faster than real time; each one starts exactly where the
// previous one ends, or immediately if the cursor has fallen behind.
type Scheduler struct {
	clock      Clock
	sink       Sink
	sampleRate int

	mu        sync.Mutex
	nextStart time.Time
	active    map[Handle]struct{}
}

func NewScheduler(sink Sink, sampleRate int, clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock
	}
	return &Scheduler{
		clock:      clock,
		sink:       sink,
		sampleRate: sampleRate,
		active:     make(map[Handle]struct{}),
	}
}

// Enqueue schedules one PCM chunk at the cursor and advances the cursor by
// its duration.
func (s *Scheduler) Enqueue(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	start := s.nextStart
	if start.Before(now) {
		start = now
	}
	s.nextStart = start.Add(audio.Duration(pcm, s.sampleRate))

	var h Handle
	h, err := s.sink.PlayAt(pcm, start, func() {
		s.mu.Lock()
		delete(s.active, h)
		s.mu.Unlock()
	})
	if err != nil {
		return err
	}
	s.active[h] = struct{}{}
	return nil
}

// Flush stops everything scheduled and resets the cursor to now. Used on
// model interruption so the next chunk starts immediately.
func (s *Scheduler) Flush() {
	s.mu.Lock()
	handles := make([]Handle, 0, len(s.active))
	for h := range s.active {
		handles = append(handles, h)
	}
	s.active = make(map[Handle]struct{})
	s.nextStart = s.clock.Now()
	s.mu.Unlock()

	for _, h := range handles {
		h.Stop()
	}
}

// Pending returns the count of chunks scheduled but not yet finished.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}
