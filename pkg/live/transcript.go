package live

import (
	"strings"
	"sync"
)

// Turn is one completed conversational exchange.
type Turn struct {
	UserText  string
	ModelText string
}

// Transcript accumulates per-channel transcription deltas for the turn in
// progress.
type Transcript struct {
	mu    sync.Mutex
	user  strings.Builder
	model strings.Builder
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// AddUser appends a user-channel delta.
func (t *Transcript) AddUser(delta string) {
	t.mu.Lock()
	t.user.WriteString(delta)
	t.mu.Unlock()
}

// AddModel appends a model-channel delta.
func (t *Transcript) AddModel(delta string) {
	t.mu.Lock()
	t.model.WriteString(delta)
	t.mu.Unlock()
}

// UserText returns the user text accumulated so far this turn.
func (t *Transcript) UserText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.user.String()
}

// ModelText returns the model text accumulated so far this turn.
func (t *Transcript) ModelText() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.model.String()
}

// CompleteTurn snapshots both channels and resets them for the next turn.
// The snapshot is the exact concatenation of every delta received this turn;
// whitespace carried by the deltas is preserved.
func (t *Transcript) CompleteTurn() Turn {
	t.mu.Lock()
	defer t.mu.Unlock()
	turn := Turn{
		UserText:  t.user.String(),
		ModelText: t.model.String(),
	}
	t.user.Reset()
	t.model.Reset()
	return turn
}
