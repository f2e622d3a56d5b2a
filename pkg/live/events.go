package live

// EventType identifies what a session event carries.
type EventType string

const (
	EventStateChanged    EventType = "state_changed"
	EventUserTranscript  EventType = "user_transcript"
	EventModelTranscript EventType = "model_transcript"
	EventTurnComplete    EventType = "turn_complete"
	EventInterrupted     EventType = "interrupted"
	EventError           EventType = "error"
)

// Event is delivered on the session's event channel. Fields are populated
// according to Type: State for state changes, Text for transcript deltas,
// Turn for completed turns, Err for errors.
type Event struct {
	Type  EventType
	State State
	Text  string
	Turn  *Turn
	Err   error
}
