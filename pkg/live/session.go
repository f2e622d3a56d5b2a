// Package live orchestrates a spoken conversation session: microphone frames
// stream out to the relay while model audio, transcription deltas, and turn
// boundaries stream back. It also drives the offline batch path, where a whole
// utterance is recorded and exchanged in one call.
package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/voxlingua/voxlingua/pkg/audio"
	"github.com/voxlingua/voxlingua/pkg/batch"
)

// Conn is the websocket surface the session needs from its relay connection.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens the relay connection for a live session.
type Dialer func(ctx context.Context) (Conn, error)

// Mode selects between streaming conversation and one-shot batch exchange.
type Mode int

const (
	ModeLive Mode = iota
	ModeBatch
)

// Config describes one session.
type Config struct {
	Mode Mode

	Model             string
	Voice             string
	SystemInstruction string
	Language          string

	// OpenMic is required in both modes.
	OpenMic func() (audio.FrameSource, error)

	// Dial and Sink are required in live mode.
	Dial Dialer
	Sink Sink

	// Clock defaults to the system clock.
	Clock Clock

	// BatchClient is required in batch mode.
	BatchClient *batch.Client

	Logger *slog.Logger
}

const textMessage = 1 // websocket text opcode

// Orchestrator owns at most one session at a time. Starting a new session
// stops the previous one first.
type Orchestrator struct {
	logger *slog.Logger

	// startMu serializes Start calls end to end so two racing starts cannot
	// both open a microphone.
	startMu sync.Mutex

	mu      sync.Mutex
	current *Session
}

func NewOrchestrator(logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{logger: logger}
}

// Start stops any running session and begins a new one.
func (o *Orchestrator) Start(ctx context.Context, cfg Config) (*Session, error) {
	o.startMu.Lock()
	defer o.startMu.Unlock()

	o.mu.Lock()
	prev := o.current
	o.current = nil
	o.mu.Unlock()

	if prev != nil {
		if _, err := prev.Stop(ctx); err != nil && !IsKind(err, ErrSilenceDetected) {
			o.logger.Warn("previous session stop failed", "error", err)
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = o.logger
	}
	s, err := startSession(ctx, cfg)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.current = s
	o.mu.Unlock()
	return s, nil
}

// Current returns the running session, if any.
func (o *Orchestrator) Current() *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.current
}

// Session is one conversation, live or batch.
type Session struct {
	cfg    Config
	logger *slog.Logger

	transcript *Transcript
	scheduler  *Scheduler
	recorder   *batch.Recorder

	mic  audio.FrameSource
	conn Conn

	mu    sync.Mutex
	state State

	wmu sync.Mutex // serializes relay writes

	events chan Event
	closed atomic.Bool
	wg     sync.WaitGroup

	// Set once the relay announced the upstream side is gone, so the
	// following read error is expected.
	remoteClosed atomic.Bool
}

func startSession(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.OpenMic == nil {
		return nil, newProtocolError("session config missing microphone opener", nil)
	}
	if cfg.Mode == ModeLive && (cfg.Dial == nil || cfg.Sink == nil) {
		return nil, newProtocolError("live session config missing dialer or sink", nil)
	}
	if cfg.Mode == ModeBatch && cfg.BatchClient == nil {
		return nil, newProtocolError("batch session config missing batch client", nil)
	}

	s := &Session{
		cfg:        cfg,
		logger:     cfg.Logger,
		transcript: NewTranscript(),
		state:      StateIdle,
		events:     make(chan Event, 64),
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.setState(StateRequestingMic)
	mic, err := cfg.OpenMic()
	if err != nil {
		s.setState(StateClosed)
		return nil, newCaptureError(err)
	}
	s.mic = mic

	if cfg.Mode == ModeBatch {
		s.recorder = batch.NewRecorder()
		s.setState(StateActive)
		s.wg.Add(1)
		go s.recordPump()
		return s, nil
	}

	s.scheduler = NewScheduler(cfg.Sink, audio.PlaybackSampleRate, cfg.Clock)

	s.setState(StateConnecting)
	conn, err := cfg.Dial(ctx)
	if err != nil {
		_ = mic.Close()
		s.setState(StateClosed)
		return nil, newConnectionError(err)
	}
	s.conn = conn

	if err := s.writeFrame(clientFrame{Type: "setup", Payload: s.setupPayload()}); err != nil {
		_ = mic.Close()
		_ = conn.Close()
		s.setState(StateClosed)
		return nil, newConnectionError(err)
	}
	s.setState(StateSetupSent)

	s.wg.Add(2)
	go s.micPump()
	go s.readPump()
	return s, nil
}

// Events is the session's event stream. It closes when the session stops.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript exposes the in-progress turn text.
func (s *Session) Transcript() *Transcript {
	return s.transcript
}

// SendText sends a typed user turn over the live session.
func (s *Session) SendText(text string) error {
	if s.cfg.Mode != ModeLive {
		return newProtocolError("text turns require a live session", nil)
	}
	if s.closed.Load() {
		return newProtocolError("session is closed", nil)
	}
	return s.writeFrame(clientFrame{Type: "client-content", Text: text})
}

// Stop ends the session. It is idempotent; later calls return nil results.
//
// In batch mode Stop performs the exchange: a silent recording fails with a
// silence error before any network call, otherwise the recording is sent and
// the result returned. In live mode the result is always nil.
func (s *Session) Stop(ctx context.Context) (*batch.Result, error) {
	if !s.closed.CompareAndSwap(false, true) {
		return nil, nil
	}
	s.setState(StateClosing)

	if s.cfg.Mode == ModeBatch {
		_ = s.mic.Close()
		s.wg.Wait()

		samples := s.recorder.Samples()
		if batch.IsSilent(samples) {
			s.finish()
			return nil, newSilenceError()
		}
		result, err := s.cfg.BatchClient.ChatWithAudio(
			ctx, samples, audio.CaptureSampleRate,
			s.cfg.Model, s.cfg.SystemInstruction, s.cfg.Language,
		)
		s.finish()
		if err != nil {
			if errors.Is(err, batch.ErrSilence) {
				return nil, newSilenceError()
			}
			return nil, newConnectionError(err)
		}
		return result, nil
	}

	// Best effort: tell the service the audio stream ended before closing.
	_ = s.writeFrame(clientFrame{Type: "stop-audio"})
	_ = s.mic.Close()
	_ = s.conn.Close()
	s.wg.Wait()
	s.scheduler.Flush()
	s.finish()
	return nil, nil
}

func (s *Session) finish() {
	s.setState(StateClosed)
	close(s.events)
}

func (s *Session) recordPump() {
	defer s.wg.Done()
	for {
		frame, err := s.mic.ReadFrame()
		if len(frame) > 0 {
			s.recorder.Append(frame)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.emit(Event{Type: EventError, Err: newCaptureError(err)})
			}
			return
		}
	}
}

func (s *Session) micPump() {
	defer s.wg.Done()
	for {
		frame, err := s.mic.ReadFrame()
		if len(frame) > 0 {
			data := base64.StdEncoding.EncodeToString(audio.Int16ToBytes(frame))
			if werr := s.writeFrame(clientFrame{Type: "audio", Data: data}); werr != nil {
				if !s.closed.Load() {
					s.setState(StateClosing)
					s.emit(Event{Type: EventError, Err: newConnectionError(werr)})
				}
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.emit(Event{Type: EventError, Err: newCaptureError(err)})
			}
			return
		}
	}
}

func (s *Session) readPump() {
	defer s.wg.Done()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// The connection is unusable either way; final teardown still
			// belongs to Stop.
			if !s.closed.Load() && !s.remoteClosed.Load() {
				s.setState(StateClosing)
				s.emit(Event{Type: EventError, Err: newConnectionError(err)})
			}
			return
		}
		s.handleServerMessage(data)
	}
}

func (s *Session) handleServerMessage(data []byte) {
	var env serverEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("unparseable server message", "error", err)
		return
	}

	switch env.Type {
	case "connected":
		s.setState(StateActive)
		return
	case "error":
		s.emit(Event{Type: EventError, Err: newProtocolError(env.Message, nil)})
		return
	case "closed":
		s.logger.Info("relay reported upstream closed", "code", env.Code)
		s.remoteClosed.Store(true)
		s.setState(StateClosing)
		return
	}

	sc := env.ServerContent
	if sc == nil {
		return
	}

	if sc.Interrupted {
		s.scheduler.Flush()
		s.setState(StateInterrupted)
		s.emit(Event{Type: EventInterrupted})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		s.transcript.AddUser(sc.InputTranscription.Text)
		s.emit(Event{Type: EventUserTranscript, Text: sc.InputTranscription.Text})
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		s.transcript.AddModel(sc.OutputTranscription.Text)
		s.emit(Event{Type: EventModelTranscript, Text: sc.OutputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				s.logger.Warn("bad model audio chunk", "error", err)
				continue
			}
			if err := s.scheduler.Enqueue(pcm); err != nil {
				s.emit(Event{Type: EventError, Err: newProtocolError("playback failed", err)})
			}
		}
		if s.State() == StateInterrupted {
			s.setState(StateActive)
		}
	}
	if sc.TurnComplete {
		turn := s.transcript.CompleteTurn()
		s.emit(Event{Type: EventTurnComplete, Turn: &turn})
		if s.State() == StateInterrupted {
			s.setState(StateActive)
		}
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	s.mu.Unlock()
	s.emit(Event{Type: EventStateChanged, State: st})
}

// emit delivers without blocking; a slow consumer loses events rather than
// stalling the pumps.
func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Session) writeFrame(frame clientFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("encode client frame: %w", err)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.conn.WriteMessage(textMessage, data)
}

type clientFrame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
	Data    string `json:"data,omitempty"`
	Text    string `json:"text,omitempty"`
}

func (s *Session) setupPayload() setupPayload {
	p := setupPayload{
		Model: s.cfg.Model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
	}
	if s.cfg.Voice != "" {
		p.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: s.cfg.Voice},
			},
		}
	}
	if s.cfg.SystemInstruction != "" {
		p.SystemInstruction = &systemInstruction{
			Parts: []textPart{{Text: s.cfg.SystemInstruction}},
		}
	}
	return p
}

type setupPayload struct {
	Model                    string             `json:"model"`
	GenerationConfig         generationConfig   `json:"generationConfig"`
	SystemInstruction        *systemInstruction `json:"systemInstruction,omitempty"`
	InputAudioTranscription  struct{}           `json:"inputAudioTranscription"`
	OutputAudioTranscription struct{}           `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []textPart `json:"parts"`
}

type textPart struct {
	Text string `json:"text"`
}

type serverEnvelope struct {
	Type          string         `json:"type"`
	Message       string         `json:"message"`
	Code          int            `json:"code"`
	ServerContent *serverContent `json:"serverContent"`
}

type serverContent struct {
	InputTranscription  *transcriptionDelta `json:"inputTranscription"`
	OutputTranscription *transcriptionDelta `json:"outputTranscription"`
	TurnComplete        bool                `json:"turnComplete"`
	Interrupted         bool                `json:"interrupted"`
	ModelTurn           *modelTurn          `json:"modelTurn"`
}

type transcriptionDelta struct {
	Text string `json:"text"`
}

type modelTurn struct {
	Parts []modelPart `json:"parts"`
}

type modelPart struct {
	InlineData *inlineData `json:"inlineData"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}
