// Package batch implements the offline conversation path: record a whole
// utterance, reject silence, then exchange it for a transcription and reply
// in one HTTP call.
package batch

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/voxlingua/voxlingua/pkg/audio"
)

// SilenceRMSThreshold is the normalized energy floor below which a recording
// is treated as silence and never sent to the service.
const SilenceRMSThreshold = 0.002

// ErrSilence reports that a recording carried no audible speech.
var ErrSilence = errors.New("recording is silent")

// Recorder accumulates microphone frames for one utterance.
type Recorder struct {
	mu     sync.Mutex
	frames [][]int16
	total  int
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append stores a copy of the frame.
func (r *Recorder) Append(frame []int16) {
	if len(frame) == 0 {
		return
	}
	cp := make([]int16, len(frame))
	copy(cp, frame)
	r.mu.Lock()
	r.frames = append(r.frames, cp)
	r.total += len(cp)
	r.mu.Unlock()
}

// Samples concatenates every recorded frame in order.
func (r *Recorder) Samples() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int16, 0, r.total)
	for _, f := range r.frames {
		out = append(out, f...)
	}
	return out
}

// Len returns the recorded sample count.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// Reset discards everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.total = 0
	r.mu.Unlock()
}

// IsSilent reports whether the samples fall below the silence floor.
func IsSilent(samples []int16) bool {
	return audio.RMS(samples) < SilenceRMSThreshold
}

// Request is the chat-with-audio call body.
type Request struct {
	Model        string `json:"model"`
	AudioBase64  string `json:"audio_base64"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	Language     string `json:"language,omitempty"`
}

// Result is the chat-with-audio response. LLMResponse and AudioBase64 are
// empty when the service only transcribed.
type Result struct {
	Transcription string `json:"transcription"`
	LLMResponse   string `json:"llm_response,omitempty"`
	AudioBase64   string `json:"audio_base64,omitempty"`
}

// ReplyAudio decodes the response audio, if any.
func (r *Result) ReplyAudio() ([]byte, error) {
	if r.AudioBase64 == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(r.AudioBase64)
}

// Client calls the batch chat-with-audio endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{baseURL: baseURL, httpClient: httpClient}
}

// ChatWithAudio encodes the recording as WAV and performs one call. Silent
// recordings fail with ErrSilence before any network traffic.
func (c *Client) ChatWithAudio(ctx context.Context, samples []int16, sampleRate int, model, systemPrompt, language string) (*Result, error) {
	if IsSilent(samples) {
		return nil, ErrSilence
	}
	wav, err := audio.EncodeSamplesWAV(samples, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}

	body, err := json.Marshal(Request{
		Model:        model,
		AudioBase64:  base64.StdEncoding.EncodeToString(wav),
		SystemPrompt: systemPrompt,
		Language:     language,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat-with-audio", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat with audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("chat with audio: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	return &result, nil
}
