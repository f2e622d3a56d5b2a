// Package protocol defines the message vocabulary spoken between clients and
// the relay, and the wire frames sent to the upstream speech service.
//
// Client frames are JSON objects with a "type" discriminator. Decoding is
// strict: each known type has required fields, and anything malformed is
// rejected with a *DecodeError so the bridge can reply with a single error
// message without tearing the connection down.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AudioMIMEType is the fixed MIME type attached to realtime audio chunks
// forwarded upstream. The capture side always produces 16 kHz mono PCM.
const AudioMIMEType = "audio/pcm;rate=16000"

// DecodeError describes a client frame that failed validation. The bridge
// replies with one error message and keeps the connection open.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// ErrUnknownType is returned for frames with an unrecognized type. Per the
// relay contract these are logged and dropped, not answered with an error.
type ErrUnknownType struct {
	Type string
}

func (e *ErrUnknownType) Error() string {
	return fmt.Sprintf("unsupported message type %q", e.Type)
}

// ClientSetup carries the session configuration forwarded verbatim as the
// upstream setup frame.
type ClientSetup struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ClientAudio carries one base64-encoded PCM frame.
type ClientAudio struct {
	Type string `json:"type"`
	Data string `json:"data"`
}

// ClientContent carries either a prebuilt content payload or a bare text
// string to be wrapped as a single complete user turn.
type ClientContent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Text    string          `json:"text,omitempty"`
}

// HasPayload reports whether the frame carries a content payload object.
// A literal JSON null or an absent field both count as no payload, so the
// bare text is used instead.
func (m ClientContent) HasPayload() bool {
	return isJSONObject(m.Payload)
}

// ClientStopAudio signals the end of the outbound audio stream.
type ClientStopAudio struct {
	Type string `json:"type"`
}

// DecodeClientMessage parses a raw client frame into one of the known
// message structs. It returns *DecodeError for malformed frames and
// *ErrUnknownType for unrecognized types.
func DecodeClientMessage(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)

	switch typ {
	case "setup":
		var msg ClientSetup
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid setup frame", "")
		}
		if !isJSONObject(msg.Payload) {
			return nil, badRequest("setup.payload must be an object", "payload")
		}
		return msg, nil
	case "audio":
		var msg ClientAudio
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid audio frame", "")
		}
		if msg.Data == "" {
			return nil, badRequest("audio.data is required", "data")
		}
		return msg, nil
	case "client-content":
		var msg ClientContent
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid client-content frame", "")
		}
		if !isJSONObject(msg.Payload) && strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("client-content requires payload or text", "payload")
		}
		return msg, nil
	case "stop-audio":
		return ClientStopAudio{Type: typ}, nil
	default:
		return nil, &ErrUnknownType{Type: typ}
	}
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(raw))
	return strings.HasPrefix(trimmed, "{") && strings.HasSuffix(trimmed, "}")
}

// Upstream frame construction. The upstream service speaks a different
// vocabulary than clients; these helpers perform the translation.

type upstreamSetup struct {
	Setup json.RawMessage `json:"setup"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	MediaChunks    []mediaChunk `json:"mediaChunks,omitempty"`
	AudioStreamEnd bool         `json:"audioStreamEnd,omitempty"`
}

type upstreamRealtime struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type upstreamContent struct {
	ClientContent json.RawMessage `json:"clientContent"`
}

type contentPart struct {
	Text string `json:"text"`
}

type contentTurn struct {
	Role  string        `json:"role"`
	Parts []contentPart `json:"parts"`
}

type singleTurnContent struct {
	Turns        []contentTurn `json:"turns"`
	TurnComplete bool          `json:"turnComplete"`
}

// SetupFrame wraps a setup payload in the upstream envelope.
func SetupFrame(payload json.RawMessage) ([]byte, error) {
	return json.Marshal(upstreamSetup{Setup: payload})
}

// AudioFrame wraps one base64 PCM chunk as an upstream realtime media chunk.
func AudioFrame(base64Data string) ([]byte, error) {
	return json.Marshal(upstreamRealtime{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{{MIMEType: AudioMIMEType, Data: base64Data}},
		},
	})
}

// ContentFrame forwards a prebuilt clientContent payload upstream.
func ContentFrame(payload json.RawMessage) ([]byte, error) {
	return json.Marshal(upstreamContent{ClientContent: payload})
}

// TextTurnFrame synthesizes a complete single-turn user content message from
// bare text.
func TextTurnFrame(text string) ([]byte, error) {
	payload, err := json.Marshal(singleTurnContent{
		Turns: []contentTurn{{
			Role:  "user",
			Parts: []contentPart{{Text: text}},
		}},
		TurnComplete: true,
	})
	if err != nil {
		return nil, err
	}
	return ContentFrame(payload)
}

// AudioStreamEndFrame signals upstream that the client audio stream ended.
func AudioStreamEndFrame() ([]byte, error) {
	return json.Marshal(upstreamRealtime{
		RealtimeInput: realtimeInput{AudioStreamEnd: true},
	})
}

// Relay-to-client control frames.

// Connected acknowledges that the upstream connection opened and the pending
// queue was flushed.
type Connected struct {
	Type string `json:"type"`
}

// ErrorMessage is the single reply sent for a malformed client frame or an
// upstream failure.
type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Closed notifies the client that the upstream connection closed.
type Closed struct {
	Type string `json:"type"`
	Code int    `json:"code"`
}

// ConnectedFrame returns the serialized connected acknowledgment.
func ConnectedFrame() []byte {
	b, _ := json.Marshal(Connected{Type: "connected"})
	return b
}

// ErrorFrame returns a serialized error reply.
func ErrorFrame(message string) []byte {
	b, _ := json.Marshal(ErrorMessage{Type: "error", Message: message})
	return b
}

// ClosedFrame returns a serialized closed notice carrying the upstream close
// code.
func ClosedFrame(code int) []byte {
	b, _ := json.Marshal(Closed{Type: "closed", Code: code})
	return b
}
