package protocol

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeClientMessage(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  any
	}{
		{
			name:  "setup",
			input: `{"type":"setup","payload":{"model":"m1"}}`,
			want:  ClientSetup{},
		},
		{
			name:  "audio",
			input: `{"type":"audio","data":"AAAA"}`,
			want:  ClientAudio{},
		},
		{
			name:  "client content with payload",
			input: `{"type":"client-content","payload":{"turns":[]}}`,
			want:  ClientContent{},
		},
		{
			name:  "client content with text",
			input: `{"type":"client-content","text":"hola"}`,
			want:  ClientContent{},
		},
		{
			name:  "stop audio",
			input: `{"type":"stop-audio"}`,
			want:  ClientStopAudio{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeClientMessage([]byte(tt.input))
			if err != nil {
				t.Fatalf("DecodeClientMessage: %v", err)
			}
			switch tt.want.(type) {
			case ClientSetup:
				if _, ok := got.(ClientSetup); !ok {
					t.Fatalf("got %T, want ClientSetup", got)
				}
			case ClientAudio:
				if _, ok := got.(ClientAudio); !ok {
					t.Fatalf("got %T, want ClientAudio", got)
				}
			case ClientContent:
				if _, ok := got.(ClientContent); !ok {
					t.Fatalf("got %T, want ClientContent", got)
				}
			case ClientStopAudio:
				if _, ok := got.(ClientStopAudio); !ok {
					t.Fatalf("got %T, want ClientStopAudio", got)
				}
			}
		})
	}
}

func TestDecodeClientMessageErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		param string
	}{
		{"not json", `{{{`, ""},
		{"setup without payload", `{"type":"setup"}`, "payload"},
		{"setup payload not object", `{"type":"setup","payload":"str"}`, "payload"},
		{"audio without data", `{"type":"audio"}`, "data"},
		{"client content empty", `{"type":"client-content"}`, "payload"},
		{"client content blank text", `{"type":"client-content","text":"  "}`, "payload"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeClientMessage([]byte(tt.input))
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Fatalf("got %v, want *DecodeError", err)
			}
			if de.Param != tt.param {
				t.Fatalf("param = %q, want %q", de.Param, tt.param)
			}
		})
	}
}

func TestDecodeClientMessageUnknownType(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{"type":"ping"}`))
	var ut *ErrUnknownType
	if !errors.As(err, &ut) {
		t.Fatalf("got %v, want *ErrUnknownType", err)
	}
	if ut.Type != "ping" {
		t.Fatalf("type = %q, want %q", ut.Type, "ping")
	}
}

func TestClientContentHasPayload(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"object payload", `{"type":"client-content","payload":{"turns":[]}}`, true},
		{"null payload with text", `{"type":"client-content","payload":null,"text":"hi"}`, false},
		{"absent payload with text", `{"type":"client-content","text":"hi"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeClientMessage([]byte(tt.raw))
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			cc, ok := msg.(ClientContent)
			if !ok {
				t.Fatalf("decoded %T, want ClientContent", msg)
			}
			if cc.HasPayload() != tt.want {
				t.Fatalf("HasPayload() = %v, want %v", cc.HasPayload(), tt.want)
			}
		})
	}
}

func TestAudioFrame(t *testing.T) {
	frame, err := AudioFrame("QUJD")
	if err != nil {
		t.Fatalf("AudioFrame: %v", err)
	}
	var decoded struct {
		RealtimeInput struct {
			MediaChunks []struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"mediaChunks"`
		} `json:"realtimeInput"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.RealtimeInput.MediaChunks) != 1 {
		t.Fatalf("chunks = %d, want 1", len(decoded.RealtimeInput.MediaChunks))
	}
	chunk := decoded.RealtimeInput.MediaChunks[0]
	if chunk.MIMEType != AudioMIMEType {
		t.Fatalf("mimeType = %q, want %q", chunk.MIMEType, AudioMIMEType)
	}
	if chunk.Data != "QUJD" {
		t.Fatalf("data = %q, want %q", chunk.Data, "QUJD")
	}
}

func TestSetupFrame(t *testing.T) {
	frame, err := SetupFrame(json.RawMessage(`{"model":"m1"}`))
	if err != nil {
		t.Fatalf("SetupFrame: %v", err)
	}
	if string(frame) != `{"setup":{"model":"m1"}}` {
		t.Fatalf("frame = %s", frame)
	}
}

func TestTextTurnFrame(t *testing.T) {
	frame, err := TextTurnFrame("bonjour")
	if err != nil {
		t.Fatalf("TextTurnFrame: %v", err)
	}
	var decoded struct {
		ClientContent struct {
			Turns []struct {
				Role  string `json:"role"`
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"turns"`
			TurnComplete bool `json:"turnComplete"`
		} `json:"clientContent"`
	}
	if err := json.Unmarshal(frame, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	cc := decoded.ClientContent
	if !cc.TurnComplete {
		t.Fatal("turnComplete = false, want true")
	}
	if len(cc.Turns) != 1 || cc.Turns[0].Role != "user" {
		t.Fatalf("turns = %+v", cc.Turns)
	}
	if len(cc.Turns[0].Parts) != 1 || cc.Turns[0].Parts[0].Text != "bonjour" {
		t.Fatalf("parts = %+v", cc.Turns[0].Parts)
	}
}

func TestAudioStreamEndFrame(t *testing.T) {
	frame, err := AudioStreamEndFrame()
	if err != nil {
		t.Fatalf("AudioStreamEndFrame: %v", err)
	}
	if string(frame) != `{"realtimeInput":{"audioStreamEnd":true}}` {
		t.Fatalf("frame = %s", frame)
	}
}

func TestControlFrames(t *testing.T) {
	if got := string(ConnectedFrame()); got != `{"type":"connected"}` {
		t.Fatalf("connected = %s", got)
	}
	if got := string(ErrorFrame("boom")); got != `{"type":"error","message":"boom"}` {
		t.Fatalf("error = %s", got)
	}
	if got := string(ClosedFrame(1000)); got != `{"type":"closed","code":1000}` {
		t.Fatalf("closed = %s", got)
	}
}
