package websocket

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMessageValidator_ValidateMessage(t *testing.T) {
	validator := NewMessageValidator()

	tests := []struct {
		name     string
		message  string
		wantType MessageType
		wantErr  bool
	}{
		{
			name:     "valid frame",
			message:  `{"type":"frame","payload":{"timestamp_ms":1532.5,"face_present":true,"eye_contact_lost":true}}`,
			wantType: MessageTypeFrame,
		},
		{
			name:    "negative frame timestamp",
			message: `{"type":"frame","payload":{"timestamp_ms":-1}}`,
			wantErr: true,
		},
		{
			name:     "valid transcript",
			message:  `{"type":"transcript","payload":{"text":"I led the migration","final":true,"confidence":0.92}}`,
			wantType: MessageTypeTranscript,
		},
		{
			name:    "empty transcript",
			message: `{"type":"transcript","payload":{"text":"  ","final":true}}`,
			wantErr: true,
		},
		{
			name:    "confidence out of range",
			message: `{"type":"transcript","payload":{"text":"hello","confidence":1.5}}`,
			wantErr: true,
		},
		{
			name:    "speech ended without utterance",
			message: `{"type":"speech_ended","payload":{}}`,
			wantErr: true,
		},
		{
			name:     "submit without payload",
			message:  `{"type":"submit"}`,
			wantType: MessageTypeSubmit,
		},
		{
			name:     "payload-less control message",
			message:  `{"type":"start_listening"}`,
			wantType: MessageTypeStartListening,
		},
		{
			name:    "missing type",
			message: `{"payload":{}}`,
			wantErr: true,
		},
		{
			name:    "unsupported type",
			message: `{"type":"audio_chunk"}`,
			wantErr: true,
		},
		{
			name:    "invalid JSON",
			message: `{"type":`,
			wantErr: true,
		},
		{
			name:    "payload of the wrong shape",
			message: `{"type":"frame","payload":{"timestamp_ms":"soon"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgType, msg, err := validator.ValidateMessage([]byte(tt.message))
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error, got message %+v", msg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if msgType != tt.wantType {
				t.Errorf("Expected type %s, got %s", tt.wantType, msgType)
			}
		})
	}
}

func TestFrameMessage_FrameInput(t *testing.T) {
	msg := FrameMessage{TimestampMs: 1500, HandPresent: true, PostureBad: true}
	frame := msg.FrameInput()

	if frame.ClientTime != 1500*time.Millisecond {
		t.Errorf("Expected client time 1.5s, got %v", frame.ClientTime)
	}
	if !frame.HandPresent || !frame.PostureBad || frame.EyeContactLost {
		t.Errorf("Unexpected frame flags %+v", frame)
	}
}

func TestRecognitionEndedMessage_Cause(t *testing.T) {
	if (&RecognitionEndedMessage{}).Cause() != nil {
		t.Error("Expected nil cause for a clean end")
	}
	if err := (&RecognitionEndedMessage{Error: "network"}).Cause(); err == nil || err.Error() != "network" {
		t.Errorf("Expected network cause, got %v", err)
	}
}

func TestCreateErrorMessage(t *testing.T) {
	data, err := json.Marshal(CreateErrorMessage("invalid_event", "bad frame"))
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var decoded struct {
		Type    string `json:"type"`
		Payload struct {
			Kind        string `json:"kind"`
			Message     string `json:"message"`
			Recoverable bool   `json:"recoverable"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if decoded.Type != "error" || decoded.Payload.Kind != "invalid_event" || decoded.Payload.Message != "bad frame" {
		t.Errorf("Unexpected error envelope %s", data)
	}
	if !decoded.Payload.Recoverable {
		t.Error("Expected client errors to be recoverable")
	}
}
