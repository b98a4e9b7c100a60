package protocol_test

import (
	"encoding/json"
	"strings"
	"testing"

	"webpilot/backend/internal/protocol"
	"webpilot/backend/internal/recorder"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  protocol.Message
	}{
		{"start", protocol.StartRecording{TabID: 12, URL: "https://example.com/login"}},
		{"stop with name", protocol.StopRecordingWithName{SessionID: "s-1", Name: "Login flow", Share: true}},
		{"restore", protocol.RestoreRecordingState{SessionID: "s-1", EventCount: 3, DurationMs: 4500, Paused: true}},
		{"dom event", protocol.RecordedDOMEvent{
			SessionID: "s-1",
			Event:     recorder.RawEvent{ID: "e1", Type: "click", Selector: "#submit", TimestampMs: 1700000000000},
		}},
		{"progress", protocol.AutomationProgress{RunID: "r-1", EventsCompleted: 2, TotalEvents: 5}},
		{"complete", protocol.AutomationComplete{RunID: "r-1", Success: false, Error: "element not found"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := protocol.Encode(tt.msg)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, err := protocol.Decode(data)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if got.Kind() != tt.msg.Kind() {
				t.Fatalf("round-trip kind = %s, want %s", got.Kind(), tt.msg.Kind())
			}

			// Decoded messages come back as pointers; compare JSON forms.
			want, _ := json.Marshal(tt.msg)
			back, _ := json.Marshal(got)
			if string(want) != string(back) {
				t.Errorf("round-trip payload = %s, want %s", back, want)
			}
		})
	}
}

func TestEncodeWritesTypeTag(t *testing.T) {
	data, err := protocol.Encode(protocol.PauseRecording{SessionID: "s-9"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Type != "PAUSE_RECORDING" {
		t.Errorf("type tag = %q, want PAUSE_RECORDING", env.Type)
	}
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := protocol.Decode([]byte(`{"type":"SELF_DESTRUCT","payload":{}}`))
	if err == nil {
		t.Fatal("Decode accepted an unknown message type")
	}
	if !strings.Contains(err.Error(), "SELF_DESTRUCT") {
		t.Errorf("error %q does not name the offending type", err)
	}
}

func TestDecodeRejectsMissingType(t *testing.T) {
	if _, err := protocol.Decode([]byte(`{"payload":{}}`)); err == nil {
		t.Error("Decode accepted an envelope without a type")
	}
	if _, err := protocol.Decode([]byte(`not json`)); err == nil {
		t.Error("Decode accepted malformed JSON")
	}
}
