package protocol

import (
	"encoding/json"
	"testing"
)

func TestParseControlConfig(t *testing.T) {
	msg, err := ParseControl([]byte(`{"type":"config","model":"small","language":"en","vad_enabled":false,"beam_size":5}`))
	if err != nil {
		t.Fatalf("ParseControl() error: %v", err)
	}
	if msg.Config == nil {
		t.Fatal("expected config message")
	}
	if msg.Config.Model != "small" {
		t.Errorf("model = %q, want small", msg.Config.Model)
	}
	if msg.Config.Language == nil || *msg.Config.Language != "en" {
		t.Error("language not parsed")
	}
	if msg.Config.VADEnabled == nil || *msg.Config.VADEnabled {
		t.Error("vad_enabled = true, want false")
	}
	if msg.Config.BeamSize != 5 {
		t.Errorf("beam_size = %d, want 5", msg.Config.BeamSize)
	}
}

func TestParseControlConfigOmittedFields(t *testing.T) {
	msg, err := ParseControl([]byte(`{"type":"config","model":"base"}`))
	if err != nil {
		t.Fatalf("ParseControl() error: %v", err)
	}
	// Absent optional fields stay nil so the session keeps its current
	// values rather than resetting them.
	if msg.Config.Language != nil {
		t.Error("omitted language should be nil")
	}
	if msg.Config.VADEnabled != nil {
		t.Error("omitted vad_enabled should be nil")
	}
}

func TestParseControlPing(t *testing.T) {
	msg, err := ParseControl([]byte(`{"type":"ping"}`))
	if err != nil {
		t.Fatalf("ParseControl() error: %v", err)
	}
	if !msg.Ping {
		t.Error("expected ping message")
	}
}

func TestParseControlRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"invalid json", `{notjson`},
		{"unknown type", `{"type":"subscribe"}`},
		{"empty type", `{}`},
		{"wrong field type", `{"type":"config","beam_size":"five"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseControl([]byte(tt.data)); err == nil {
				t.Errorf("ParseControl(%s) succeeded, want error", tt.data)
			}
		})
	}
}

func TestErrorFrameDetailEncoding(t *testing.T) {
	withDetail, err := json.Marshal(NewError(ErrTranscriptionFailed, "engine timeout"))
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(withDetail) != `{"type":"error","error":"transcription_failed","detail":"engine timeout"}` {
		t.Errorf("unexpected encoding: %s", withDetail)
	}

	withoutDetail, err := json.Marshal(NewError(ErrCapacityExceeded, ""))
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(withoutDetail) != `{"type":"error","error":"capacity_exceeded","detail":null}` {
		t.Errorf("unexpected encoding: %s", withoutDetail)
	}
}

func TestStatusFrameEncoding(t *testing.T) {
	data, err := json.Marshal(NewStatus("connected", "abc-123"))
	if err != nil {
		t.Fatalf("marshal error: %v", err)
	}
	if string(data) != `{"type":"status","status":"connected","session_id":"abc-123"}` {
		t.Errorf("unexpected encoding: %s", data)
	}
}
