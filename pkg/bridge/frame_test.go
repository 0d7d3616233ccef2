package bridge

import (
	"encoding/json"
	"testing"
)

func TestEncodeControl_FieldPresence(t *testing.T) {
	tests := []struct {
		name     string
		req      ControlRequest
		wantKeys []string
	}{
		{
			name:     "barge_in without user id carries only the action",
			req:      ControlRequest{Action: ActionBargeIn},
			wantKeys: []string{"action"},
		},
		{
			name:     "barge_in with user id",
			req:      ControlRequest{Action: ActionBargeIn, UserID: "u-7"},
			wantKeys: []string{"action", "user_id"},
		},
		{
			name: "combat carries caller, transcript and persona",
			req: ControlRequest{
				Action:       ActionCombat,
				CallerNumber: "+1555",
				Transcript:   "hi",
				Persona:      "hazel",
			},
			wantKeys: []string{"action", "caller_number", "transcript", "persona"},
		},
		{
			name:     "tts without voice omits voice_id",
			req:      ControlRequest{Action: ActionTTS, Text: "hello"},
			wantKeys: []string{"action", "text"},
		},
		{
			name:     "end_session is bare",
			req:      ControlRequest{Action: ActionEndSession},
			wantKeys: []string{"action"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeControl(tt.req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var obj map[string]any
			if err := json.Unmarshal(data, &obj); err != nil {
				t.Fatalf("encoded frame is not valid JSON: %v", err)
			}
			if len(obj) != len(tt.wantKeys) {
				t.Errorf("expected %d keys, got %d: %v", len(tt.wantKeys), len(obj), obj)
			}
			for _, k := range tt.wantKeys {
				if _, ok := obj[k]; !ok {
					t.Errorf("expected key %q in %v", k, obj)
				}
			}
			// Unset optional fields must be absent, never null.
			for k, v := range obj {
				if v == nil {
					t.Errorf("key %q serialised as null", k)
				}
			}
		})
	}
}

func TestEncodeControl_RequiresAction(t *testing.T) {
	if _, err := EncodeControl(ControlRequest{Text: "hello"}); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestDecodeControl_RoundTrip(t *testing.T) {
	data, err := EncodeControl(ControlRequest{Action: ActionCombat, CallerNumber: "+1555", Transcript: "hi", Persona: "hazel"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var back ControlRequest
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if back.Action != ActionCombat || back.CallerNumber != "+1555" || back.Transcript != "hi" || back.Persona != "hazel" {
		t.Errorf("round-trip mismatch: %+v", back)
	}
	if back.UserID != "" || back.VoiceID != "" || back.Text != "" {
		t.Errorf("unsupplied optional fields came back non-empty: %+v", back)
	}
}

func TestDecodeControl_Malformed(t *testing.T) {
	if _, err := DecodeControl([]byte("{not json")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestClassify_Priority(t *testing.T) {
	errMsg := "synthesis backend unavailable"
	empty := ""

	tests := []struct {
		name string
		ev   ControlEvent
		want EventKind
	}{
		{"error field wins over status", ControlEvent{Err: &errMsg, Status: StatusEventBargeInAck}, KindError},
		{"explicitly empty error is still an error", ControlEvent{Err: &empty}, KindError},
		{"barge_in_ack", ControlEvent{Status: StatusEventBargeInAck}, KindBarge},
		{"barge_out_ack", ControlEvent{Status: StatusEventBargeOutAck}, KindBarge},
		{"session_scored", ControlEvent{Status: StatusEventScored}, KindScored},
		{"streaming is a plain status", ControlEvent{Status: StatusEventStreaming}, KindStatus},
		{"unknown status is a plain status", ControlEvent{Status: "warming_up"}, KindStatus},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(&tt.ev); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDecodeControl_ErrorPresence(t *testing.T) {
	ev, err := DecodeControl([]byte(`{"status":"done"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Err != nil {
		t.Error("absent error field decoded as present")
	}

	ev, err = DecodeControl([]byte(`{"error":""}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Err == nil {
		t.Error("explicitly empty error field decoded as absent")
	}
}

func TestDecodeControl_ScoredPayload(t *testing.T) {
	raw := `{"status":"session_scored","total_duration":120,"live_seconds":45,"steward":{"credits_earned":200,"new_level":3,"mode":"live"}}`
	ev, err := DecodeControl([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.Steward == nil {
		t.Fatal("expected steward payload")
	}
	if ev.Steward.CreditsEarned != 200 || ev.Steward.NewLevel != 3 || ev.Steward.Mode != "live" {
		t.Errorf("steward payload mismatch: %+v", ev.Steward)
	}
	if ev.TotalDuration != 120 || ev.LiveSeconds != 45 {
		t.Errorf("duration fields mismatch: %+v", ev)
	}
}

func TestDecodeRequest(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"action":"combat","caller_number":"+15550001234","transcript":"hi"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.Action != ActionCombat || req.CallerNumber != "+15550001234" || req.Transcript != "hi" {
		t.Errorf("request mismatch: %+v", req)
	}

	if _, err := DecodeRequest([]byte(`{"text":"orphan"}`)); err == nil {
		t.Error("expected error for missing action")
	}
	if _, err := DecodeRequest([]byte(`{{`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestEncodeEvent_FieldPresence(t *testing.T) {
	tests := []struct {
		name     string
		ev       any
		wantKeys []string
	}{
		{
			name:     "done carries only the status",
			ev:       DoneEvent{Status: StatusEventDone},
			wantKeys: []string{"status"},
		},
		{
			name:     "stream_interrupted names its reason",
			ev:       InterruptedEvent{Status: StatusEventInterrupted, Reason: "barge_in"},
			wantKeys: []string{"status", "reason"},
		},
		{
			name: "barge_out_ack keeps zero live_seconds on the wire",
			ev: BargeOutAck{
				Status:  StatusEventBargeOutAck,
				Mode:    "auto",
				Persona: "hazel",
				Message: "AI resuming as hazel.",
			},
			wantKeys: []string{"status", "mode", "persona", "live_seconds", "message"},
		},
		{
			name: "session_scored keeps zero durations and drops a nil steward",
			ev: ScoredEvent{
				Status:    StatusEventScored,
				SessionID: "s-1",
			},
			wantKeys: []string{"status", "session_id", "total_duration", "live_seconds", "auto_seconds"},
		},
		{
			name: "barge_in_ack carries the full handover payload",
			ev: BargeInAck{
				Status:       StatusEventBargeInAck,
				SessionID:    "s-1",
				Mode:         "live",
				XPMultiplier: 5,
				Message:      "You have the conn. 5x XP active.",
			},
			wantKeys: []string{"status", "session_id", "mode", "xp_multiplier", "message"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.ev)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			var m map[string]any
			if err := json.Unmarshal(data, &m); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if len(m) != len(tt.wantKeys) {
				t.Errorf("expected %d keys, got %d: %v", len(tt.wantKeys), len(m), m)
			}
			for _, k := range tt.wantKeys {
				if _, ok := m[k]; !ok {
					t.Errorf("expected key %q in %v", k, m)
				}
			}
		})
	}
}

func TestEncodeEvent_DecodesAsControlEvent(t *testing.T) {
	data, err := EncodeEvent(BargeOutAck{
		Status:      StatusEventBargeOutAck,
		Mode:        "auto",
		Persona:     "hazel",
		LiveSeconds: 12,
		Message:     "AI resuming as hazel.",
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	ev, err := DecodeControl(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if Classify(ev) != KindBarge {
		t.Errorf("Classify() = %v, want KindBarge", Classify(ev))
	}
	if ev.LiveSeconds != 12 || ev.Persona != "hazel" {
		t.Errorf("ack fields mismatch: %+v", ev)
	}
}
