package steward

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogCall(t *testing.T) {
	var got Report
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/log_call" {
			t.Errorf("path = %q, want /api/log_call", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode report: %v", err)
		}
		json.NewEncoder(w).Encode(Score{CreditsEarned: 100, NewLevel: 3, Mode: "live"})
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	score, err := c.LogCall(context.Background(), Report{
		SessionID:       "s1",
		DurationSeconds: 120,
		LiveSeconds:     45,
		Multiplier:      5,
		Persona:         "sensei",
	})
	if err != nil {
		t.Fatalf("LogCall: %v", err)
	}

	if got.SessionID != "s1" {
		t.Errorf("report session_id = %q, want s1", got.SessionID)
	}
	if got.Multiplier != 5 {
		t.Errorf("report multiplier = %d, want 5", got.Multiplier)
	}
	if score.CreditsEarned != 100 {
		t.Errorf("credits_earned = %v, want 100", score.CreditsEarned)
	}
	if score.NewLevel != 3 {
		t.Errorf("new_level = %d, want 3", score.NewLevel)
	}
	if score.Mode != "live" {
		t.Errorf("mode = %q, want live", score.Mode)
	}
}

func TestLogCall_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.LogCall(context.Background(), Report{SessionID: "s1"})
	if err == nil {
		t.Fatal("expected error for 500 response, got nil")
	}
}

func TestNoop_ModeFollowsLiveSeconds(t *testing.T) {
	var n Noop

	score, err := n.LogCall(context.Background(), Report{SessionID: "s1"})
	if err != nil {
		t.Fatalf("LogCall: %v", err)
	}
	if score.Mode != "auto" {
		t.Errorf("mode = %q, want auto", score.Mode)
	}
	if score.CreditsEarned != 0 {
		t.Errorf("credits_earned = %v, want 0", score.CreditsEarned)
	}

	score, err = n.LogCall(context.Background(), Report{SessionID: "s1", LiveSeconds: 9})
	if err != nil {
		t.Fatalf("LogCall: %v", err)
	}
	if score.Mode != "live" {
		t.Errorf("mode = %q, want live", score.Mode)
	}
}
