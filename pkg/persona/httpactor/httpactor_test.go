package httpactor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mytimedojo/bridge/pkg/persona"
)

func TestNew_EmptyBaseURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestRespond(t *testing.T) {
	var got respondRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/respond" {
			t.Errorf("path = %q, want /respond", r.URL.Path)
		}
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(respondResponse{Response: "Who is this again, dear?"})
	}))
	defer ts.Close()

	c, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := c.Respond(context.Background(),
		[]string{"Hello?", "This is the IRS calling."},
		persona.Profile{ID: "hazel"})
	if err != nil {
		t.Fatalf("Respond: %v", err)
	}
	if out != "Who is this again, dear?" {
		t.Errorf("response = %q", out)
	}
	if got.Persona != "hazel" {
		t.Errorf("persona = %q, want hazel", got.Persona)
	}
	if got.Transcript != "Hello?\nThis is the IRS calling." {
		t.Errorf("transcript = %q", got.Transcript)
	}
}

func TestRespond_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	c, err := New(ts.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = c.Respond(context.Background(), []string{"hi"}, persona.Profile{ID: "hazel"})
	if err == nil {
		t.Fatal("expected error on 503")
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("error = %v, want status code mention", err)
	}
}

func TestRespond_TrailingSlashBaseURL(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "//") {
			t.Errorf("path %q contains a double slash", r.URL.Path)
		}
		json.NewEncoder(w).Encode(respondResponse{Response: "ok"})
	}))
	defer ts.Close()

	c, err := New(ts.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Respond(context.Background(), nil, persona.Profile{}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
}
