package recognition

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/domain"
)

func TestDamageClientOpenSessionAndUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/inspections":
			var payload struct {
				ClientProcessID string   `json:"client_process_id"`
				Features        []string `json:"features"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if payload.ClientProcessID != "case-ref" || len(payload.Features) == 0 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"inspection_case_id":"sess-1"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/inspections/sess-1/images/":
			var payload struct {
				Images []struct {
					ImageID string `json:"image_id"`
					Content string `json:"content"`
				} `json:"images"`
			}
			_ = json.NewDecoder(r.Body).Decode(&payload)
			if len(payload.Images) != 2 || payload.Images[0].Content == "" {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"images":[{"image_id":"a","detected_damages":[{"damage_id":"d1"}]},{"image_id":""}]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewDamageClient(DamageClientConfig{BaseURL: server.URL, APIKey: "k"}, nil)
	sessionID, err := client.OpenSession(context.Background(), "case-ref")
	if err != nil || sessionID != "sess-1" {
		t.Fatalf("expected sess-1, got %q err=%v", sessionID, err)
	}

	answers, err := client.Upload(context.Background(), sessionID, []batch.Submission{
		{ExternalID: "a", Content: []byte("1"), Width: 100, Height: 100},
		{ExternalID: "b", Content: []byte("2"), Width: 100, Height: 100},
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if len(answers) != 1 || !strings.Contains(string(answers["a"]), "d1") {
		t.Fatalf("expected answer for a only, got %v", answers)
	}
}

func TestDamageClientSessionOpen(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/inspections/fresh/":
			_, _ = w.Write([]byte(`{"status":"OPEN","created_on":"2024-06-01T11:00:00Z"}`))
		case "/inspections/stale/":
			_, _ = w.Write([]byte(`{"status":"OPEN","created_on":"2024-05-01 11:00:00"}`))
		case "/inspections/done/":
			_, _ = w.Write([]byte(`{"status":"COMPLETED","created_on":"2024-06-01T11:00:00Z"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewDamageClient(DamageClientConfig{BaseURL: server.URL, APIKey: "k", SessionTimeLimit: 6 * time.Hour}, nil)
	client.now = func() time.Time { return now }

	if open, err := client.SessionOpen(context.Background(), "fresh"); err != nil || !open {
		t.Fatalf("expected fresh session open, got %v err=%v", open, err)
	}
	if open, _ := client.SessionOpen(context.Background(), "stale"); open {
		t.Fatalf("expected stale session closed")
	}
	if open, _ := client.SessionOpen(context.Background(), "done"); open {
		t.Fatalf("expected completed session closed")
	}
	if _, err := client.SessionOpen(context.Background(), "missing"); err == nil {
		t.Fatalf("expected error for missing session")
	}
}

func TestDamageClientOpenSessionFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewDamageClient(DamageClientConfig{BaseURL: server.URL, APIKey: "k"}, nil)
	_, err := client.OpenSession(context.Background(), "case-ref")
	if !errors.Is(err, domain.ErrSubmissionFailed) {
		t.Fatalf("expected ErrSubmissionFailed, got %v", err)
	}
}

func TestParseDamageCallback(t *testing.T) {
	callback, err := ParseDamageCallback([]byte(`{
		"inspection_case":{"inspection_case_id":"sess-1"},
		"damage_recognition":[{"damage_id":"r1","referenced_damage_ids":["d1"]}],
		"alerts":[{"code":"blur"}]
	}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if callback.SessionID != "sess-1" {
		t.Fatalf("expected sess-1, got %q", callback.SessionID)
	}
	if string(callback.Sections["vehicle_model_detection"]) != "[]" {
		t.Fatalf("expected missing section to default to [], got %s", callback.Sections["vehicle_model_detection"])
	}

	if _, err := ParseDamageCallback([]byte(`{"inspection_case":{"inspection_case_id":"sess-1"}}`)); !errors.Is(err, ErrInvalidCallback) {
		t.Fatalf("expected ErrInvalidCallback, got %v", err)
	}
}
