package result

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

func TestDetectorThreeItemRound(t *testing.T) {
	detector := NewDetector()
	doc := domain.NewResultDocument(1)
	now := time.Now()
	doc.RecordRequest("t1", []string{"a"}, now)
	doc.RecordRequest("t2", []string{"b"}, now)
	doc.RecordRequest("t3", []string{"c"}, now)

	doc.RecordAnswer("t1", json.RawMessage(`{"v":1}`))
	doc.RecordAnswer("t2", json.RawMessage(`{"v":2}`))
	if detector.Complete(doc) || detector.Evaluate(doc) {
		t.Fatalf("expected round with one outstanding answer to be incomplete")
	}

	doc.RecordAnswer("t3", json.RawMessage(`{"v":3}`))
	if !detector.Evaluate(doc) {
		t.Fatalf("expected completed round to notify")
	}
	if !doc.NotificationSent {
		t.Fatalf("expected notification flag to be set")
	}
	if detector.Evaluate(doc) {
		t.Fatalf("expected second evaluation not to notify again")
	}

	doc.RecordRequest("t4", []string{"d"}, now)
	if doc.NotificationSent || detector.Evaluate(doc) {
		t.Fatalf("expected new request to reopen the round without notifying")
	}
	doc.RecordAnswer("t4", json.RawMessage(`{"v":4}`))
	if !detector.Evaluate(doc) {
		t.Fatalf("expected reopened round to notify once complete")
	}
}

func TestDetectorLeavesFlagWhileAnswersOutstanding(t *testing.T) {
	detector := NewDetector()
	doc := domain.NewResultDocument(1)
	if detector.Evaluate(doc) {
		t.Fatalf("expected empty document not to notify")
	}

	doc.RecordRequest("t1", []string{"a"}, time.Now())
	doc.RecordRequest("t2", []string{"b"}, time.Now())
	doc.RecordAnswer("t1", json.RawMessage(`{"v":1}`))
	if detector.Evaluate(doc) || doc.NotificationSent {
		t.Fatalf("expected partial round to keep the notification available")
	}
	doc.RecordAnswer("t2", json.RawMessage(`{"v":2}`))
	if !detector.Evaluate(doc) {
		t.Fatalf("expected the last answer to notify")
	}
}

func TestDetectorEmptyPayloadIsNotAnAnswer(t *testing.T) {
	detector := NewDetector()
	doc := domain.NewResultDocument(1)
	doc.RecordRequest("t1", []string{"a"}, time.Now())
	doc.RecordAnswer("t1", json.RawMessage(`{}`))
	if detector.Complete(doc) {
		t.Fatalf("expected empty object answer to leave the round incomplete")
	}
}
