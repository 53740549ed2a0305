package result

import "github.com/iago/recognition-orchestrator/internal/domain"

// Detector decides when a round's single downstream notification is due.
// Both Evaluate methods must run inside a locked merge so the flag they set is
// persisted before anyone else can observe the document.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Complete reports whether every requested item has a non-empty answer.
func (d *Detector) Complete(doc *domain.ResultDocument) bool {
	if doc == nil || len(doc.Requests) == 0 {
		return false
	}
	for externalID := range doc.Requests {
		if !doc.Answered(externalID) {
			return false
		}
	}
	return true
}

// Evaluate marks the round notified and returns true when it is complete and
// has not been notified yet.
func (d *Detector) Evaluate(doc *domain.ResultDocument) bool {
	if doc == nil || doc.NotificationSent || !d.Complete(doc) {
		return false
	}
	doc.NotificationSent = true
	return true
}
