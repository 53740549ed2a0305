package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ResultDocument is the versioned per-case, per-integration record of what was
// sent to a recognizer and what came back. It is only mutated through the
// Record* folds below, and only while the case lock is held.
type ResultDocument struct {
	APIVersion       int                  `json:"api_version"`
	Requests         map[string]time.Time `json:"requests"`
	Responses        map[string]*Response `json:"responses"`
	NotificationSent bool                 `json:"notification_sent"`
	OldResult        json.RawMessage      `json:"old_result,omitempty"`
}

// Response groups the per-item payloads returned for one task or batch id.
type Response struct {
	Images   map[string]json.RawMessage `json:"images"`
	Sections map[string]json.RawMessage `json:"sections,omitempty"`
}

var placeholder = json.RawMessage(`[]`)

func NewResultDocument(apiVersion int) *ResultDocument {
	return &ResultDocument{
		APIVersion: apiVersion,
		Requests:   make(map[string]time.Time),
		Responses:  make(map[string]*Response),
	}
}

// DecodeResultDocument parses a stored document. A document written under a
// different api_version is archived into old_result of a fresh document.
func DecodeResultDocument(raw []byte, apiVersion int) (*ResultDocument, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return NewResultDocument(apiVersion), nil
	}

	var header struct {
		APIVersion *int `json:"api_version"`
	}
	if err := json.Unmarshal(trimmed, &header); err != nil {
		return nil, fmt.Errorf("decode result document: %w", err)
	}
	if header.APIVersion == nil || *header.APIVersion != apiVersion {
		doc := NewResultDocument(apiVersion)
		doc.OldResult = append(json.RawMessage(nil), trimmed...)
		return doc, nil
	}

	doc := &ResultDocument{}
	if err := json.Unmarshal(trimmed, doc); err != nil {
		return nil, fmt.Errorf("decode result document: %w", err)
	}
	doc.normalize()
	return doc, nil
}

func (d *ResultDocument) Encode() ([]byte, error) {
	d.normalize()
	encoded, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encode result document: %w", err)
	}
	return encoded, nil
}

func (d *ResultDocument) Clone() *ResultDocument {
	if d == nil {
		return nil
	}
	clone := NewResultDocument(d.APIVersion)
	clone.NotificationSent = d.NotificationSent
	clone.OldResult = append(json.RawMessage(nil), d.OldResult...)
	for key, value := range d.Requests {
		clone.Requests[key] = value
	}
	for taskID, response := range d.Responses {
		if response == nil {
			continue
		}
		copied := &Response{Images: make(map[string]json.RawMessage, len(response.Images))}
		for key, value := range response.Images {
			copied.Images[key] = append(json.RawMessage(nil), value...)
		}
		if len(response.Sections) > 0 {
			copied.Sections = make(map[string]json.RawMessage, len(response.Sections))
			for key, value := range response.Sections {
				copied.Sections[key] = append(json.RawMessage(nil), value...)
			}
		}
		clone.Responses[taskID] = copied
	}
	return clone
}

// RecordRequest notes that externalIDs were sent under taskID and seeds empty
// placeholders for their answers. Existing answers are never overwritten. When
// a request key is new the notification flag is cleared so the round can be
// evaluated again. It returns the number of new request keys.
func (d *ResultDocument) RecordRequest(taskID string, externalIDs []string, at time.Time) int {
	d.normalize()
	response := d.response(taskID)

	added := 0
	for _, externalID := range externalIDs {
		if externalID == "" {
			continue
		}
		if _, exists := d.Requests[externalID]; !exists {
			added++
		}
		d.Requests[externalID] = at.UTC()
		if current, ok := response.Images[externalID]; ok && !IsEmptyPayload(current) {
			continue
		}
		response.Images[externalID] = placeholder
	}
	if added > 0 {
		d.NotificationSent = false
	}
	return added
}

// RecordAnswer replaces every placeholder under taskID with payload. Unknown
// task ids leave the document untouched. It returns the number of items updated.
func (d *ResultDocument) RecordAnswer(taskID string, payload json.RawMessage) int {
	d.normalize()
	response, ok := d.Responses[taskID]
	if !ok {
		return 0
	}
	for externalID := range response.Images {
		response.Images[externalID] = append(json.RawMessage(nil), payload...)
	}
	return len(response.Images)
}

// RecordBatch records a synchronous submission: the request keys and, for each
// key present in answers, the returned payload.
func (d *ResultDocument) RecordBatch(batchID string, externalIDs []string, answers map[string]json.RawMessage, at time.Time) int {
	added := d.RecordRequest(batchID, externalIDs, at)
	response := d.response(batchID)
	for externalID, payload := range answers {
		if IsEmptyPayload(payload) {
			continue
		}
		response.Images[externalID] = append(json.RawMessage(nil), payload...)
	}
	return added
}

// RecordSections stores batch-level sections reported after the fact. It
// reports false when the batch was never recorded.
func (d *ResultDocument) RecordSections(batchID string, sections map[string]json.RawMessage) bool {
	d.normalize()
	response, ok := d.Responses[batchID]
	if !ok || len(response.Images) == 0 {
		return false
	}
	if response.Sections == nil {
		response.Sections = make(map[string]json.RawMessage, len(sections))
	}
	for name, payload := range sections {
		response.Sections[name] = append(json.RawMessage(nil), payload...)
	}
	return true
}

// Answered reports whether any response holds a non-empty payload for externalID.
func (d *ResultDocument) Answered(externalID string) bool {
	if d == nil {
		return false
	}
	for _, response := range d.Responses {
		if response == nil {
			continue
		}
		if payload, ok := response.Images[externalID]; ok && !IsEmptyPayload(payload) {
			return true
		}
	}
	return false
}

// Outstanding lists request keys without an answer, sorted.
func (d *ResultDocument) Outstanding() []string {
	if d == nil {
		return nil
	}
	pending := make([]string, 0)
	for externalID := range d.Requests {
		if !d.Answered(externalID) {
			pending = append(pending, externalID)
		}
	}
	sort.Strings(pending)
	return pending
}

func (d *ResultDocument) response(taskID string) *Response {
	response, ok := d.Responses[taskID]
	if !ok || response == nil {
		response = &Response{}
		d.Responses[taskID] = response
	}
	if response.Images == nil {
		response.Images = make(map[string]json.RawMessage)
	}
	return response
}

func (d *ResultDocument) normalize() {
	if d.Requests == nil {
		d.Requests = make(map[string]time.Time)
	}
	if d.Responses == nil {
		d.Responses = make(map[string]*Response)
	}
	for taskID, response := range d.Responses {
		if response == nil {
			delete(d.Responses, taskID)
			continue
		}
		if response.Images == nil {
			response.Images = make(map[string]json.RawMessage)
		}
	}
}

// IsEmptyPayload treats null, empty arrays/objects/strings, false and 0 as "no answer yet".
func IsEmptyPayload(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return true
	}
	var compacted bytes.Buffer
	if err := json.Compact(&compacted, trimmed); err == nil {
		trimmed = compacted.Bytes()
	}
	switch string(trimmed) {
	case "null", "[]", "{}", `""`, "false", "0":
		return true
	default:
		return false
	}
}
