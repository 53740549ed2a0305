package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	expected := []string{"migrate", "import", "submit", "status", "jobs"}
	for _, name := range expected {
		found := false
		for _, cmd := range root.Commands() {
			if cmd.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("expected subcommand %s", name)
		}
	}
}

func TestSubmitRejectsUnknownIntegration(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"submit", "case-1", "fax"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "unknown integration") {
		t.Fatalf("expected unknown integration error, got %v", err)
	}
}

func TestParseCaseFile(t *testing.T) {
	raw := `{
		"id": "case-7",
		"integrations": ["documents", "DAMAGE"],
		"items": [
			{"id": "item-1", "content_ref": "azblob://photos/1.jpg", "ext": ".JPG", "width": 640, "height": 480, "integrations": ["damage"]},
			{"id": "item-2", "category": "panorama", "content_ref": "photos/2.jpg", "integrations": []}
		]
	}`
	c, err := parseCaseFile(strings.NewReader(raw))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if !c.Connected(domain.IntegrationDamage) || len(c.Items) != 2 {
		t.Fatalf("unexpected case: %+v", c)
	}
	if c.Items[0].Category != domain.ItemCategoryPhoto || c.Items[0].Ext != "jpg" || c.Items[0].CaseID != "case-7" {
		t.Fatalf("expected normalized first item, got %+v", c.Items[0])
	}
	if c.Items[1].Category.Submittable() {
		t.Fatalf("expected panorama not to be submittable")
	}
}

func TestParseCaseFileRejectsInvalidInput(t *testing.T) {
	inputs := map[string]string{
		"missing id":          `{"integrations":["documents"]}`,
		"unknown integration": `{"id":"c","integrations":["fax"]}`,
		"duplicate item":      `{"id":"c","items":[{"id":"a","content_ref":"x"},{"id":"a","content_ref":"y"}]}`,
		"unknown field":       `{"id":"c","owner":"someone"}`,
	}
	for name, raw := range inputs {
		if _, err := parseCaseFile(strings.NewReader(raw)); err == nil {
			t.Fatalf("%s: expected an error", name)
		}
	}
}

func TestRenderDocument(t *testing.T) {
	doc := domain.NewResultDocument(1)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	doc.RecordRequest("task-1", []string{"ext-1"}, at)
	doc.RecordRequest("task-2", []string{"ext-2"}, at.Add(time.Second))
	doc.RecordAnswer("task-1", json.RawMessage(`{"ok":true}`))

	rendered := renderDocument("case-1", domain.IntegrationDocuments, doc, false)
	if !strings.Contains(rendered, "complete=false") {
		t.Fatalf("expected summary line, got %s", rendered)
	}
	if !strings.Contains(rendered, "answered") || !strings.Contains(rendered, "pending") {
		t.Fatalf("expected answered and pending rows, got %s", rendered)
	}
	if strings.Index(rendered, "task-1") > strings.Index(rendered, "task-2") {
		t.Fatalf("expected requests in submission order, got %s", rendered)
	}

	empty := renderDocument("case-1", domain.IntegrationDocuments, domain.NewResultDocument(1), false)
	if !strings.Contains(empty, "no requests recorded") {
		t.Fatalf("expected empty marker, got %s", empty)
	}
}

func TestRenderJobs(t *testing.T) {
	rendered := renderJobs([]domain.Job{{
		ID:           "job-1",
		Kind:         domain.JobKindCollect,
		Integration:  domain.IntegrationDocuments,
		Status:       domain.JobStatusRequeued,
		Attempts:     2,
		ErrorMessage: strings.Repeat("e", 80),
	}})
	if !strings.Contains(rendered, "job-1") || !strings.Contains(rendered, "requeued") || !strings.Contains(rendered, "...") {
		t.Fatalf("unexpected jobs table: %s", rendered)
	}
	if renderJobs(nil) != "no jobs recorded\n" {
		t.Fatalf("expected empty marker")
	}
}
