package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/iago/recognition-orchestrator/internal/content"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/repository"
)

type fakeLoader struct {
	blobs map[string][]byte
}

func (f *fakeLoader) Load(_ context.Context, ref string) ([]byte, error) {
	body, ok := f.blobs[ref]
	if !ok {
		return nil, content.ErrNotFound
	}
	return body, nil
}

type failingAssigner struct{}

func (failingAssigner) AssignExternalID(context.Context, string, domain.Integration, string) (string, error) {
	return "", errors.New("db down")
}

func photo(id string, integration domain.Integration) domain.Item {
	return domain.Item{
		ID:           id,
		Category:     domain.ItemCategoryPhoto,
		ContentRef:   id + ".jpg",
		Ext:          "jpg",
		Width:        800,
		Height:       600,
		Integrations: []domain.Integration{integration},
	}
}

func newFixture(items ...domain.Item) (*repository.MemoryCaseStore, *fakeLoader) {
	store := repository.NewMemoryCaseStore()
	store.PutCase(&domain.Case{
		ID:           "case-1",
		Integrations: []domain.Integration{domain.IntegrationDocuments},
		Items:        items,
	})
	loader := &fakeLoader{blobs: map[string][]byte{}}
	for _, item := range items {
		loader.blobs[item.ContentRef] = make([]byte, 12*1024)
	}
	return store, loader
}

func TestBuildFiltersIneligibleItems(t *testing.T) {
	integration := domain.IntegrationDocuments

	panorama := photo("pano", integration)
	panorama.Category = domain.ItemCategoryPanorama
	other := photo("other", domain.IntegrationDamage)
	tiny := photo("tiny", integration)
	tiny.Width = 40
	missing := photo("missing", integration)

	store, loader := newFixture(photo("a", integration), panorama, other, tiny, missing, photo("b", integration))
	delete(loader.blobs, "missing.jpg")
	c, _ := store.LoadCase(context.Background(), "case-1")

	builder := NewBuilder(store, loader, nil, nil)
	submissions, err := builder.Build(context.Background(), c, integration, domain.NewResultDocument(1))
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(submissions) != 2 {
		t.Fatalf("expected 2 submissions, got %d", len(submissions))
	}
	if submissions[0].ItemID != "a" || submissions[1].ItemID != "b" {
		t.Fatalf("expected case order a,b, got %s,%s", submissions[0].ItemID, submissions[1].ItemID)
	}
	if submissions[0].ContentType != "image/jpeg" || !strings.HasSuffix(submissions[0].Name, ".jpg") {
		t.Fatalf("unexpected submission metadata %+v", submissions[0])
	}
}

func TestBuildAssignsExternalIDOnce(t *testing.T) {
	integration := domain.IntegrationDocuments
	store, loader := newFixture(photo("a", integration))
	builder := NewBuilder(store, loader, nil, nil)

	first, _ := store.LoadCase(context.Background(), "case-1")
	firstRound, err := builder.Build(context.Background(), first, integration, domain.NewResultDocument(1))
	if err != nil || len(firstRound) != 1 {
		t.Fatalf("expected one submission, got %d err=%v", len(firstRound), err)
	}

	// a stale snapshot that has not seen the assignment still resolves to the persisted id
	stale := first
	stale.Items[0].ExternalIDs = nil
	secondRound, err := builder.Build(context.Background(), stale, integration, domain.NewResultDocument(1))
	if err != nil || len(secondRound) != 1 {
		t.Fatalf("expected one submission, got %d err=%v", len(secondRound), err)
	}
	if firstRound[0].ExternalID != secondRound[0].ExternalID {
		t.Fatalf("expected stable external id, got %s and %s", firstRound[0].ExternalID, secondRound[0].ExternalID)
	}

	reloaded, _ := store.LoadCase(context.Background(), "case-1")
	if reloaded.Items[0].ExternalID(integration) != firstRound[0].ExternalID {
		t.Fatalf("expected persisted id %s, got %s", firstRound[0].ExternalID, reloaded.Items[0].ExternalID(integration))
	}
}

func TestBuildSkipsAnsweredItems(t *testing.T) {
	integration := domain.IntegrationDocuments
	store, loader := newFixture(photo("a", integration), photo("b", integration))
	builder := NewBuilder(store, loader, nil, nil)
	c, _ := store.LoadCase(context.Background(), "case-1")

	doc := domain.NewResultDocument(1)
	submissions, err := builder.Build(context.Background(), c, integration, doc)
	if err != nil || len(submissions) != 2 {
		t.Fatalf("expected two submissions, got %d err=%v", len(submissions), err)
	}
	for index, submission := range submissions {
		doc.RecordRequest(fmt.Sprintf("task-%d", index), []string{submission.ExternalID}, time.Now())
	}
	doc.RecordAnswer("task-0", json.RawMessage(`{"type":"passport"}`))

	// b only has a placeholder, so it is still eligible
	again, err := builder.Build(context.Background(), c, integration, doc)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if len(again) != 1 || again[0].ItemID != "b" {
		t.Fatalf("expected only b to be resubmitted, got %+v", again)
	}

	doc.RecordAnswer("task-1", json.RawMessage(`{"type":"license"}`))
	final, err := builder.Build(context.Background(), c, integration, doc)
	if err != nil || len(final) != 0 {
		t.Fatalf("expected empty batch once everything is answered, got %d err=%v", len(final), err)
	}
}

func TestBuildReportsAssignmentFailure(t *testing.T) {
	integration := domain.IntegrationDocuments
	_, loader := newFixture(photo("a", integration))
	builder := NewBuilder(failingAssigner{}, loader, nil, nil)
	c := &domain.Case{ID: "case-1", Items: []domain.Item{photo("a", integration)}}

	_, err := builder.Build(context.Background(), c, integration, domain.NewResultDocument(1))
	if !errors.Is(err, domain.ErrPersistenceFailed) {
		t.Fatalf("expected ErrPersistenceFailed, got %v", err)
	}
}
