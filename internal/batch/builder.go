// Package batch selects which items of a case are sent to a recognizer in a
// round and prepares their payloads.
package batch

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/iago/recognition-orchestrator/internal/content"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/quality"
)

// Submission is one item ready to be sent.
type Submission struct {
	ExternalID  string
	ItemID      string
	Content     []byte
	ContentType string
	Name        string
	Width       int
	Height      int
}

// IDAssigner persists an item's external id for an integration exactly once.
type IDAssigner interface {
	AssignExternalID(ctx context.Context, itemID string, integration domain.Integration, candidate string) (string, error)
}

type Builder struct {
	ids    IDAssigner
	loader content.Loader
	filter *quality.Filter
	logger *log.Logger
	newID  func() string
}

func NewBuilder(ids IDAssigner, loader content.Loader, filter *quality.Filter, logger *log.Logger) *Builder {
	if filter == nil {
		filter = quality.NewFilter(quality.Config{})
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Builder{
		ids:    ids,
		loader: loader,
		filter: filter,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// Build returns the items of c that still need an answer from integration, in
// case order. Items already answered in doc are skipped, so calling Build again
// after a partial round never resubmits answered work. An empty result is a
// valid outcome. The only error is a failure to persist an external id.
func (b *Builder) Build(ctx context.Context, c *domain.Case, integration domain.Integration, doc *domain.ResultDocument) ([]Submission, error) {
	if c == nil {
		return nil, nil
	}

	submissions := make([]Submission, 0, len(c.Items))
	for index := range c.Items {
		item := &c.Items[index]
		if !item.Connected(integration) || !item.Category.Submittable() {
			continue
		}

		externalID := item.ExternalID(integration)
		if externalID != "" && doc.Answered(externalID) {
			continue
		}

		if externalID == "" {
			assigned, err := b.ids.AssignExternalID(ctx, item.ID, integration, b.newID())
			if err != nil {
				return nil, fmt.Errorf("assign external id item=%s: %w: %v", item.ID, domain.ErrPersistenceFailed, err)
			}
			externalID = assigned
			if item.ExternalIDs == nil {
				item.ExternalIDs = make(map[domain.Integration]string)
			}
			item.ExternalIDs[integration] = assigned
			// Another round may have won the assignment and already been answered.
			if doc.Answered(externalID) {
				continue
			}
		}

		body, err := b.loader.Load(ctx, item.ContentRef)
		if err != nil {
			b.logger.Printf("batch item skipped case_id=%s item_id=%s reason=load_failed err=%v", c.ID, item.ID, err)
			continue
		}

		verdict := b.filter.Check(body, item.Width, item.Height)
		if !verdict.Accepted {
			b.logger.Printf("batch item skipped case_id=%s item_id=%s reason=%s", c.ID, item.ID, verdict.Reason)
			continue
		}

		submissions = append(submissions, Submission{
			ExternalID:  externalID,
			ItemID:      item.ID,
			Content:     body,
			ContentType: quality.ContentType(item.Ext),
			Name:        fileName(externalID, item.Ext),
			Width:       verdict.Width,
			Height:      verdict.Height,
		})
	}
	return submissions, nil
}

// ExternalIDs lists the external ids of submissions in order.
func ExternalIDs(submissions []Submission) []string {
	ids := make([]string, 0, len(submissions))
	for _, submission := range submissions {
		ids = append(ids, submission.ExternalID)
	}
	return ids
}

func fileName(externalID, ext string) string {
	ext = strings.TrimPrefix(strings.TrimSpace(ext), ".")
	if ext == "" {
		return externalID
	}
	return externalID + "." + ext
}
