package repository

import (
	"context"
	"errors"
	"sync"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// CaseStore persists cases, their items, and per-integration result documents.
// Result documents are stored as raw JSON; callers decode them with the
// integration's api_version so older layouts can be archived.
type CaseStore interface {
	LoadCase(ctx context.Context, caseID string) (*domain.Case, error)
	// LoadResult always reads the latest committed document; nil means none yet.
	LoadResult(ctx context.Context, caseID string, integration domain.Integration) ([]byte, error)
	SaveResult(ctx context.Context, caseID string, integration domain.Integration, document []byte) error
	// AssignExternalID stores candidate unless the item already has an id for
	// the integration, and returns whichever id is now persisted.
	AssignExternalID(ctx context.Context, itemID string, integration domain.Integration, candidate string) (string, error)
	// AssignSession does the same for the case-level session id.
	AssignSession(ctx context.Context, caseID string, integration domain.Integration, candidate string) (string, error)
}

type resultKey struct {
	caseID      string
	integration domain.Integration
}

// MemoryCaseStore keeps cases in memory for local development and tests.
type MemoryCaseStore struct {
	mu      sync.RWMutex
	cases   map[string]*domain.Case
	results map[resultKey][]byte

	// FailSaves makes SaveResult fail while positive, decrementing on each call.
	FailSaves int
}

func NewMemoryCaseStore() *MemoryCaseStore {
	return &MemoryCaseStore{
		cases:   make(map[string]*domain.Case),
		results: make(map[resultKey][]byte),
	}
}

func (s *MemoryCaseStore) PutCase(c *domain.Case) {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := domain.CloneCase(c)
	for index := range clone.Items {
		clone.Items[index].CaseID = clone.ID
	}
	s.cases[c.ID] = clone
}

func (s *MemoryCaseStore) LoadCase(_ context.Context, caseID string) (*domain.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[caseID]
	if !ok {
		return nil, ErrNotFound
	}
	return domain.CloneCase(c), nil
}

func (s *MemoryCaseStore) LoadResult(_ context.Context, caseID string, integration domain.Integration) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	document, ok := s.results[resultKey{caseID: caseID, integration: integration}]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), document...), nil
}

func (s *MemoryCaseStore) SaveResult(_ context.Context, caseID string, integration domain.Integration, document []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailSaves > 0 {
		s.FailSaves--
		return errors.New("memory store: injected save failure")
	}
	if _, ok := s.cases[caseID]; !ok {
		return ErrNotFound
	}
	s.results[resultKey{caseID: caseID, integration: integration}] = append([]byte(nil), document...)
	return nil
}

func (s *MemoryCaseStore) AssignExternalID(_ context.Context, itemID string, integration domain.Integration, candidate string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.cases {
		for index := range c.Items {
			item := &c.Items[index]
			if item.ID != itemID {
				continue
			}
			if item.ExternalIDs == nil {
				item.ExternalIDs = make(map[domain.Integration]string)
			}
			if existing := item.ExternalIDs[integration]; existing != "" {
				return existing, nil
			}
			item.ExternalIDs[integration] = candidate
			return candidate, nil
		}
	}
	return "", ErrNotFound
}

func (s *MemoryCaseStore) AssignSession(_ context.Context, caseID string, integration domain.Integration, candidate string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[caseID]
	if !ok {
		return "", ErrNotFound
	}
	if c.Sessions == nil {
		c.Sessions = make(map[domain.Integration]string)
	}
	if existing := c.Sessions[integration]; existing != "" {
		return existing, nil
	}
	c.Sessions[integration] = candidate
	return candidate, nil
}
