// Package result owns read-modify-write of result documents and decides when
// a recognition round is complete.
package result

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/iago/recognition-orchestrator/internal/coord"
	"github.com/iago/recognition-orchestrator/internal/domain"
)

// ErrNoChange may be returned by a Fold to skip the save.
var ErrNoChange = errors.New("result document unchanged")

// Fold applies one change to a freshly loaded document.
type Fold func(doc *domain.ResultDocument) error

// Commit runs after a successful save while the lock is still held.
type Commit func(ctx context.Context, doc *domain.ResultDocument) error

// DocumentStore is the slice of the case store the merger needs.
type DocumentStore interface {
	LoadResult(ctx context.Context, caseID string, integration domain.Integration) ([]byte, error)
	SaveResult(ctx context.Context, caseID string, integration domain.Integration, document []byte) error
}

type MergerConfig struct {
	LockWait time.Duration
	LockTTL  time.Duration
	// Versions maps an integration to its current api_version.
	Versions map[domain.Integration]int
}

type Merger struct {
	store    DocumentStore
	locker   coord.Locker
	lockOpts coord.LockOptions
	versions map[domain.Integration]int
	logger   *log.Logger
}

// DefaultVersions are the document layouts currently written per integration.
func DefaultVersions() map[domain.Integration]int {
	return map[domain.Integration]int{
		domain.IntegrationDocuments: 1,
		domain.IntegrationDamage:    2,
	}
}

func NewMerger(store DocumentStore, locker coord.Locker, config MergerConfig, logger *log.Logger) *Merger {
	if config.LockWait <= 0 {
		config.LockWait = 10 * time.Second
	}
	if config.LockTTL <= 0 {
		config.LockTTL = 20 * time.Second
	}
	if config.Versions == nil {
		config.Versions = DefaultVersions()
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Merger{
		store:    store,
		locker:   locker,
		lockOpts: coord.LockOptions{Wait: config.LockWait, TTL: config.LockTTL},
		versions: config.Versions,
		logger:   logger,
	}
}

func (m *Merger) Version(integration domain.Integration) int {
	if version, ok := m.versions[integration]; ok {
		return version
	}
	return 1
}

// Merge acquires the case lock, reloads the latest document, applies fold and saves.
func (m *Merger) Merge(ctx context.Context, caseID string, integration domain.Integration, fold Fold) (*domain.ResultDocument, error) {
	return m.MergeThen(ctx, caseID, integration, fold, nil)
}

// MergeThen is Merge followed by then, which runs before the lock is released.
func (m *Merger) MergeThen(ctx context.Context, caseID string, integration domain.Integration, fold Fold, then Commit) (*domain.ResultDocument, error) {
	lease, err := m.locker.Acquire(ctx, coord.ResultLockKey(integration, caseID), m.lockOpts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if releaseErr := lease.Release(ctx); releaseErr != nil {
			m.logger.Printf("result lock release failed case_id=%s integration=%s err=%v", caseID, integration, releaseErr)
		}
	}()

	return m.MergeHeld(ctx, caseID, integration, fold, then)
}

// MergeHeld performs the reload, fold and save for a caller that already holds
// the case lock.
func (m *Merger) MergeHeld(ctx context.Context, caseID string, integration domain.Integration, fold Fold, then Commit) (*domain.ResultDocument, error) {
	doc, err := m.Load(ctx, caseID, integration)
	if err != nil {
		return nil, err
	}

	if err := fold(doc); err != nil {
		if errors.Is(err, ErrNoChange) {
			return doc, nil
		}
		return nil, err
	}

	encoded, err := doc.Encode()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	if err := m.store.SaveResult(ctx, caseID, integration, encoded); err != nil {
		return nil, fmt.Errorf("%w: save result case_id=%s: %v", domain.ErrPersistenceFailed, caseID, err)
	}

	if then != nil {
		if err := then(ctx, doc); err != nil {
			return doc, err
		}
	}
	return doc, nil
}

// Load reads the latest committed document. Without the lock the result is a
// snapshot and must not be written back.
func (m *Merger) Load(ctx context.Context, caseID string, integration domain.Integration) (*domain.ResultDocument, error) {
	raw, err := m.store.LoadResult(ctx, caseID, integration)
	if err != nil {
		return nil, fmt.Errorf("%w: load result case_id=%s: %v", domain.ErrPersistenceFailed, caseID, err)
	}
	doc, err := domain.DecodeResultDocument(raw, m.Version(integration))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailed, err)
	}
	if len(doc.OldResult) > 0 && bytes.Equal(bytes.TrimSpace(raw), doc.OldResult) {
		m.logger.Printf("result document archived case_id=%s integration=%s api_version=%d", caseID, integration, doc.APIVersion)
	}
	return doc, nil
}
