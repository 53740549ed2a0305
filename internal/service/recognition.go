package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/coord"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/notify"
	"github.com/iago/recognition-orchestrator/internal/recognition"
	"github.com/iago/recognition-orchestrator/internal/repository"
	"github.com/iago/recognition-orchestrator/internal/result"
)

var ErrUnknownIntegration = errors.New("unknown integration")

// ProcessingStarter is implemented by session inspectors that run a
// session-level analysis and report through a callback.
type ProcessingStarter interface {
	StartProcessing(ctx context.Context, sessionID, callbackURL string) error
}

type RecognitionConfig struct {
	// DocumentsGate bounds concurrent submission rounds to the document recognizer.
	DocumentsGate coord.GateOptions
	// CollectGate bounds concurrent polls; it shares the documents gate class.
	CollectGate coord.GateOptions
	DamageGate  coord.GateOptions
	// RoundLock is the long case lock held while a round selects its batch.
	RoundLock coord.LockOptions
	// NotifyPerItem and NotifyCeiling size the delayed round notifier.
	NotifyPerItem time.Duration
	NotifyCeiling time.Duration
	// CallbackURL receives session-level reports; empty disables them.
	CallbackURL string
}

func DefaultRecognitionConfig() RecognitionConfig {
	return RecognitionConfig{
		DocumentsGate: coord.GateOptions{Capacity: 1, Wait: 0, TTL: 300 * time.Second},
		CollectGate:   coord.GateOptions{Capacity: 1, Wait: 0, TTL: 200 * time.Second},
		DamageGate:    coord.GateOptions{Capacity: 1, Wait: 0, TTL: 200 * time.Second},
		RoundLock:     coord.LockOptions{Wait: time.Second, TTL: 600 * time.Second},
		NotifyPerItem: 3 * time.Second,
		NotifyCeiling: 10 * time.Second,
	}
}

type RecognitionDependencies struct {
	Store     repository.CaseStore
	Gate      coord.Gate
	Locker    coord.Locker
	Builder   *batch.Builder
	Merger    *result.Merger
	Detector  *result.Detector
	Documents recognition.AsyncRecognizer
	Damage    recognition.SessionInspector
	Scheduler notify.JobScheduler
	Notifier  notify.Notifier
	Config    RecognitionConfig
	Logger    *log.Logger
}

// RecognitionService runs submission rounds, collects asynchronous answers and
// merges vendor callbacks into result documents.
type RecognitionService struct {
	store     repository.CaseStore
	gate      coord.Gate
	locker    coord.Locker
	builder   *batch.Builder
	merger    *result.Merger
	detector  *result.Detector
	documents recognition.AsyncRecognizer
	damage    recognition.SessionInspector
	scheduler notify.JobScheduler
	notifier  notify.Notifier
	config    RecognitionConfig
	logger    *log.Logger
	now       func() time.Time
}

func NewRecognitionService(deps RecognitionDependencies) *RecognitionService {
	if deps.Logger == nil {
		deps.Logger = log.New(io.Discard, "", 0)
	}
	if deps.Detector == nil {
		deps.Detector = result.NewDetector()
	}
	if deps.Notifier == nil && deps.Scheduler != nil {
		deps.Notifier = notify.NewQueueNotifier(deps.Scheduler)
	}
	defaults := DefaultRecognitionConfig()
	config := deps.Config
	if config.DocumentsGate.TTL <= 0 {
		config.DocumentsGate = defaults.DocumentsGate
	}
	if config.CollectGate.TTL <= 0 {
		config.CollectGate = defaults.CollectGate
	}
	if config.DamageGate.TTL <= 0 {
		config.DamageGate = defaults.DamageGate
	}
	if config.RoundLock.TTL <= 0 {
		config.RoundLock = defaults.RoundLock
	}
	if config.NotifyPerItem <= 0 {
		config.NotifyPerItem = defaults.NotifyPerItem
	}
	if config.NotifyCeiling <= 0 {
		config.NotifyCeiling = defaults.NotifyCeiling
	}

	return &RecognitionService{
		store:     deps.Store,
		gate:      deps.Gate,
		locker:    deps.Locker,
		builder:   deps.Builder,
		merger:    deps.Merger,
		detector:  deps.Detector,
		documents: deps.Documents,
		damage:    deps.Damage,
		scheduler: deps.Scheduler,
		notifier:  deps.Notifier,
		config:    config,
		logger:    deps.Logger,
		now:       time.Now,
	}
}

// Recognize runs one submission round for the case against integration.
func (s *RecognitionService) Recognize(ctx context.Context, caseID string, integration domain.Integration) error {
	switch integration {
	case domain.IntegrationDocuments:
		return s.recognizeDocuments(ctx, caseID)
	case domain.IntegrationDamage:
		return s.recognizeDamage(ctx, caseID)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownIntegration, integration)
	}
}

// Status is a read-only view of a case's result document.
type Status struct {
	Document    *domain.ResultDocument
	Complete    bool
	Outstanding []string
}

func (s *RecognitionService) Status(ctx context.Context, caseID string, integration domain.Integration) (Status, error) {
	if _, err := s.store.LoadCase(ctx, caseID); err != nil {
		return Status{}, err
	}
	doc, err := s.merger.Load(ctx, caseID, integration)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Document:    doc,
		Complete:    s.detector.Complete(doc),
		Outstanding: doc.Outstanding(),
	}, nil
}

// RoundDeadline re-runs completion detection after the round's answers were
// due. It never notifies while answers are outstanding; collect jobs keep
// polling those and the last one to land sends the notification.
func (s *RecognitionService) RoundDeadline(ctx context.Context, caseID string, integration domain.Integration) error {
	notifyNow := false
	_, err := s.merger.MergeThen(ctx, caseID, integration, func(doc *domain.ResultDocument) error {
		notifyNow = s.detector.Evaluate(doc)
		if !notifyNow {
			return result.ErrNoChange
		}
		return nil
	}, s.notifyAfterSave(caseID, integration, &notifyNow))
	if err != nil {
		return err
	}
	if notifyNow {
		s.logger.Printf("round deadline notified case_id=%s integration=%s", caseID, integration)
	} else {
		s.logger.Printf("round deadline found nothing to notify case_id=%s integration=%s", caseID, integration)
	}
	return nil
}

// notifyAfterSave returns a commit hook that fires the notifier when *due is
// set. Notifier failures are logged; the flag is already persisted.
func (s *RecognitionService) notifyAfterSave(caseID string, integration domain.Integration, due *bool) result.Commit {
	return func(ctx context.Context, _ *domain.ResultDocument) error {
		if !*due || s.notifier == nil {
			return nil
		}
		if err := s.notifier.Notify(ctx, caseID, integration); err != nil {
			s.logger.Printf("notification trigger failed case_id=%s integration=%s err=%v", caseID, integration, err)
		}
		return nil
	}
}

func (s *RecognitionService) release(ctx context.Context, lease coord.Lease, what, caseID string) {
	if lease == nil {
		return
	}
	if err := lease.Release(ctx); err != nil {
		s.logger.Printf("%s release failed case_id=%s err=%v", what, caseID, err)
	}
}

// loadConnectedCase returns nil without error when the case is gone or not
// connected to integration; there is nothing to do in both cases.
func (s *RecognitionService) loadConnectedCase(ctx context.Context, caseID string, integration domain.Integration) (*domain.Case, error) {
	c, err := s.store.LoadCase(ctx, caseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.logger.Printf("round skipped case_id=%s integration=%s reason=case_not_found", caseID, integration)
			return nil, nil
		}
		return nil, fmt.Errorf("%w: load case %s: %v", domain.ErrPersistenceFailed, caseID, err)
	}
	if !c.Connected(integration) {
		return nil, nil
	}
	return c, nil
}
