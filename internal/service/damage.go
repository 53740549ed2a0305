package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/coord"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/recognition"
)

const damageGateClass = "damage"

// ErrUnknownBatch is returned for callbacks about a batch the case never recorded.
var ErrUnknownBatch = errors.New("unknown batch")

// recognizeDamage runs a synchronous round against the damage inspector. The
// whole round happens under the case lock: the session id is resolved, the
// batch uploaded and the answers recorded in one write.
func (s *RecognitionService) recognizeDamage(ctx context.Context, caseID string) error {
	integration := domain.IntegrationDamage
	if s.damage == nil || !s.damage.Available() {
		return domain.ErrUpstreamUnavailable
	}

	slot, err := s.gate.Acquire(ctx, damageGateClass, s.config.DamageGate)
	if err != nil {
		return err
	}
	defer s.release(ctx, slot, "gate", caseID)

	lease, err := s.locker.Acquire(ctx, coord.ResultLockKey(integration, caseID), s.config.RoundLock)
	if err != nil {
		return err
	}
	defer s.release(ctx, lease, "round lock", caseID)

	c, err := s.loadConnectedCase(ctx, caseID, integration)
	if err != nil || c == nil {
		return err
	}

	sessionID, proceed, err := s.resolveSession(ctx, c)
	if err != nil || !proceed {
		return err
	}

	doc, err := s.merger.Load(ctx, caseID, integration)
	if err != nil {
		return err
	}
	submissions, err := s.builder.Build(ctx, c, integration, doc)
	if err != nil || len(submissions) == 0 {
		return err
	}

	requestedAt := s.now()
	answers, err := s.damage.Upload(ctx, sessionID, submissions)
	if err != nil {
		// nothing is recorded as sent; the retried round rebuilds the same batch
		s.logger.Printf("damage upload failed case_id=%s session=%s err=%v", caseID, sessionID, err)
		return err
	}

	notifyNow := false
	if _, err := s.merger.MergeHeld(ctx, caseID, integration, func(doc *domain.ResultDocument) error {
		doc.RecordBatch(sessionID, batch.ExternalIDs(submissions), answers, requestedAt)
		notifyNow = s.detector.Evaluate(doc)
		return nil
	}, s.notifyAfterSave(caseID, integration, &notifyNow)); err != nil {
		return err
	}

	s.logger.Printf("damage round recorded case_id=%s session=%s sent=%d answered=%d", caseID, sessionID, len(submissions), len(answers))
	s.startProcessing(ctx, caseID, sessionID)
	return nil
}

// resolveSession returns the case's vendor session, opening one on first use.
// proceed is false when an existing session no longer accepts uploads.
func (s *RecognitionService) resolveSession(ctx context.Context, c *domain.Case) (string, bool, error) {
	integration := domain.IntegrationDamage
	if sessionID := c.Session(integration); sessionID != "" {
		open, err := s.damage.SessionOpen(ctx, sessionID)
		if err != nil {
			s.logger.Printf("damage session check failed case_id=%s session=%s err=%v", c.ID, sessionID, err)
			return "", false, nil
		}
		if !open {
			s.logger.Printf("damage round skipped case_id=%s session=%s reason=session_closed", c.ID, sessionID)
		}
		return sessionID, open, nil
	}

	opened, err := s.damage.OpenSession(ctx, c.ID)
	if err != nil {
		s.logger.Printf("damage session open failed case_id=%s err=%v", c.ID, err)
		return "", false, err
	}
	sessionID, err := s.store.AssignSession(ctx, c.ID, integration, opened)
	if err != nil {
		return "", false, fmt.Errorf("%w: assign session case_id=%s: %v", domain.ErrPersistenceFailed, c.ID, err)
	}
	return sessionID, true, nil
}

func (s *RecognitionService) startProcessing(ctx context.Context, caseID, sessionID string) {
	starter, ok := s.damage.(ProcessingStarter)
	if !ok || s.config.CallbackURL == "" {
		return
	}
	callbackURL, err := url.Parse(s.config.CallbackURL)
	if err != nil {
		s.logger.Printf("invalid callback url err=%v", err)
		return
	}
	query := callbackURL.Query()
	query.Set("case_id", caseID)
	callbackURL.RawQuery = query.Encode()

	if err := starter.StartProcessing(ctx, sessionID, callbackURL.String()); err != nil {
		s.logger.Printf("damage processing not started case_id=%s session=%s err=%v", caseID, sessionID, err)
	}
}

// HandleCallback merges a session-level vendor report into the case's result
// document as sections of the session batch.
func (s *RecognitionService) HandleCallback(ctx context.Context, integration domain.Integration, caseID string, body []byte) error {
	if integration != domain.IntegrationDamage {
		return fmt.Errorf("%w: callbacks are not supported for %s", ErrUnknownIntegration, integration)
	}
	callback, err := recognition.ParseDamageCallback(body)
	if err != nil {
		return err
	}

	c, err := s.store.LoadCase(ctx, caseID)
	if err != nil {
		return err
	}
	if c.Session(integration) != callback.SessionID {
		return fmt.Errorf("%w: session %s does not belong to case %s", ErrUnknownBatch, callback.SessionID, caseID)
	}

	_, err = s.merger.Merge(ctx, caseID, integration, func(doc *domain.ResultDocument) error {
		if !doc.RecordSections(callback.SessionID, callback.Sections) {
			return fmt.Errorf("%w: %s", ErrUnknownBatch, callback.SessionID)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Printf("damage callback merged case_id=%s session=%s sections=%d", caseID, callback.SessionID, len(callback.Sections))
	return nil
}
