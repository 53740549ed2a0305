package service

import (
	"context"
	"fmt"

	"github.com/iago/recognition-orchestrator/internal/batch"
	"github.com/iago/recognition-orchestrator/internal/coord"
	"github.com/iago/recognition-orchestrator/internal/domain"
	"github.com/iago/recognition-orchestrator/internal/notify"
	"github.com/iago/recognition-orchestrator/internal/recognition"
	"github.com/iago/recognition-orchestrator/internal/result"
)

const documentsGateClass = "documents"

// recognizeDocuments selects the items still waiting for a document answer,
// submits each one and schedules a collect job per task. The case lock is held
// only while the batch is selected; every recorded request is a short merge.
func (s *RecognitionService) recognizeDocuments(ctx context.Context, caseID string) error {
	integration := domain.IntegrationDocuments
	if s.documents == nil || !s.documents.Available() {
		return domain.ErrUpstreamUnavailable
	}

	slot, err := s.gate.Acquire(ctx, documentsGateClass, s.config.DocumentsGate)
	if err != nil {
		return err
	}
	defer s.release(ctx, slot, "gate", caseID)

	submissions, err := s.selectBatch(ctx, caseID, integration)
	if err != nil || len(submissions) == 0 {
		return err
	}

	recorded := 0
	defer func() {
		if recorded > 0 {
			s.scheduleDeadline(ctx, caseID, integration, recorded)
		}
	}()

	for _, submission := range submissions {
		requestedAt := s.now()
		taskID, err := s.documents.Submit(ctx, submission)
		if err != nil {
			s.logger.Printf("documents submit failed case_id=%s external_id=%s err=%v", caseID, submission.ExternalID, err)
			return err
		}

		if _, err := s.merger.Merge(ctx, caseID, integration, func(doc *domain.ResultDocument) error {
			doc.RecordRequest(taskID, []string{submission.ExternalID}, requestedAt)
			return nil
		}); err != nil {
			return err
		}
		recorded++

		if _, err := s.scheduler.Schedule(ctx, domain.JobRequest{
			Kind:        domain.JobKindCollect,
			CaseID:      caseID,
			Integration: integration,
			TaskID:      taskID,
		}); err != nil {
			return fmt.Errorf("%w: schedule collect task_id=%s: %v", domain.ErrPersistenceFailed, taskID, err)
		}
	}

	s.logger.Printf("documents round submitted case_id=%s items=%d", caseID, recorded)
	return nil
}

func (s *RecognitionService) selectBatch(ctx context.Context, caseID string, integration domain.Integration) ([]batch.Submission, error) {
	lease, err := s.locker.Acquire(ctx, coord.ResultLockKey(integration, caseID), s.config.RoundLock)
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, lease, "round lock", caseID)

	c, err := s.loadConnectedCase(ctx, caseID, integration)
	if err != nil || c == nil {
		return nil, err
	}
	doc, err := s.merger.Load(ctx, caseID, integration)
	if err != nil {
		return nil, err
	}
	return s.builder.Build(ctx, c, integration, doc)
}

func (s *RecognitionService) scheduleDeadline(ctx context.Context, caseID string, integration domain.Integration, requests int) {
	delay := notify.RoundDelay(requests, s.config.NotifyPerItem, s.config.NotifyCeiling)
	if _, err := s.scheduler.Schedule(context.WithoutCancel(ctx), domain.JobRequest{
		Kind:        domain.JobKindRoundDeadline,
		CaseID:      caseID,
		Integration: integration,
		Delay:       delay,
	}); err != nil {
		s.logger.Printf("round deadline not scheduled case_id=%s integration=%s err=%v", caseID, integration, err)
	}
}

// Collect polls one asynchronous task and merges its answer. The round
// notification fires from here once every request has an answer.
func (s *RecognitionService) Collect(ctx context.Context, caseID string, integration domain.Integration, taskID string) error {
	if integration != domain.IntegrationDocuments {
		return fmt.Errorf("%w: collect is not supported for %s", ErrUnknownIntegration, integration)
	}
	if s.documents == nil || !s.documents.Available() {
		return domain.ErrUpstreamUnavailable
	}

	slot, err := s.gate.Acquire(ctx, documentsGateClass, s.config.CollectGate)
	if err != nil {
		return err
	}
	defer s.release(ctx, slot, "gate", caseID)

	polled, err := s.documents.Poll(ctx, taskID)
	if err != nil {
		return err
	}
	switch polled.Status {
	case recognition.PollPending:
		return fmt.Errorf("%w: task_id=%s", domain.ErrResultNotReady, taskID)
	case recognition.PollNotFound:
		return fmt.Errorf("%w: task_id=%s", domain.ErrResultMissing, taskID)
	}

	notifyNow := false
	_, err = s.merger.MergeThen(ctx, caseID, integration, func(doc *domain.ResultDocument) error {
		if doc.RecordAnswer(taskID, polled.Payload) == 0 {
			s.logger.Printf("answer for unknown task ignored case_id=%s task_id=%s", caseID, taskID)
			return result.ErrNoChange
		}
		notifyNow = s.detector.Evaluate(doc)
		return nil
	}, s.notifyAfterSave(caseID, integration, &notifyNow))
	return err
}
