package domain

import "errors"

// Failure taxonomy shared by the orchestration layer. Gate and lock misses are
// always recovered by re-enqueueing; ErrUpstreamUnavailable is a silent no-op.
var (
	ErrGateUnavailable     = errors.New("admission gate unavailable")
	ErrLockUnavailable     = errors.New("lock unavailable")
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrSubmissionFailed    = errors.New("submission failed")
	ErrResultNotReady      = errors.New("result not ready")
	ErrResultMissing       = errors.New("result missing")
	ErrPersistenceFailed   = errors.New("persistence failed")
)
