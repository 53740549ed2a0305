// Package queue moves job messages between the API and the worker pool.
// Delivery is at-least-once. Messages carrying a future NotBefore are held
// back until due. A handler error moves the message to the dead-letter queue;
// retries are explicit re-enqueues decided by the caller.
package queue

import (
	"context"

	"github.com/iago/recognition-orchestrator/internal/domain"
)

// Handler processes one delivered message.
type Handler func(ctx context.Context, message domain.QueueMessage) error

// Producer sends jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// Consumer receives jobs and executes handler for each one until ctx ends.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

// DeadLetter is a message the handler rejected.
type DeadLetter struct {
	Message domain.QueueMessage
	Error   string
}
