package interfaces

import (
	"context"

	"courier/pkg/types"
)

// ConversationStore holds per-identity offline queues and bounded
// per-conversation history.
// ARCHITECTURAL DISCOVERY: Narrow interface so the volatile in-memory store can
// be swapped for SQLite or Redis without touching the messaging engine.
type ConversationStore interface {
	// Queue appends message to identity's offline queue, evicting the oldest
	// entries when the queue is over capacity.
	Queue(ctx context.Context, identity string, message *types.Message) error

	// DrainQueue returns identity's queued messages in send order and clears
	// the queue atomically. A message is returned by at most one drain.
	DrainQueue(ctx context.Context, identity string) ([]*types.Message, error)

	// Record appends message to the history of its conversation, trimming the
	// oldest entries when over capacity.
	Record(ctx context.Context, message *types.Message) error

	// History returns at most limit of the most recent messages between the
	// two identities, oldest first. Argument order does not matter.
	History(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error)

	// HealthCheck verifies the backend is reachable
	HealthCheck(ctx context.Context) error

	// Close releases backend resources
	Close() error
}
