package store

import (
	"context"
	"sync"

	"courier/pkg/interfaces"
	"courier/pkg/types"
)

// MemoryStore is the volatile reference backend.
// TECHNICAL DISCOVERY: One mutex guards both maps; every operation is O(n) on
// small bounded slices so contention stays low.
type MemoryStore struct {
	mu              sync.Mutex
	queues          map[string][]*types.Message // identity -> pending messages
	history         map[string][]*types.Message // conversation key -> log
	queueCapacity   int
	historyCapacity int
	closed          bool
}

// NewMemoryStore creates an in-memory store with the given capacities
func NewMemoryStore(queueCapacity, historyCapacity int) *MemoryStore {
	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}
	return &MemoryStore{
		queues:          make(map[string][]*types.Message),
		history:         make(map[string][]*types.Message),
		queueCapacity:   queueCapacity,
		historyCapacity: historyCapacity,
	}
}

// Queue appends message to identity's offline queue, dropping the oldest on overflow
func (s *MemoryStore) Queue(ctx context.Context, identity string, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return interfaces.ErrStoreClosed
	}

	queue := append(s.queues[identity], message)
	s.queues[identity] = trimFront(queue, s.queueCapacity)
	return nil
}

// DrainQueue returns and clears identity's queue in one critical section
func (s *MemoryStore) DrainQueue(ctx context.Context, identity string) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, interfaces.ErrStoreClosed
	}

	queue := s.queues[identity]
	delete(s.queues, identity)
	return queue, nil
}

// Record appends message to its conversation history
func (s *MemoryStore) Record(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return interfaces.ErrStoreClosed
	}

	key := types.ConversationKey(message.From, message.To)
	list := append(s.history[key], message)
	s.history[key] = trimFront(list, s.historyCapacity)
	return nil
}

// History returns up to limit most recent messages between userA and userB, oldest first
func (s *MemoryStore) History(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, interfaces.ErrStoreClosed
	}

	list := tail(s.history[types.ConversationKey(userA, userB)], limit)
	result := make([]*types.Message, len(list))
	copy(result, list)
	return result, nil
}

// HealthCheck always passes for the in-memory backend unless closed
func (s *MemoryStore) HealthCheck(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return interfaces.ErrStoreClosed
	}
	return nil
}

// Close drops all state
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.queues = make(map[string][]*types.Message)
	s.history = make(map[string][]*types.Message)
	return nil
}

// trimFront drops the oldest entries so list fits capacity. The returned slice
// never aliases dropped entries, so they can be collected.
func trimFront(list []*types.Message, capacity int) []*types.Message {
	if len(list) <= capacity {
		return list
	}
	trimmed := make([]*types.Message, capacity)
	copy(trimmed, list[len(list)-capacity:])
	return trimmed
}
