package store

import (
	"fmt"

	"github.com/rs/zerolog"

	"courier/pkg/interfaces"
)

const (
	DefaultQueueCapacity   = 500
	DefaultHistoryCapacity = 1000
)

// Backends selectable through configuration
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Options configures a conversation store backend
type Options struct {
	Backend         string
	QueueCapacity   int
	HistoryCapacity int
	SQLitePath      string
	RedisURL        string
}

func (o Options) capacities() (int, int) {
	queueCap, historyCap := o.QueueCapacity, o.HistoryCapacity
	if queueCap <= 0 {
		queueCap = DefaultQueueCapacity
	}
	if historyCap <= 0 {
		historyCap = DefaultHistoryCapacity
	}
	return queueCap, historyCap
}

// New builds the backend named in opts.
func New(opts Options, logger zerolog.Logger) (interfaces.ConversationStore, error) {
	queueCap, historyCap := opts.capacities()
	logger = logger.With().Str("component", "store").Str("backend", opts.Backend).Logger()

	switch opts.Backend {
	case "", BackendMemory:
		return NewMemoryStore(queueCap, historyCap), nil
	case BackendSQLite:
		s, err := NewSQLiteStore(opts.SQLitePath, queueCap, historyCap, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendRedis:
		s, err := NewRedisStore(opts.RedisURL, queueCap, historyCap)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

// tail returns the last n entries of list, or all of them when n exceeds len.
func tail[T any](list []T, n int) []T {
	if n < 0 {
		n = 0
	}
	if n >= len(list) {
		return list
	}
	return list[len(list)-n:]
}
