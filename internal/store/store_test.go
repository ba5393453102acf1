package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/pkg/interfaces"
	"courier/pkg/types"
)

type storeFactory func(t *testing.T, queueCap, historyCap int) interfaces.ConversationStore

func backends(t *testing.T) map[string]storeFactory {
	factories := map[string]storeFactory{
		"memory": func(t *testing.T, queueCap, historyCap int) interfaces.ConversationStore {
			return NewMemoryStore(queueCap, historyCap)
		},
		"sqlite-memory": func(t *testing.T, queueCap, historyCap int) interfaces.ConversationStore {
			s, err := NewSQLiteStore("", queueCap, historyCap, zerolog.Nop())
			require.NoError(t, err)
			return s
		},
		"sqlite-file": func(t *testing.T, queueCap, historyCap int) interfaces.ConversationStore {
			path := filepath.Join(t.TempDir(), "courier.db")
			s, err := NewSQLiteStore(path, queueCap, historyCap, zerolog.Nop())
			require.NoError(t, err)
			return s
		},
	}

	if url := os.Getenv("COURIER_TEST_REDIS_URL"); url != "" {
		factories["redis"] = func(t *testing.T, queueCap, historyCap int) interfaces.ConversationStore {
			s, err := NewRedisStore(url, queueCap, historyCap)
			require.NoError(t, err)
			require.NoError(t, s.client.FlushDB(context.Background()).Err())
			return s
		}
	}
	return factories
}

func newMessage(from, to string, n int) *types.Message {
	return &types.Message{
		ID:        fmt.Sprintf("%s-%s-%d", from, to, n),
		From:      from,
		To:        to,
		Content:   fmt.Sprintf("message %d", n),
		CreatedAt: time.UnixMilli(1700000000000 + int64(n)),
	}
}

func ids(messages []*types.Message) []string {
	out := make([]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, m.ID)
	}
	return out
}

func TestStore_QueueAndDrain(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 10, 10)
			defer s.Close()

			for i := 0; i < 3; i++ {
				require.NoError(t, s.Queue(ctx, "bob", newMessage("alice", "bob", i)))
			}

			drained, err := s.DrainQueue(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, []string{"alice-bob-0", "alice-bob-1", "alice-bob-2"}, ids(drained))
			assert.Equal(t, "message 0", drained[0].Content)
			assert.Equal(t, int64(1700000000000), drained[0].Timestamp())

			again, err := s.DrainQueue(ctx, "bob")
			require.NoError(t, err)
			assert.Empty(t, again)

			none, err := s.DrainQueue(ctx, "nobody")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestStore_QueueCapacityDropsOldest(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 5, 10)
			defer s.Close()

			for i := 0; i < 8; i++ {
				require.NoError(t, s.Queue(ctx, "bob", newMessage("alice", "bob", i)))
			}

			drained, err := s.DrainQueue(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, []string{
				"alice-bob-3", "alice-bob-4", "alice-bob-5", "alice-bob-6", "alice-bob-7",
			}, ids(drained))
		})
	}
}

func TestStore_QueuesAreIndependent(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 10, 10)
			defer s.Close()

			require.NoError(t, s.Queue(ctx, "bob", newMessage("alice", "bob", 1)))
			require.NoError(t, s.Queue(ctx, "carol", newMessage("alice", "carol", 1)))

			drained, err := s.DrainQueue(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, []string{"alice-bob-1"}, ids(drained))

			drained, err = s.DrainQueue(ctx, "carol")
			require.NoError(t, err)
			assert.Equal(t, []string{"alice-carol-1"}, ids(drained))
		})
	}
}

func TestStore_HistorySymmetricAndLimited(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 10, 100)
			defer s.Close()

			require.NoError(t, s.Record(ctx, newMessage("alice", "bob", 0)))
			require.NoError(t, s.Record(ctx, newMessage("bob", "alice", 1)))
			require.NoError(t, s.Record(ctx, newMessage("alice", "bob", 2)))
			require.NoError(t, s.Record(ctx, newMessage("alice", "carol", 3)))

			ab, err := s.History(ctx, "alice", "bob", 50)
			require.NoError(t, err)
			ba, err := s.History(ctx, "bob", "alice", 50)
			require.NoError(t, err)

			assert.Equal(t, []string{"alice-bob-0", "bob-alice-1", "alice-bob-2"}, ids(ab))
			assert.Equal(t, ids(ab), ids(ba))

			last, err := s.History(ctx, "bob", "alice", 2)
			require.NoError(t, err)
			assert.Equal(t, []string{"bob-alice-1", "alice-bob-2"}, ids(last))

			empty, err := s.History(ctx, "bob", "carol", 50)
			require.NoError(t, err)
			assert.Empty(t, empty)
		})
	}
}

func TestStore_HistoryCapacityDropsOldest(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 10, 4)
			defer s.Close()

			for i := 0; i < 7; i++ {
				require.NoError(t, s.Record(ctx, newMessage("alice", "bob", i)))
			}

			history, err := s.History(ctx, "alice", "bob", 200)
			require.NoError(t, err)
			assert.Equal(t, []string{"alice-bob-3", "alice-bob-4", "alice-bob-5", "alice-bob-6"}, ids(history))
		})
	}
}

func TestStore_ConcurrentDrainIsExactlyOnce(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 1000, 10)
			defer s.Close()

			const total = 200
			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				drained []*types.Message
			)

			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < total; i++ {
					assert.NoError(t, s.Queue(ctx, "bob", newMessage("alice", "bob", i)))
				}
			}()

			for d := 0; d < 4; d++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < 20; i++ {
						batch, err := s.DrainQueue(ctx, "bob")
						assert.NoError(t, err)
						mu.Lock()
						drained = append(drained, batch...)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			rest, err := s.DrainQueue(ctx, "bob")
			require.NoError(t, err)
			drained = append(drained, rest...)

			seen := make(map[string]bool, total)
			for _, m := range drained {
				assert.False(t, seen[m.ID], "message %s drained twice", m.ID)
				seen[m.ID] = true
			}
			assert.Len(t, seen, total)
		})
	}
}

func TestStore_ClosedStoreRejectsOperations(t *testing.T) {
	ctx := context.Background()
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t, 10, 10)
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			assert.ErrorIs(t, s.Queue(ctx, "bob", newMessage("alice", "bob", 0)), interfaces.ErrStoreClosed)
			_, err := s.DrainQueue(ctx, "bob")
			assert.ErrorIs(t, err, interfaces.ErrStoreClosed)
			assert.ErrorIs(t, s.Record(ctx, newMessage("alice", "bob", 0)), interfaces.ErrStoreClosed)
			_, err = s.History(ctx, "alice", "bob", 10)
			assert.ErrorIs(t, err, interfaces.ErrStoreClosed)
		})
	}
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "courier.db")

	s, err := NewSQLiteStore(path, 10, 10, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Queue(ctx, "bob", newMessage("alice", "bob", 1)))
	require.NoError(t, s.Record(ctx, newMessage("alice", "bob", 1)))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, 10, 10, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()

	drained, err := s.DrainQueue(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-bob-1"}, ids(drained))

	history, err := s.History(ctx, "bob", "alice", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"alice-bob-1"}, ids(history))
}

func TestNew_SelectsBackend(t *testing.T) {
	s, err := New(Options{}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	require.NoError(t, s.Close())

	s, err = New(Options{Backend: BackendSQLite}, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	require.NoError(t, s.HealthCheck(context.Background()))
	require.NoError(t, s.Close())

	_, err = New(Options{Backend: "cassandra"}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnknownBackend)

	_, err = New(Options{Backend: BackendRedis, RedisURL: "not a url"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestTail(t *testing.T) {
	list := []int{1, 2, 3, 4}
	assert.Equal(t, []int{3, 4}, tail(list, 2))
	assert.Equal(t, list, tail(list, 10))
	assert.Empty(t, tail(list, 0))
	assert.Empty(t, tail(list, -1))
}
