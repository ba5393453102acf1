package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"courier/pkg/interfaces"
	"courier/pkg/types"
)

// Pragmas applied to file-backed databases
const sqliteOptimizations = `
	PRAGMA journal_mode = WAL;
	PRAGMA synchronous = NORMAL;
	PRAGMA temp_store = MEMORY;
	PRAGMA busy_timeout = 5000;
`

const writeTimeout = 30 * time.Second

// SQLiteStore keeps queues and history in SQLite.
// ARCHITECTURAL DISCOVERY: All writes, including drains, go through a single
// writer goroutine. SQLite serializes writers anyway, and funnelling them makes
// DrainQueue atomic with respect to concurrent Queue calls.
type SQLiteStore struct {
	db              *sql.DB
	queueCapacity   int
	historyCapacity int
	logger          zerolog.Logger

	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	ctx       context.Context
	operation func(context.Context, *sql.DB) error
	result    chan error
}

// NewSQLiteStore opens (or creates) the database at path. An empty path or
// ":memory:" uses a private in-memory database that vanishes on Close.
func NewSQLiteStore(path string, queueCapacity, historyCapacity int, logger zerolog.Logger) (*SQLiteStore, error) {
	inMemory := path == "" || path == ":memory:"

	dsn := path + "?_busy_timeout=5000&_foreign_keys=on"
	if inMemory {
		dsn = fmt.Sprintf("file:courier-%s?mode=memory&cache=shared", uuid.New().String())
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		// The database lives as long as one connection stays open
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		db.SetMaxOpenConns(10)
		db.SetConnMaxIdleTime(10 * time.Minute)
		if _, err := db.Exec(sqliteOptimizations); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply SQLite optimizations: %w", err)
		}
	}

	migrator := NewMigrationManager(db)
	if err := migrator.ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := migrator.ValidateSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if queueCapacity <= 0 {
		queueCapacity = DefaultQueueCapacity
	}
	if historyCapacity <= 0 {
		historyCapacity = DefaultHistoryCapacity
	}

	s := &SQLiteStore{
		db:              db,
		queueCapacity:   queueCapacity,
		historyCapacity: historyCapacity,
		logger:          logger,
		writeChannel:    make(chan writeOperation, 100),
		shutdown:        make(chan struct{}),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

// writeLoop processes all write operations in a single goroutine
func (s *SQLiteStore) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case op := <-s.writeChannel:
			err := op.operation(op.ctx, s.db)
			if err != nil {
				s.logger.Error().Err(err).Msg("store write failed")
			}
			op.result <- err

		case <-s.shutdown:
			return
		}
	}
}

// executeWrite queues a write operation and waits for completion
func (s *SQLiteStore) executeWrite(ctx context.Context, operation func(context.Context, *sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return interfaces.ErrStoreClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	timer := time.NewTimer(writeTimeout)
	defer timer.Stop()

	select {
	case s.writeChannel <- writeOperation{ctx: ctx, operation: operation, result: result}:
	case <-timer.C:
		return ErrWriteTimeout
	case <-ctx.Done():
		return ctx.Err()
	case <-s.shutdown:
		return interfaces.ErrStoreClosed
	}

	select {
	case err := <-result:
		return err
	case <-s.shutdown:
		return interfaces.ErrStoreClosed
	}
}

// Queue appends message to identity's queue and trims the oldest rows over capacity
func (s *SQLiteStore) Queue(ctx context.Context, identity string, message *types.Message) error {
	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO offline_queue (identity, id, from_user, to_user, content, created_at, delivered)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			identity, message.ID, message.From, message.To, message.Content,
			message.CreatedAt.UnixMilli(), message.Delivered,
		)
		if err != nil {
			return fmt.Errorf("failed to queue message: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM offline_queue
			WHERE identity = ? AND seq NOT IN (
				SELECT seq FROM offline_queue WHERE identity = ? ORDER BY seq DESC LIMIT ?
			)`,
			identity, identity, s.queueCapacity,
		)
		if err != nil {
			return fmt.Errorf("failed to trim queue: %w", err)
		}

		return tx.Commit()
	})
}

// DrainQueue reads and deletes identity's queue in one transaction
func (s *SQLiteStore) DrainQueue(ctx context.Context, identity string) ([]*types.Message, error) {
	var drained []*types.Message

	err := s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		rows, err := tx.QueryContext(ctx, `
			SELECT id, from_user, to_user, content, created_at, delivered
			FROM offline_queue WHERE identity = ? ORDER BY seq ASC`,
			identity,
		)
		if err != nil {
			return fmt.Errorf("failed to read queue: %w", err)
		}
		messages, err := scanMessages(rows)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM offline_queue WHERE identity = ?`, identity); err != nil {
			return fmt.Errorf("failed to clear queue: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit drain: %w", err)
		}
		drained = messages
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}

// Record appends message to its conversation and trims over capacity
func (s *SQLiteStore) Record(ctx context.Context, message *types.Message) error {
	key := types.ConversationKey(message.From, message.To)

	return s.executeWrite(ctx, func(ctx context.Context, db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO history (conversation_key, id, from_user, to_user, content, created_at, delivered)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			key, message.ID, message.From, message.To, message.Content,
			message.CreatedAt.UnixMilli(), message.Delivered,
		)
		if err != nil {
			return fmt.Errorf("failed to record message: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			DELETE FROM history
			WHERE conversation_key = ? AND seq NOT IN (
				SELECT seq FROM history WHERE conversation_key = ? ORDER BY seq DESC LIMIT ?
			)`,
			key, key, s.historyCapacity,
		)
		if err != nil {
			return fmt.Errorf("failed to trim history: %w", err)
		}

		return tx.Commit()
	})
}

// History returns up to limit most recent messages, oldest first
func (s *SQLiteStore) History(ctx context.Context, userA, userB string, limit int) ([]*types.Message, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return nil, interfaces.ErrStoreClosed
	}
	if limit <= 0 {
		return []*types.Message{}, nil
	}

	// Read operations can run concurrently with the writer
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_user, to_user, content, created_at, delivered FROM (
			SELECT seq, id, from_user, to_user, content, created_at, delivered
			FROM history WHERE conversation_key = ? ORDER BY seq DESC LIMIT ?
		) ORDER BY seq ASC`,
		types.ConversationKey(userA, userB), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	return scanMessages(rows)
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close stops the writer and closes the database. Safe to call repeatedly.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	return s.db.Close()
}

func scanMessages(rows *sql.Rows) ([]*types.Message, error) {
	defer rows.Close()

	messages := make([]*types.Message, 0)
	for rows.Next() {
		var (
			m         types.Message
			createdAt int64
		)
		if err := rows.Scan(&m.ID, &m.From, &m.To, &m.Content, &createdAt, &m.Delivered); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		m.CreatedAt = time.UnixMilli(createdAt)
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate messages: %w", err)
	}
	return messages, nil
}
