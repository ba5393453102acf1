package messaging

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"courier/internal/metrics"
	"courier/pkg/interfaces"
	"courier/pkg/types"
)

// Presence is the engine's read-only view of who is connected.
type Presence interface {
	Sockets(identity string) []interfaces.Connection
	IsOnline(identity string) bool
}

// Engine routes direct messages to live connections or the offline queue and
// serves conversation history.
// ARCHITECTURAL DISCOVERY: Presence owns the connection maps and the store owns
// queues and history. The engine only keeps a per-recipient lock: every push to
// or queue write for an identity happens under it, so catch-up drains never
// interleave and recipients see messages in send order.
type Engine struct {
	presence Presence
	store    interfaces.ConversationStore
	clock    clock.Clock
	logger   zerolog.Logger
	inboxes  *identityLocks
}

// NewEngine wires an engine over presence and store. A nil clock uses wall time.
func NewEngine(presence Presence, store interfaces.ConversationStore, clk clock.Clock, logger zerolog.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	return &Engine{
		presence: presence,
		store:    store,
		clock:    clk,
		logger:   logger.With().Str("component", "messaging").Logger(),
		inboxes:  newIdentityLocks(),
	}
}

// SendDirect creates a message from senderID to recipientID, records it, and
// either delivers it to every live recipient connection or queues it.
// The sender connection receives a message_ack with the outcome.
func (e *Engine) SendDirect(ctx context.Context, sender interfaces.Connection, senderID, recipientID, content string) (*types.Message, error) {
	if senderID == "" || recipientID == "" {
		return nil, ErrEmptyIdentity
	}
	if senderID == recipientID {
		return nil, ErrSelfMessage
	}

	message := &types.Message{
		ID:        uuid.NewString(),
		From:      senderID,
		To:        recipientID,
		Content:   content,
		CreatedAt: e.clock.Now(),
	}

	// History reflects intent to send, whatever the delivery outcome
	if err := e.timed("record", func() error { return e.store.Record(ctx, message) }); err != nil {
		return nil, fmt.Errorf("failed to record message: %w", err)
	}

	status, err := e.route(ctx, message)
	if err != nil {
		return nil, err
	}

	// FUNCTIONAL DISCOVERY: The recipient may have connected between the
	// presence check and the queue write. Their connect-time drain could
	// already have run, so drain again; DrainQueue hands each message to
	// exactly one caller.
	if status == types.StatusQueued && e.presence.IsOnline(recipientID) {
		if err := e.DeliverQueued(ctx, recipientID); err != nil {
			e.logger.Warn().Err(err).Str("user_id", recipientID).Msg("late drain failed")
		}
	}

	metrics.MessagesSent.WithLabelValues(status).Inc()

	if sender != nil {
		sender.Push(types.NewAck(message, status))
	}

	e.logger.Debug().
		Str("message_id", message.ID).
		Str("from", senderID).
		Str("to", recipientID).
		Str("status", status).
		Msg("direct message sent")

	return message, nil
}

// route pushes message to the recipient's live connections, or queues it when
// there are none, holding the recipient's inbox lock.
func (e *Engine) route(ctx context.Context, message *types.Message) (string, error) {
	unlock := e.inboxes.lock(message.To)
	defer unlock()

	if sockets := e.presence.Sockets(message.To); len(sockets) > 0 {
		envelope := types.NewDirectMessage(message, false)
		for _, conn := range sockets {
			conn.Push(envelope)
		}
		return types.StatusDelivered, nil
	}

	if err := e.timed("queue", func() error { return e.store.Queue(ctx, message.To, message) }); err != nil {
		return "", fmt.Errorf("failed to queue message: %w", err)
	}
	return types.StatusQueued, nil
}

// DeliverQueued drains identity's offline queue and pushes each message, in
// send order and tagged queued, to every live connection of identity.
// If identity has no live connection once the drain completes, the messages
// are queued again.
func (e *Engine) DeliverQueued(ctx context.Context, identity string) error {
	if identity == "" {
		return ErrEmptyIdentity
	}
	if !e.presence.IsOnline(identity) {
		return nil
	}

	unlock := e.inboxes.lock(identity)
	defer unlock()

	var pending []*types.Message
	err := e.timed("drain", func() error {
		var err error
		pending, err = e.store.DrainQueue(ctx, identity)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to drain queue: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	sockets := e.presence.Sockets(identity)
	if len(sockets) == 0 {
		for _, message := range pending {
			if err := e.store.Queue(ctx, identity, message); err != nil {
				return fmt.Errorf("failed to requeue message: %w", err)
			}
		}
		e.logger.Debug().Str("user_id", identity).Int("count", len(pending)).Msg("recipient left during drain, requeued")
		return nil
	}

	for _, message := range pending {
		envelope := types.NewDirectMessage(message, true)
		for _, conn := range sockets {
			conn.Push(envelope)
		}
	}
	metrics.QueuedDelivered.Add(float64(len(pending)))

	e.logger.Info().Str("user_id", identity).Int("count", len(pending)).Msg("delivered queued messages")
	return nil
}

// SendHistory pushes the most recent limit messages between requester and
// other to conn as a single message_history frame.
func (e *Engine) SendHistory(ctx context.Context, conn interfaces.Connection, requesterID, otherID string, limit int) error {
	var messages []*types.Message
	err := e.timed("history", func() error {
		var err error
		messages, err = e.store.History(ctx, requesterID, otherID, limit)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	conn.Push(types.NewHistory(otherID, messages))
	return nil
}

func (e *Engine) timed(operation string, fn func() error) error {
	timer := prometheus.NewTimer(metrics.StoreLatency.WithLabelValues(operation))
	defer timer.ObserveDuration()
	return fn()
}
