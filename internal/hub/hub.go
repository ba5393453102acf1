package hub

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"courier/internal/metrics"
	"courier/internal/presence"
	"courier/internal/websocket"
	"courier/pkg/types"
)

const DefaultHeartbeatInterval = 30 * time.Second

// Hub owns the gateway's background work: the heartbeat sweep and the
// presence fan-out.
// ARCHITECTURAL DISCOVERY: Central coordination point for everything that acts
// on all connections at once, keeping the per-connection handler free of timers.
type Hub struct {
	registry *websocket.Registry
	presence *presence.Tracker
	clock    clock.Clock
	interval time.Duration
	logger   zerolog.Logger

	// State
	// TECHNICAL DISCOVERY: Mutex guards the running flag and the subscription
	running         bool
	unsubscribe     func()
	shutdownChannel chan struct{}
	done            chan struct{}
	mu              sync.Mutex
}

// NewHub creates a hub. A non-positive interval uses DefaultHeartbeatInterval
// and a nil clock uses wall time.
func NewHub(registry *websocket.Registry, tracker *presence.Tracker, clk clock.Clock, interval time.Duration, logger zerolog.Logger) *Hub {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		registry: registry,
		presence: tracker,
		clock:    clk,
		interval: interval,
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// Start subscribes to presence transitions and begins the heartbeat loop
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})
	h.done = make(chan struct{})

	// FUNCTIONAL DISCOVERY: One subscription for the whole process. The tracker
	// calls it under its emission lock, so frames leave in transition order.
	h.unsubscribe = h.presence.OnChange(h.broadcastPresence)

	ticker := h.clock.Ticker(h.interval)
	go h.run(ctx, ticker, h.shutdownChannel, h.done)

	h.logger.Info().Dur("heartbeat_interval", h.interval).Msg("hub started")
	return nil
}

// Stop ends the heartbeat loop and the presence subscription
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	h.unsubscribe()
	close(h.shutdownChannel)
	done := h.done
	h.mu.Unlock()

	<-done
	h.logger.Info().Msg("hub stopped")
	return nil
}

// IsRunning reports whether the hub loop is active
func (h *Hub) IsRunning() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, ticker *clock.Ticker, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Sweep runs one heartbeat tick. Connections that have not answered the
// previous ping are terminated; the rest are marked pending and pinged.
// It returns the number of terminated connections.
func (h *Hub) Sweep() int {
	terminated := 0
	for _, conn := range h.registry.All() {
		if !conn.CheckAlive() {
			h.logger.Info().Str("user_id", conn.GetUserID()).Msg("terminating stale connection")
			conn.Terminate()
			metrics.HeartbeatTerminations.Inc()
			terminated++
			continue
		}
		if err := conn.Ping(); err != nil {
			h.logger.Debug().Err(err).Str("user_id", conn.GetUserID()).Msg("ping failed")
		}
	}
	return terminated
}

func (h *Hub) broadcastPresence(event presence.Event) {
	metrics.PresenceTransitions.WithLabelValues(event.Status).Inc()
	h.registry.Broadcast(types.NewPresence(event.UserID, event.Status, event.OnlineUsers))
}
