package websocket

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"courier/internal/auth"
	"courier/internal/messaging"
	"courier/internal/metrics"
	"courier/internal/presence"
	"courier/internal/ratelimit"
	"courier/pkg/types"
)

const internalErrorMessage = "An internal error occurred."

// HandlerOptions tunes the gateway.
type HandlerOptions struct {
	MaxPayloadBytes int64
	WriteTimeout    time.Duration
	SendBuffer      int
}

// Handler upgrades authenticated requests and runs the per-connection read loop
// ARCHITECTURAL DISCOVERY: Clean separation of WebSocket handling from business logic.
// The handler authenticates, dispatches and tears down; routing lives in the
// messaging engine and identity bookkeeping in the presence tracker.
type Handler struct {
	auth     *auth.Authenticator
	engine   *messaging.Engine
	presence *presence.Tracker
	limiter  *ratelimit.Limiter
	registry *Registry
	clock    clock.Clock
	options  HandlerOptions
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandler creates a WebSocket handler with dependency injection
func NewHandler(
	authenticator *auth.Authenticator,
	engine *messaging.Engine,
	tracker *presence.Tracker,
	limiter *ratelimit.Limiter,
	registry *Registry,
	clk clock.Clock,
	options HandlerOptions,
	logger zerolog.Logger,
) *Handler {
	if options.MaxPayloadBytes <= 0 {
		options.MaxPayloadBytes = types.MaxPayloadBytes
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Handler{
		auth:     authenticator,
		engine:   engine,
		presence: tracker,
		limiter:  limiter,
		registry: registry,
		clock:    clk,
		options:  options,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// FUNCTIONAL DISCOVERY: Browsers cannot send auth headers on upgrade,
				// so the token is the gate and any origin may connect.
				return true
			},
			HandshakeTimeout: 10 * time.Second,
			// Echo the marker so browsers that offered the token as a
			// sub-protocol accept the handshake
			Subprotocols: []string{auth.SubprotocolMarker},
		},
		logger: logger.With().Str("component", "gateway").Logger(),
	}
}

// HandleWebSocket authenticates the request and upgrades it
// ARCHITECTURAL DISCOVERY: Authentication before upgrade means a rejected
// client never creates a connection, presence entry or goroutine.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.auth.Authenticate(r)
	if err != nil {
		metrics.HandshakesRejected.WithLabelValues(auth.Reason(err)).Inc()
		h.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("handshake rejected")
		http.Error(w, auth.StatusText(err), http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response
		h.logger.Warn().Err(err).Str("user_id", claims.UserID).Msg("websocket upgrade failed")
		return
	}
	ws.SetReadLimit(h.options.MaxPayloadBytes)
	// Liveness is the heartbeat's job; clear any deadline left by the HTTP server
	_ = ws.SetReadDeadline(time.Time{})

	conn := NewConnection(ws, claims.UserID, claims.Name, ConnectionOptions{
		WriteTimeout: h.options.WriteTimeout,
		SendBuffer:   h.options.SendBuffer,
	}, h.logger)

	go h.handleConnection(conn)
}

// handleConnection registers conn, runs its read loop and tears it down.
func (h *Handler) handleConnection(conn *Connection) {
	userID := conn.GetUserID()
	ctx := context.Background()

	defer func() {
		// Teardown is the only place offline transitions originate
		h.registry.Remove(conn)
		h.presence.Remove(conn)
		_ = conn.Close()
		metrics.ConnectionsActive.Dec()
		h.logger.Info().Str("user_id", userID).Msg("disconnected")
	}()

	_ = h.registry.Add(conn)
	metrics.ConnectionsActive.Inc()
	h.presence.Add(userID, conn)

	name := conn.GetName()
	if name == "" {
		name = "unknown"
	}
	h.logger.Info().Str("user_id", userID).Str("name", name).Msg("connected")

	if err := h.engine.DeliverQueued(ctx, userID); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to deliver queued messages")
	}
	conn.Push(types.NewOnlineUsers(h.presence.OnlineIdentities()))

	for {
		_, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				h.logger.Debug().Err(err).Str("user_id", userID).Msg("socket error")
			}
			return
		}
		h.handleFrame(ctx, conn, data)
	}
}

// handleFrame runs one inbound frame through rate limit, validation and dispatch.
// Frames from one connection are handled sequentially on its read goroutine.
func (h *Handler) handleFrame(ctx context.Context, conn *Connection, data []byte) {
	userID := conn.GetUserID()

	defer func() {
		if rec := recover(); rec != nil {
			h.logger.Error().
				Str("user_id", userID).
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("panic while handling frame")
			h.sendError(conn, types.CodeInternalError, internalErrorMessage)
		}
	}()

	limit := h.limiter.Consume(userID)
	if !limit.Allowed {
		metrics.RateLimitHits.Inc()
		seconds := int(math.Ceil(limit.RetryAfter.Seconds()))
		h.sendError(conn, types.CodeRateLimited, fmt.Sprintf("Too many messages. Retry in %ds.", seconds))
		return
	}

	frame, verr := types.ValidateFrame(data)
	if verr != nil {
		metrics.FramesReceived.WithLabelValues("invalid").Inc()
		h.sendError(conn, verr.Code, verr.Message)
		return
	}
	metrics.FramesReceived.WithLabelValues(frame.Type).Inc()

	if err := h.dispatch(ctx, conn, frame); err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Str("type", frame.Type).Msg("error handling frame")
		h.sendError(conn, types.CodeInternalError, internalErrorMessage)
	}
}

func (h *Handler) dispatch(ctx context.Context, conn *Connection, frame *types.Frame) error {
	userID := conn.GetUserID()

	switch frame.Type {
	case types.FrameDirectMessage:
		// The sender is always the authenticated identity, never a frame field
		if frame.To == userID {
			h.sendError(conn, types.CodeSelfMessage, "Cannot send a message to yourself.")
			return nil
		}
		_, err := h.engine.SendDirect(ctx, conn, userID, frame.To, frame.Content)
		return err

	case types.FrameGetHistory:
		return h.engine.SendHistory(ctx, conn, userID, frame.With, frame.Limit)

	case types.FramePing:
		conn.Push(types.NewPong(h.clock.Now()))

	case types.FrameGetOnlineUsers:
		conn.Push(types.NewOnlineUsers(h.presence.OnlineIdentities()))
	}
	return nil
}

func (h *Handler) sendError(conn *Connection, code, message string) {
	metrics.FrameErrors.WithLabelValues(code).Inc()
	conn.Push(types.NewError(code, message))
}
