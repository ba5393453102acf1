package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"courier/internal/api"
	"courier/internal/auth"
	"courier/internal/config"
	"courier/internal/hub"
	"courier/internal/messaging"
	"courier/internal/presence"
	"courier/internal/ratelimit"
	"courier/internal/store"
	"courier/internal/websocket"
	"courier/pkg/interfaces"
)

// Application coordinates all system components
// ARCHITECTURAL DISCOVERY: Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	clock      clock.Clock
	logger     zerolog.Logger
	store      interfaces.ConversationStore
	tracker    *presence.Tracker
	limiter    *ratelimit.Limiter
	registry   *websocket.Registry
	messageHub *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener

	serveErr chan error
	stopOnce sync.Once
	stopErr  error
}

// Option customizes an Application at construction
type Option func(*Application)

// WithClock replaces the wall clock used by auth, rate limiting and the heartbeat
func WithClock(clk clock.Clock) Option {
	return func(a *Application) { a.clock = clk }
}

// WithListener serves on an already-bound listener instead of cfg's address
func WithListener(l net.Listener) Option {
	return func(a *Application) { a.listener = l }
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Store → Presence → Limiter → Auth → Engine → Registry → WebSocket → Hub → API → HTTP
func NewApplication(cfg *config.Config, logger zerolog.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	app := &Application{
		config:   cfg,
		clock:    clock.New(),
		logger:   logger,
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(app)
	}

	// STEP 1: Conversation store (foundation layer)
	st, err := store.New(store.Options{
		Backend:         cfg.Store.Backend,
		QueueCapacity:   cfg.Store.QueueCapacity,
		HistoryCapacity: cfg.Store.HistoryCapacity,
		SQLitePath:      cfg.Store.SQLitePath,
		RedisURL:        cfg.Store.RedisURL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Store.Backend, err)
	}
	app.store = st

	// STEP 2: Authenticator; a bad secret is fatal before anything listens
	authenticator, err := auth.NewAuthenticator(cfg.Auth.Secret, cfg.Auth.Issuer, app.clock)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to initialize authenticator: %w", err)
	}

	// STEP 3: Presence, rate limiting and routing
	app.tracker = presence.NewTracker(logger)
	app.limiter = ratelimit.NewLimiter(cfg.RateLimit.Messages, cfg.RateLimit.Window, app.clock)
	engine := messaging.NewEngine(app.tracker, st, app.clock, logger)

	// STEP 4: Connection registry and WebSocket gateway
	app.registry = websocket.NewRegistry()
	wsHandler := websocket.NewHandler(
		authenticator,
		engine,
		app.tracker,
		app.limiter,
		app.registry,
		app.clock,
		websocket.HandlerOptions{
			MaxPayloadBytes: cfg.WebSocket.MaxPayloadBytes,
			WriteTimeout:    cfg.WebSocket.WriteTimeout,
			SendBuffer:      cfg.WebSocket.SendBuffer,
		},
		logger,
	)

	// STEP 5: Heartbeat and presence fan-out
	app.messageHub = hub.NewHub(app.registry, app.tracker, app.clock, cfg.WebSocket.HeartbeatInterval, logger)

	// STEP 6: HTTP surface
	app.apiServer = api.NewServer(st, app.registry, app.tracker, http.HandlerFunc(wsHandler.HandleWebSocket), app.clock, logger)
	app.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// Start binds the listener, starts background workers and begins serving.
// It returns once the server accepts connections; serve failures surface on Errors.
func (app *Application) Start(ctx context.Context) error {
	if app.listener == nil {
		l, err := net.Listen("tcp", app.httpServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
		}
		app.listener = l
	}

	// STEP 1: Background workers before the first connection can arrive
	if err := app.messageHub.Start(ctx); err != nil {
		_ = app.listener.Close()
		return fmt.Errorf("failed to start message hub: %w", err)
	}
	app.limiter.Start(ctx)

	// STEP 2: Accept connections
	go func() {
		if err := app.httpServer.Serve(app.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(app.serveErr)
	}()

	app.logger.Info().
		Str("address", app.Addr()).
		Str("store", app.config.Store.Backend).
		Dur("heartbeat", app.config.WebSocket.HeartbeatInterval).
		Int("rate_limit_messages", app.config.RateLimit.Messages).
		Dur("rate_limit_window", app.config.RateLimit.Window).
		Msg("Courier messaging server started")
	return nil
}

// Errors yields a serve failure, if any, and is closed when serving ends
func (app *Application) Errors() <-chan error {
	return app.serveErr
}

// Run starts the application and blocks until ctx is cancelled or serving fails.
// It does not stop the application; callers own shutdown through Stop.
func (app *Application) Run(ctx context.Context) error {
	if err := app.Start(ctx); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-app.serveErr:
		if ok {
			return err
		}
		return nil
	}
}

// Stop gracefully shuts down the application. Only the first call does work.
// Reverse dependency order: HTTP → Connections → Hub → Limiter → Store
func (app *Application) Stop(ctx context.Context) error {
	app.stopOnce.Do(func() {
		app.logger.Info().Int("connections", app.registry.Count()).Msg("Shutting down")

		var err error

		// STEP 1: Stop accepting new connections; hijacked sockets are not waited on
		err = multierr.Append(err, app.httpServer.Shutdown(ctx))

		// STEP 2: Tell every client the server is going away
		app.registry.CloseAll(websocket.GoingAwayReason)

		// STEP 3: Stop background workers
		if hubErr := app.messageHub.Stop(); hubErr != nil && !errors.Is(hubErr, hub.ErrHubNotRunning) {
			err = multierr.Append(err, hubErr)
		}
		app.limiter.Stop()

		// STEP 4: Release storage
		err = multierr.Append(err, app.store.Close())

		if err != nil {
			app.logger.Error().Err(err).Msg("Shutdown completed with errors")
		} else {
			app.logger.Info().Msg("Shutdown complete")
		}
		app.stopErr = err
	})
	return app.stopErr
}

// Addr returns the bound address once started, otherwise the configured one
func (app *Application) Addr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Connections reports the number of live WebSocket connections
func (app *Application) Connections() int {
	return app.registry.Count()
}
