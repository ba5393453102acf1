package integration

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"courier/internal/app"
	"courier/internal/auth"
	"courier/internal/config"
)

const integrationSecret = "integration-secret"

func newConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Env = "test"
	cfg.Auth.Secret = integrationSecret
	return cfg
}

// startServer runs a full application on an ephemeral port and returns a stop func.
func startServer(t *testing.T, cfg *config.Config) (*app.Application, func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	application, err := app.NewApplication(cfg, zerolog.Nop(), app.WithListener(listener))
	require.NoError(t, err)
	require.NoError(t, application.Start(context.Background()))

	stopped := false
	stop := func() {
		if stopped {
			return
		}
		stopped = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, application.Stop(ctx))
	}
	t.Cleanup(stop)
	return application, stop
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	authenticator, err := auth.NewAuthenticator(integrationSecret, auth.DefaultIssuer, nil)
	require.NoError(t, err)
	token, err := authenticator.SignToken(userID, userID, time.Hour)
	require.NoError(t, err)
	return token
}

func connect(t *testing.T, application *app.Application, userID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+application.Addr()+"/ws?token="+signToken(t, userID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// connectOnline connects and consumes frames up to the initial online_users snapshot
func connectOnline(t *testing.T, application *app.Application, userID string) *websocket.Conn {
	t.Helper()
	conn := connect(t, application, userID)
	expectFrame(t, conn, "online_users")
	return conn
}

func expectFrame(t *testing.T, conn *websocket.Conn, frameType string) map[string]interface{} {
	t.Helper()
	for i := 0; i < 50; i++ {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var frame map[string]interface{}
		require.NoError(t, json.Unmarshal(data, &frame))
		if frame["type"] == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame received", frameType)
	return nil
}

func directMessage(to, content string) map[string]interface{} {
	return map[string]interface{}{"type": "direct_message", "to": to, "content": content}
}
