package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/auth"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/config"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/hub"
	"github.com/Harshitk-cp/broadcastsync/apps/sync-server/internal/model"
)

func startServer(t *testing.T, verifier *auth.Verifier) string {
	t.Helper()
	cfg := config.Default()

	h := hub.NewHub(cfg.WebSocket, nil, nil)
	svc := newTestService(t, h, verifier)
	h.SetHandler(svc)
	go h.Run()

	httpHandler := NewHTTPHandler(HTTPDeps{
		Service:       svc,
		WebSocket:     NewWebSocketHandler(cfg, svc, h, nil),
		WebSocketPath: cfg.WebSocket.Path,
	})
	srv := httptest.NewServer(httpHandler)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + cfg.WebSocket.Path
}

func readEnvelope(t *testing.T, conn *websocket.Conn) *model.Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	env, err := model.ParseEnvelope(data)
	require.NoError(t, err)
	return env
}

func readAssignment(t *testing.T, conn *websocket.Conn) model.RoleAssignment {
	t.Helper()
	env := readEnvelope(t, conn)
	require.Equal(t, model.MessageTypeRoleAssignment, env.Type)
	assert.Equal(t, model.ServerSenderID, env.SenderID)
	var ra model.RoleAssignment
	require.NoError(t, env.Decode(&ra))
	return ra
}

func TestHandshakeAssignsRoles(t *testing.T) {
	url := startServer(t, nil)

	src, _, err := websocket.DefaultDialer.Dial(url+"?clientId=alpha&role=source", nil)
	require.NoError(t, err)
	defer src.Close()
	ra := readAssignment(t, src)
	assert.Equal(t, "alpha", ra.ClientID)
	assert.Equal(t, model.RoleSource, ra.Role)

	second, _, err := websocket.DefaultDialer.Dial(url+"?clientId=beta&role=source", nil)
	require.NoError(t, err)
	defer second.Close()
	ra = readAssignment(t, second)
	assert.Equal(t, model.RoleObserver, ra.Role)
	assert.Equal(t, model.RoleSource, ra.RequestedRole)

	roster := readAssignment(t, second)
	assert.Equal(t, "alpha", roster.ClientID)

	// the source hears about the newcomer
	announced := readAssignment(t, src)
	assert.Equal(t, "beta", announced.ClientID)
	assert.Equal(t, model.RoleObserver, announced.Role)
}

func TestHandshakeRelaysSourceState(t *testing.T) {
	url := startServer(t, nil)

	src, _, err := websocket.DefaultDialer.Dial(url+"?clientId=alpha&role=source", nil)
	require.NoError(t, err)
	defer src.Close()
	readAssignment(t, src)

	obs, _, err := websocket.DefaultDialer.Dial(url+"?clientId=beta", nil)
	require.NoError(t, err)
	defer obs.Close()
	readAssignment(t, obs)
	readAssignment(t, obs)
	readAssignment(t, src)

	env, err := model.NewEnvelope(model.MessageTypeCapsuleSync, "", "", model.PlaybackState{Index: 3, IsPlaying: true, Speed: 1})
	require.NoError(t, err)
	data, err := env.Marshal()
	require.NoError(t, err)
	require.NoError(t, src.WriteMessage(websocket.TextMessage, data))

	got := readEnvelope(t, obs)
	assert.Equal(t, model.MessageTypeCapsuleSync, got.Type)
	assert.Equal(t, "alpha", got.SenderID)
	assert.Equal(t, model.RoleSource, got.SenderRole)
}

func TestHandshakeRejections(t *testing.T) {
	v := auth.NewVerifier(config.AuthConfig{JWTSecret: "secret", RequireToken: true, JWTExpiration: time.Hour})
	url := startServer(t, v)

	_, resp, err := websocket.DefaultDialer.Dial(url+"?clientId=alpha&role=admin", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(url+"?clientId=alpha&role=source", nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	token, err := v.GenerateToken("alpha", model.RoleModerator)
	require.NoError(t, err)
	conn, _, err := websocket.DefaultDialer.Dial(url+"?clientId=alpha&role=source&token="+token, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, model.RoleModerator, readAssignment(t, conn).Role)
}
