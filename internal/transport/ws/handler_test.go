package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const testSecret = "ws-test-secret"

func token(t *testing.T, userID uuid.UUID, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID.String(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func (e *env) server(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", ServeWS(e.hub, e.gateway, Options{
		JWTSecret: testSecret,
		SendRate:  100,
		SendBurst: 100,
	}, zap.NewNop()))
	mux.HandleFunc("GET /ws/stats", StatsHandler(e.hub))
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, tok string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + tok
	return websocket.Dial(ctx, url, nil)
}

func readUntil(t *testing.T, conn *websocket.Conn, eventType, id string) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		var evt Event
		require.NoError(t, wsjson.Read(ctx, conn, &evt))
		if evt.Event == eventType && (id == "" || evt.ID == id) {
			return evt
		}
	}
}

func TestServeWSRejectsBadTokens(t *testing.T) {
	e := newEnv(t)
	srv := e.server(t)

	_, resp, err := dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dial(t, srv, token(t, e.a, "other-secret"))
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSEndToEnd(t *testing.T) {
	e := newEnv(t)
	srv := e.server(t)
	conv := e.private(t)

	connA, _, err := dial(t, srv, token(t, e.a, testSecret))
	require.NoError(t, err)
	defer connA.Close(websocket.StatusNormalClosure, "")
	connB, _, err := dial(t, srv, token(t, e.b, testSecret))
	require.NoError(t, err)
	defer connB.Close(websocket.StatusNormalClosure, "")

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, wsjson.Write(ctx, connB, map[string]any{
		"event": EventJoinConversation, "id": "j",
		"data": map[string]any{"conversationId": conv.ID},
	}))
	readUntil(t, connB, EventAck, "j")

	require.NoError(t, wsjson.Write(ctx, connA, map[string]any{
		"event": EventSendMessage, "id": "s",
		"data": map[string]any{"conversationId": conv.ID, "senderId": e.a, "message": "over the wire"},
	}))
	ack := readUntil(t, connA, EventAck, "s")
	assert.Contains(t, string(ack.Data), `"status":"ok"`)

	got := readUntil(t, connB, EventReceiveMessage, "")
	assert.Contains(t, string(got.Data), "over the wire")

	resp, err := http.Get(srv.URL + "/ws/stats")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
