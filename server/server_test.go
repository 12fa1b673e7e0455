package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"originchats/validator"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wsTestServer exposes handleWebSocket over a real listener so tests can run
// the full connect, handshake, pump lifecycle with an actual client.
func wsTestServer(t *testing.T, srv *Server) string {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(srv.handleWebSocket))
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readWSFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeWSFrame(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func TestConnectionReceivesHandshake(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, wsTestServer(t, srv))

	frame := readWSFrame(t, conn)
	require.Equal(t, "handshake", frame["cmd"])
	val := frame["val"].(map[string]any)
	assert.Equal(t, "OriginChats", val["server"])
	assert.NotEmpty(t, val["version"])
	assert.True(t, strings.HasPrefix(val["validator_key"].(string), "originchats-"))
}

func TestPingPongOverWire(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, wsTestServer(t, srv))
	readWSFrame(t, conn) // handshake

	writeWSFrame(t, conn, `{"cmd":"ping"}`)
	frame := readWSFrame(t, conn)
	assert.Equal(t, "pong", frame["cmd"])
}

func TestMalformedFrameOverWire(t *testing.T) {
	srv := newTestServer(t)
	conn := dialWS(t, wsTestServer(t, srv))
	readWSFrame(t, conn)

	writeWSFrame(t, conn, `not json`)
	frame := readWSFrame(t, conn)
	assert.Equal(t, "error", frame["cmd"])

	// the connection survives a bad frame
	writeWSFrame(t, conn, `{"cmd":"ping"}`)
	frame = readWSFrame(t, conn)
	assert.Equal(t, "pong", frame["cmd"])
}

// TestAuthAgainstHTTPValidator exercises the real validator client against a
// stub HTTP endpoint, checking both what the server sends upstream and the
// frames the client gets back.
func TestAuthAgainstHTTPValidator(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sekrit", r.Header.Get("X-Validator-Key"))
		token := r.URL.Query().Get("token")
		w.Header().Set("Content-Type", "application/json")
		if token == "good" {
			json.NewEncoder(w).Encode(map[string]any{"valid": true, "identity": "Alice,good"})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"valid": false})
	}))
	defer upstream.Close()

	srv := newTestServer(t)
	srv.validator = validator.NewClient(upstream.URL, "sekrit", 2*time.Second)

	conn := dialWS(t, wsTestServer(t, srv))
	readWSFrame(t, conn) // handshake

	writeWSFrame(t, conn, `{"cmd":"auth","token":"bad"}`)
	frame := readWSFrame(t, conn)
	assert.Equal(t, "auth_error", frame["cmd"])

	writeWSFrame(t, conn, `{"cmd":"auth","token":"good"}`)
	frame = readWSFrame(t, conn)
	require.Equal(t, "auth_success", frame["cmd"])
	assert.Equal(t, "alice", frame["val"].(map[string]any)["username"])
	assert.Equal(t, "users_get", readWSFrame(t, conn)["cmd"])
	assert.Equal(t, "online_get", readWSFrame(t, conn)["cmd"])
}

func TestPresenceAcrossConnections(t *testing.T) {
	srv := newTestServer(t)
	url := wsTestServer(t, srv)

	first := dialWS(t, url)
	readWSFrame(t, first)
	writeWSFrame(t, first, `{"cmd":"auth","token":"tok"}`)
	require.Equal(t, "auth_success", readWSFrame(t, first)["cmd"])
	readWSFrame(t, first) // users_get
	readWSFrame(t, first) // online_get

	srv.validator = &stubValidator{result: validator.Result{Valid: true, Identity: "bob,tok"}}
	second := dialWS(t, url)
	readWSFrame(t, second)
	writeWSFrame(t, second, `{"cmd":"auth","token":"tok"}`)
	require.Equal(t, "auth_success", readWSFrame(t, second)["cmd"])

	join := readWSFrame(t, first)
	assert.Equal(t, "user_connect", join["cmd"])
	assert.Equal(t, "bob", join["username"])

	second.Close()
	leave := readWSFrame(t, first)
	assert.Equal(t, "user_disconnect", leave["cmd"])
	assert.Equal(t, "bob", leave["username"])
}

func TestMessageBroadcastAcrossConnections(t *testing.T) {
	srv := newTestServer(t)
	seedGeneralChannel(t, srv)
	url := wsTestServer(t, srv)

	authed := func(identity string) *websocket.Conn {
		srv.validator = &stubValidator{result: validator.Result{Valid: true, Identity: identity}}
		conn := dialWS(t, url)
		readWSFrame(t, conn) // handshake
		writeWSFrame(t, conn, `{"cmd":"auth","token":"tok"}`)
		require.Equal(t, "auth_success", readWSFrame(t, conn)["cmd"])
		readWSFrame(t, conn)
		readWSFrame(t, conn)
		return conn
	}

	alice := authed("alice,tok")
	bob := authed("bob,tok")
	readWSFrame(t, alice) // bob's user_connect

	writeWSFrame(t, alice, `{"cmd":"message_new","channel":"general","content":"hello bob"}`)

	for _, conn := range []*websocket.Conn{alice, bob} {
		frame := readWSFrame(t, conn)
		require.Equal(t, "message_new", frame["cmd"])
		msg := frame["message"].(map[string]any)
		assert.Equal(t, "alice", msg["user"])
		assert.Equal(t, "hello bob", msg["content"])
	}
}

func TestHeartbeatPing(t *testing.T) {
	srv := newTestServer(t)
	srv.cfg.HeartbeatInterval = 1
	conn := dialWS(t, wsTestServer(t, srv))
	readWSFrame(t, conn) // handshake

	frame := readWSFrame(t, conn)
	assert.Equal(t, "ping", frame["cmd"])
}

func TestGetStats(t *testing.T) {
	srv := newTestServer(t)
	admitAuthed(t, srv, "alice", []string{"member"})
	admitAuthed(t, srv, "bob", []string{"member"})
	srv.registry.Admit(nil)

	stats := srv.GetStats()
	assert.Contains(t, stats, "connections=3")
	assert.Contains(t, stats, "alice")
	assert.Contains(t, stats, "bob")
}

func TestShutdownNotifiesClients(t *testing.T) {
	srv := newTestServer(t)
	sess := admitAuthed(t, srv, "alice", []string{"member"})

	srv.Shutdown("maintenance")

	frame := recvFrame(t, sess)
	assert.Equal(t, "disconnect", frame["cmd"])
	assert.Equal(t, "maintenance", frame["val"])
	assert.Equal(t, 0, srv.registry.Count())
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv := newTestServer(t)
	admitAuthed(t, srv, "alice", []string{"member"})

	srv.Shutdown("first")
	assert.NotPanics(t, func() { srv.Shutdown("second") })
	assert.Equal(t, 0, srv.registry.Count())
}
