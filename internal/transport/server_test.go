package transport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vovakirdan/blockduel/internal/identity"
)

type invocationCall struct {
	conn   string
	target string
	args   []json.RawMessage
}

type recordingHandler struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	invocations  []invocationCall
}

func (h *recordingHandler) OnConnected(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, id)
}

func (h *recordingHandler) OnDisconnected(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnected = append(h.disconnected, id)
}

func (h *recordingHandler) OnInvocation(id, target string, args []json.RawMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.invocations = append(h.invocations, invocationCall{id, target, args})
}

func (h *recordingHandler) snapshot() (connected, disconnected []string, invocations []invocationCall) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.connected...),
		append([]string(nil), h.disconnected...),
		append([]invocationCall(nil), h.invocations...)
}

type testEnv struct {
	server     *Server
	handler    *recordingHandler
	identities *identity.Store
	http       *httptest.Server
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{
		handler:    &recordingHandler{},
		identities: identity.NewStore(),
	}
	auth := identity.NewTokenAuthenticator(map[string]string{"tok-alice": "alice"})
	env.server = NewServer(cfg, auth, env.identities, log.New(io.Discard))
	env.server.SetHandler(env.handler)
	env.http = httptest.NewServer(env.server)
	t.Cleanup(func() {
		env.server.Stop()
		env.http.Close()
	})
	return env
}

func (e *testEnv) negotiate(t *testing.T, token string) string {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, e.http.URL+"/hub/negotiate", nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body negotiateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.NotEmpty(t, body.ConnectionID)
	require.Len(t, body.AvailableTransports, 1)
	assert.Equal(t, "WebSockets", body.AvailableTransports[0].Transport)
	return body.ConnectionID
}

func (e *testEnv) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.http.URL, "http") + "/hub?id=" + id
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrames(t *testing.T, ws *websocket.Conn) [][]byte {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := ws.ReadMessage()
	require.NoError(t, err)
	return SplitFrames(data)
}

func TestSplitFrames(t *testing.T) {
	data := []byte("{\"type\":6}\x1e{\"type\":1,\"target\":\"A\"}\x1e\x1e")
	frames := SplitFrames(data)
	require.Len(t, frames, 2)
	assert.Equal(t, `{"type":6}`, string(frames[0]))
	assert.Equal(t, `{"type":1,"target":"A"}`, string(frames[1]))

	assert.Empty(t, SplitFrames([]byte("\x1e\x1e")))
}

func TestEncodeInvocation(t *testing.T) {
	frame, err := EncodeInvocation("RoomCreated", map[string]string{"roomId": "ABCDEF"})
	require.NoError(t, err)
	assert.Equal(t, "{\"type\":1,\"target\":\"RoomCreated\",\"arguments\":[{\"roomId\":\"ABCDEF\"}]}\x1e", string(frame))

	frame, err = EncodeInvocation("OpponentReconnected")
	require.NoError(t, err)
	assert.Contains(t, string(frame), `"arguments":[]`)
}

func TestNegotiateBindsIdentity(t *testing.T) {
	env := newTestEnv(t, Config{})

	id := env.negotiate(t, "tok-alice")
	env.dial(t, id)

	require.Eventually(t, func() bool {
		who, ok := env.identities.Lookup(id)
		return ok && who == "alice"
	}, time.Second, 10*time.Millisecond)

	anon := env.negotiate(t, "")
	env.dial(t, anon)
	require.Eventually(t, func() bool { return env.server.IsConnected(anon) }, time.Second, 10*time.Millisecond)
	_, ok := env.identities.Lookup(anon)
	assert.False(t, ok, "anonymous connection must not be bound")
}

func TestUpgradeRejectsUnknownID(t *testing.T) {
	env := newTestEnv(t, Config{})

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/hub?id=bogus"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNegotiatedIDIsSingleUse(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.negotiate(t, "")
	env.dial(t, id)

	url := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/hub?id=" + id
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	assert.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestNegotiateRequiresPost(t *testing.T) {
	env := newTestEnv(t, Config{})
	resp, err := http.Get(env.http.URL + "/hub/negotiate")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHandshakeAndInvocations(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.negotiate(t, "tok-alice")
	ws := env.dial(t, id)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{\"protocol\":\"json\",\"version\":1}\x1e")))
	frames := readFrames(t, ws)
	require.Len(t, frames, 1)
	assert.Equal(t, "{}", string(frames[0]))

	// Two invocations and a malformed frame in one websocket message.
	batch := "{\"type\":1,\"target\":\"JoinRoom\",\"arguments\":[\"ABCDEF\"]}\x1e" +
		"not json\x1e" +
		"{\"type\":1,\"target\":\"SetReady\",\"arguments\":[]}\x1e"
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(batch)))

	require.Eventually(t, func() bool {
		_, _, inv := env.handler.snapshot()
		return len(inv) == 2
	}, time.Second, 10*time.Millisecond)

	connected, _, inv := env.handler.snapshot()
	assert.Equal(t, []string{id}, connected)
	assert.Equal(t, "JoinRoom", inv[0].target)
	require.Len(t, inv[0].args, 1)
	assert.JSONEq(t, `"ABCDEF"`, string(inv[0].args[0]))
	assert.Equal(t, "SetReady", inv[1].target)
	assert.Equal(t, id, inv[1].conn)
}

func TestUnknownTypeAfterFirstFrameIsIgnored(t *testing.T) {
	env := newTestEnv(t, Config{})
	ws := env.dial(t, env.negotiate(t, ""))

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{\"type\":6}\x1e{}\x1e")))
	env.server.Send(env.handler.lastConnected(t), "Marker")

	// The only frame back is the marker, not a handshake ack.
	frames := readFrames(t, ws)
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), `"target":"Marker"`)
}

func TestSendDeliversInvocation(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.negotiate(t, "")
	ws := env.dial(t, id)
	require.Eventually(t, func() bool { return env.server.IsConnected(id) }, time.Second, 10*time.Millisecond)

	env.server.Send(id, "ReceiveGarbage", map[string]int{"lines": 4})

	frames := readFrames(t, ws)
	require.Len(t, frames, 1)
	msg, err := DecodeMessage(frames[0])
	require.NoError(t, err)
	assert.Equal(t, TypeInvocation, msg.Type)
	assert.Equal(t, "ReceiveGarbage", msg.Target)
	require.Len(t, msg.Arguments, 1)
	assert.JSONEq(t, `{"lines":4}`, string(msg.Arguments[0]))

	// Unknown connections are dropped without error.
	env.server.Send("nobody", "ReceiveGarbage")
}

func TestClientCloseReportsDisconnectOnce(t *testing.T) {
	env := newTestEnv(t, Config{})
	id := env.negotiate(t, "")
	ws := env.dial(t, id)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{\"type\":7}\x1e")))

	require.Eventually(t, func() bool {
		_, disc, _ := env.handler.snapshot()
		return len(disc) == 1
	}, time.Second, 10*time.Millisecond)

	env.server.CloseConnection(id)
	time.Sleep(50 * time.Millisecond)
	_, disc, _ := env.handler.snapshot()
	assert.Equal(t, []string{id}, disc)
	assert.False(t, env.server.IsConnected(id))
}

func TestHeartbeatClosesSilentConnection(t *testing.T) {
	env := newTestEnv(t, Config{HeartbeatInterval: 50 * time.Millisecond})
	env.server.Start()

	silent := env.negotiate(t, "")
	ws := env.dial(t, silent)

	// Reading does not count as liveness; only the server hears traffic.
	var closeMsg *Message
	for closeMsg == nil {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err, "expected a close frame before the socket closed")
		for _, f := range SplitFrames(data) {
			msg, err := DecodeMessage(f)
			require.NoError(t, err)
			if msg.Type == TypeClose {
				closeMsg = &msg
			}
		}
	}
	assert.Equal(t, errHeartbeatTimeout, closeMsg.Error)

	require.Eventually(t, func() bool {
		_, disc, _ := env.handler.snapshot()
		return len(disc) == 1 && disc[0] == silent
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFullSendBufferClosesConnection(t *testing.T) {
	env := newTestEnv(t, Config{SendBuffer: 1, WriteWait: 100 * time.Millisecond})
	id := env.negotiate(t, "")
	env.dial(t, id) // never read
	require.Eventually(t, func() bool { return env.server.IsConnected(id) }, time.Second, 10*time.Millisecond)

	payload := strings.Repeat("x", 64*1024)
	for i := 0; i < 1000 && env.server.IsConnected(id); i++ {
		env.server.Send(id, "OpponentFieldUpdate", payload)
	}

	require.Eventually(t, func() bool {
		_, disc, _ := env.handler.snapshot()
		return len(disc) == 1 && disc[0] == id
	}, 3*time.Second, 10*time.Millisecond)
	assert.False(t, env.server.IsConnected(id))
}

func TestHeartbeatPingsLiveConnection(t *testing.T) {
	env := newTestEnv(t, Config{HeartbeatInterval: 50 * time.Millisecond})
	env.server.Start()

	id := env.negotiate(t, "")
	ws := env.dial(t, id)

	// Answer every server ping; the connection must survive several sweeps.
	deadline := time.Now().Add(400 * time.Millisecond)
	pings := 0
	for time.Now().Before(deadline) {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(time.Second)))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		for _, f := range SplitFrames(data) {
			msg, err := DecodeMessage(f)
			require.NoError(t, err)
			if msg.Type == TypePing {
				pings++
				require.NoError(t, ws.WriteMessage(websocket.TextMessage, pingFrame))
			}
		}
	}

	assert.Greater(t, pings, 1)
	assert.True(t, env.server.IsConnected(id))
	_, disc, _ := env.handler.snapshot()
	assert.Empty(t, disc)
}

func (h *recordingHandler) lastConnected(t *testing.T) string {
	t.Helper()
	var id string
	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		if len(h.connected) == 0 {
			return false
		}
		id = h.connected[len(h.connected)-1]
		return true
	}, time.Second, 10*time.Millisecond)
	return id
}
