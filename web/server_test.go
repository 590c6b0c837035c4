package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

const snapshot = `{"1":{"last_seen":5,"status":"FULL","coord":[1,2],"next_nearest":2,"next_nearest_direction":"NE"}}`

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, "smartbin_nodes 0\n")
	})
	// Connection goroutines may outlive the test, so they log to a no-op logger.
	s := NewServer(NewHub(zap.NewNop()), metrics, zap.NewNop())
	go s.Hub.Run(ctx)
	ts := httptest.NewServer(s.Router())
	t.Cleanup(ts.Close)
	return s, ts
}

func post(t *testing.T, url, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(b)
}

func TestDashboardEndpoint(t *testing.T) {
	s, ts := newTestServer(t)

	code, body := post(t, ts.URL+DashboardPath, snapshot)
	assert.Equal(t, http.StatusCreated, code)
	assert.JSONEq(t, `{"message":"Data received"}`, body)
	assert.Equal(t, snapshot, string(s.Hub.Latest()))

	for _, bad := range []string{"{", "[1,2]", "null", `"text"`} {
		code, body = post(t, ts.URL+DashboardPath, bad)
		assert.Equal(t, http.StatusBadRequest, code, bad)
		assert.JSONEq(t, `{"error":"Invalid JSON format"}`, body)
	}
	assert.Equal(t, snapshot, string(s.Hub.Latest()), "rejected bodies are not broadcast")

	resp, err := http.Get(ts.URL + DashboardPath)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestMetricsRoute(t *testing.T) {
	_, ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(b), "smartbin_nodes")
}

func TestWebsocketReceivesSnapshot(t *testing.T) {
	_, ts := newTestServer(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	code, _ := post(t, ts.URL+DashboardPath, snapshot)
	require.Equal(t, http.StatusCreated, code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.JSONEq(t, snapshot, string(msg))
}

func TestLateClientGetsLatest(t *testing.T) {
	_, ts := newTestServer(t)
	code, _ := post(t, ts.URL+DashboardPath, snapshot)
	require.Equal(t, http.StatusCreated, code)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, snapshot, string(msg))
}

func TestBroadcastNeverBlocks(t *testing.T) {
	hub := NewHub(zaptest.NewLogger(t))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 2*broadcastQueue; i++ {
			hub.Broadcast([]byte(`{}`))
		}
		hub.Broadcast([]byte(`{"last":{}}`))
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Broadcast blocked without a running hub")
	}
	assert.Equal(t, `{"last":{}}`, string(hub.Latest()))
}

func TestDashboardPreflight(t *testing.T) {
	_, ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+DashboardPath, nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
