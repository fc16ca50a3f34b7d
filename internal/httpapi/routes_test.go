package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"github.com/DoyleJ11/poker-table-backend/internal/wire"
	"github.com/DoyleJ11/poker-table-backend/internal/ws"
	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newServer(t *testing.T) (*httptest.Server, *session.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	coord := session.NewCoordinator(ctx, table.NewEmptyState(table.Rules{Seats: 6, ReadyThreshold: 2}))
	srv := httptest.NewServer(SetupRoutes(coord, ws.Options{}))
	t.Cleanup(srv.Close)
	return srv, coord
}

func getTable(t *testing.T, srv *httptest.Server) tableView {
	t.Helper()
	resp, err := http.Get(srv.URL + "/table")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var v tableView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

type wsClient struct {
	t *testing.T
	c *websocket.Conn
}

func dialWS(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.CloseNow() })

	cl := &wsClient{t: t, c: c}
	assert.True(t, strings.HasPrefix(cl.read(), "State,0,"))
	return cl
}

func (w *wsClient) read() string {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := w.c.Read(ctx)
	require.NoError(w.t, err)
	return string(data)
}

func (w *wsClient) send(frame string) {
	w.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(w.t, w.c.Write(ctx, websocket.MessageText, []byte(frame)))
}

// expect reads frames until one starts with prefix.
func (w *wsClient) expect(prefix string) string {
	w.t.Helper()
	for i := 0; i < 16; i++ {
		if msg := w.read(); strings.HasPrefix(msg, prefix) {
			return msg
		}
	}
	w.t.Fatalf("no frame with prefix %q", prefix)
	return ""
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetTable_Empty(t *testing.T) {
	srv, _ := newServer(t)
	v := getTable(t, srv)
	assert.Equal(t, 0, v.Version)
	assert.Equal(t, table.PhaseWaiting, v.State.Phase)
	assert.Len(t, v.State.Seats, 6)
}

func TestConcludeRound_WhileWaitingConflicts(t *testing.T) {
	srv, _ := newServer(t)
	resp, err := http.Post(srv.URL+"/round/conclude", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestWebSocket_FullRound(t *testing.T) {
	srv, _ := newServer(t)
	p1 := dialWS(t, srv)
	p2 := dialWS(t, srv)

	p1.send("Join,P1,1")
	p1.expect(wire.TagOk)
	p2.send("Join,P2,2")
	p2.expect(wire.TagOk)

	p1.send("Bet,P1,10")
	assert.Equal(t, "Error,RoundNotActive,round not active", p1.expect(wire.TagError))

	p1.send("Ready,P1")
	p1.expect(wire.TagOk)
	p2.send("Ready,P2")
	p2.expect(wire.TagOk)

	v := getTable(t, srv)
	assert.Equal(t, table.PhaseRoundActive, v.State.Phase)
	assert.Equal(t, 2, v.NumClients)
	assert.Equal(t, 2, v.ReadyCount)
	assert.Equal(t, "P1", v.State.Seats[0].Occupant)

	p1.send("Bet,P1,10")
	p1.expect(wire.TagOk)

	resp, err := http.Post(srv.URL+"/round/conclude", "", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// p2 still has earlier snapshots queued; skip to the one after conclusion.
	for i := 0; i < 16; i++ {
		snap, err := wire.DecodeSnapshot([]byte(p2.expect("State,")))
		require.NoError(t, err)
		if snap.Round == 1 && snap.Phase == table.PhaseWaiting {
			assert.Equal(t, "round 1 concluded", snap.LastAction)
			assert.Zero(t, snap.ReadyCount)
			return
		}
	}
	t.Fatal("no snapshot after round conclusion")
}

func TestWebSocket_CloseClearsSeat(t *testing.T) {
	srv, _ := newServer(t)
	p1 := dialWS(t, srv)
	p1.send("Join,P1,1")
	p1.expect(wire.TagOk)

	require.NoError(t, p1.c.Close(websocket.StatusNormalClosure, ""))

	assert.Eventually(t, func() bool {
		v := getTable(t, srv)
		return v.State.Seats[0].Empty() && v.NumClients == 0
	}, 2*time.Second, 20*time.Millisecond)
}
