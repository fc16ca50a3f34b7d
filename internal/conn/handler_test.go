package conn

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"github.com/DoyleJ11/poker-table-backend/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
	h    *Handler
	done chan struct{}
}

func newCoordinator(t *testing.T) (context.Context, *session.Coordinator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx, session.NewCoordinator(ctx, table.NewEmptyState(table.Rules{Seats: 6, ReadyThreshold: 2}))
}

// dial wires a handler to one end of an in-memory pipe and returns the
// client end, after consuming the snapshot sent on connect.
func dial(t *testing.T, ctx context.Context, coord Coordinator, id session.ConnID, opts Options) *client {
	t.Helper()
	cliConn, srvConn := net.Pipe()
	t.Cleanup(func() { _ = cliConn.Close() })

	h := NewHandler(id, NewTCPStream(srvConn, 0), coord, opts)
	c := &client{t: t, conn: cliConn, r: bufio.NewReader(cliConn), h: h, done: make(chan struct{})}
	go func() {
		defer close(c.done)
		_ = h.Serve(ctx)
	}()

	c.expectState(func(wire.Snapshot) bool { return true })
	return c
}

func (c *client) send(line string) {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetWriteDeadline(time.Now().Add(time.Second)))
	_, err := c.conn.Write([]byte(line + "\n"))
	require.NoError(c.t, err)
}

func (c *client) readLine() string {
	c.t.Helper()
	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	return strings.TrimRight(line, "\n")
}

// expect reads lines until one starts with prefix, skipping everything else.
func (c *client) expect(prefix string) string {
	c.t.Helper()
	for i := 0; i < 32; i++ {
		line := c.readLine()
		if strings.HasPrefix(line, prefix) {
			return line
		}
	}
	c.t.Fatalf("no line with prefix %q", prefix)
	return ""
}

// expectState reads snapshots until match accepts one.
func (c *client) expectState(match func(wire.Snapshot) bool) wire.Snapshot {
	c.t.Helper()
	for i := 0; i < 32; i++ {
		line := c.expect(wire.TagState + ",")
		snap, err := wire.DecodeSnapshot([]byte(line))
		require.NoError(c.t, err, line)
		if match(snap) {
			return snap
		}
	}
	c.t.Fatalf("no matching snapshot")
	return wire.Snapshot{}
}

func TestHandler_JoinIsBroadcastToAllClients(t *testing.T) {
	ctx, coord := newCoordinator(t)
	p1 := dial(t, ctx, coord, "c1", Options{})
	watcher := dial(t, ctx, coord, "c2", Options{})

	p1.send("Join,P1,1")

	// the ack and the snapshot are written by different goroutines
	first, second := p1.readLine(), p1.readLine()
	lines := []string{first, second}
	assert.Contains(t, lines, "Ok,Join")

	snap := watcher.expectState(func(s wire.Snapshot) bool { return true })
	assert.Equal(t, "P1", snap.Seats[0])
	assert.Equal(t, table.PhaseWaiting, snap.Phase)
	assert.Equal(t, 1, snap.Version)
}

func TestHandler_MalformedMessageKeepsConnectionOpen(t *testing.T) {
	ctx, coord := newCoordinator(t)
	c := dial(t, ctx, coord, "c1", Options{})

	c.send("Dance,P1")
	assert.True(t, strings.HasPrefix(c.readLine(), "Error,MalformedMessage,"))

	c.send("Bet,P1,lots")
	assert.True(t, strings.HasPrefix(c.readLine(), "Error,MalformedMessage,"))

	c.send(strings.Repeat("x", MaxFrame+10))
	assert.True(t, strings.HasPrefix(c.readLine(), "Error,MalformedMessage,"))

	c.send("Join,P1,1")
	c.expectState(func(s wire.Snapshot) bool { return s.Seats[0] == "P1" })
}

func TestHandler_StateErrorsGoOnlyToSender(t *testing.T) {
	ctx, coord := newCoordinator(t)
	p3 := dial(t, ctx, coord, "c3", Options{})

	p3.send("Check,P3")
	assert.Equal(t, "Error,NotSeated,not seated", p3.readLine())

	p3.send("Join,P3,3")
	p3.expect(wire.TagOk)

	p3.send("Bet,P3,50")
	assert.Equal(t, "Error,RoundNotActive,round not active", p3.expect(wire.TagError))

	v, err := coord.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Version, "rejected bet must not broadcast")
}

func TestHandler_ReadyUpStartsRound(t *testing.T) {
	ctx, coord := newCoordinator(t)
	p1 := dial(t, ctx, coord, "c1", Options{})
	p2 := dial(t, ctx, coord, "c2", Options{})

	p1.send("Join,P1,1")
	p1.expect(wire.TagOk)
	p2.send("Join,P2,2")
	p2.expect(wire.TagOk)
	p1.send("Ready,P1")
	p1.expect(wire.TagOk)
	p2.send("Ready,P2")

	for _, c := range []*client{p1, p2} {
		snap := c.expectState(func(s wire.Snapshot) bool { return s.Phase == table.PhaseRoundActive })
		assert.Equal(t, 2, snap.ReadyCount)
		assert.Equal(t, uint64(1), snap.Round)
	}
}

func TestHandler_PeerCloseClearsSeat(t *testing.T) {
	ctx, coord := newCoordinator(t)
	p1 := dial(t, ctx, coord, "c1", Options{})
	p2 := dial(t, ctx, coord, "c2", Options{})

	p2.send("Join,P2,2")
	p1.expectState(func(s wire.Snapshot) bool { return s.Seats[1] == "P2" })

	require.NoError(t, p2.conn.Close())
	select {
	case <-p2.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not stop after peer close")
	}

	snap := p1.expectState(func(s wire.Snapshot) bool { return s.Seats[1] == "" })
	assert.Equal(t, "P2 disconnected", snap.LastAction)
}

func TestHandler_StalledWriterIsDisconnected(t *testing.T) {
	ctx, coord := newCoordinator(t)
	p1 := dial(t, ctx, coord, "c1", Options{})
	stalled := dial(t, ctx, coord, "c2", Options{WriteTimeout: 50 * time.Millisecond})

	stalled.send("Join,P2,2")
	stalled.expect(wire.TagOk)
	p1.expectState(func(s wire.Snapshot) bool { return s.Seats[1] == "P2" })

	// stalled never reads again; the next broadcast times out on its pipe
	p1.send("Join,P1,1")
	p1.expectState(func(s wire.Snapshot) bool { return s.Seats[1] == "" })

	select {
	case <-stalled.h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("stalled handler was not disconnected")
	}
	v, err := coord.View(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, v.NumClients)
}

func TestHandler_IdleTimeoutDisconnects(t *testing.T) {
	ctx, coord := newCoordinator(t)
	cliConn, srvConn := net.Pipe()
	t.Cleanup(func() { _ = cliConn.Close() })

	h := NewHandler("idle", NewTCPStream(srvConn, 50*time.Millisecond), coord, Options{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Serve(ctx)
	}()

	r := bufio.NewReader(cliConn)
	_, err := r.ReadString('\n')
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("idle connection was not reclaimed")
	}
}

type failingCoordinator struct{ unregisters int }

func (f *failingCoordinator) Register(context.Context, session.ConnID, chan session.Snapshot) error {
	return session.ErrClosed
}

func (f *failingCoordinator) Unregister(context.Context, session.ConnID) error {
	f.unregisters++
	return nil
}

func (f *failingCoordinator) Submit(context.Context, session.ConnID, wire.Action) error {
	return nil
}

func TestHandler_RegisterFailureClosesStream(t *testing.T) {
	cliConn, srvConn := net.Pipe()
	fc := &failingCoordinator{}
	h := NewHandler("c1", NewTCPStream(srvConn, 0), fc, Options{})

	err := h.Serve(context.Background())
	require.ErrorIs(t, err, session.ErrClosed)
	assert.Zero(t, fc.unregisters)

	_, err = cliConn.Read(make([]byte, 1))
	assert.Error(t, err)
}

// orphanCoordinator accepts the outbox but never delivers to or closes it,
// as when a Register is queued just as the coordinator stops.
type orphanCoordinator struct{ failingCoordinator }

func (o *orphanCoordinator) Register(context.Context, session.ConnID, chan session.Snapshot) error {
	return nil
}

func TestHandler_ServeReturnsWhenOutboxIsNeverClosed(t *testing.T) {
	cliConn, srvConn := net.Pipe()
	t.Cleanup(func() { _ = cliConn.Close() })
	oc := &orphanCoordinator{}
	h := NewHandler("c1", NewTCPStream(srvConn, 0), oc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve blocked on an outbox nobody closes")
	}
	assert.Equal(t, 1, oc.unregisters)
}

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		wire.ErrMalformedMessage:     "MalformedMessage",
		table.ErrSeatOccupied:        "SeatOccupied",
		table.ErrInvalidSeat:         "InvalidSeat",
		table.ErrAlreadySeated:       "AlreadySeated",
		table.ErrNotSeated:           "NotSeated",
		table.ErrRoundNotActive:      "RoundNotActive",
		table.ErrInvalidAmount:       "InvalidAmount",
		session.ErrIdentityMismatch:  "IdentityMismatch",
		session.ErrNameTaken:         "NameTaken",
		session.ErrUnknownConnection: "UnknownConnection",
		context.DeadlineExceeded:     "Internal",
	}
	for err, want := range cases {
		assert.Equal(t, want, ErrorCode(err), err.Error())
	}
}
