package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"github.com/DoyleJ11/poker-table-backend/internal/wire"
	"go.uber.org/zap"
)

var ErrIdentityMismatch = errors.New("identity mismatch")
var ErrNameTaken = errors.New("player name taken")
var ErrClosed = errors.New("session closed")
var ErrUnknownConnection = errors.New("connection not registered")

type ConnID string

type Msg interface{ isSessionMsg() }

// Register adds a connection to the fanout. The current snapshot is sent to
// Outbox straight away.
type Register struct {
	ConnID ConnID
	Outbox chan Snapshot
}

func (Register) isSessionMsg() {}

// Unregister runs the disconnect path for a connection. Unknown connections
// are ignored, so it is safe to send more than once.
type Unregister struct{ ConnID ConnID }

func (Unregister) isSessionMsg() {}

type Submit struct {
	ConnID ConnID
	Action wire.Action
	Reply  chan error // buffered; receives nil on success
}

func (Submit) isSessionMsg() {}

type ConcludeRound struct {
	Reply chan error
}

func (ConcludeRound) isSessionMsg() {}

type GetState struct {
	Reply chan View
}

func (GetState) isSessionMsg() {}

type Shutdown struct{}

func (Shutdown) isSessionMsg() {}

type Snapshot struct {
	Version int
	State   table.State
}

type View struct {
	Version    int
	NumClients int
	Players    map[ConnID]string
	State      table.State
}

// Recorder receives the events of every applied command. Record is called
// from the coordinator goroutine and must not block.
type Recorder interface {
	Record(events []table.Event)
}

// Rules decides when a round is over. It sees the state after each applied
// round action together with the events that action produced.
type Rules interface {
	RoundOver(s table.State, events []table.Event) bool
}

type RulesFunc func(s table.State, events []table.Event) bool

func (f RulesFunc) RoundOver(s table.State, events []table.Event) bool { return f(s, events) }

type Option func(*Coordinator)

func WithLogger(log *zap.Logger) Option {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.recorder = r }
}

func WithRules(r Rules) Option {
	return func(c *Coordinator) { c.rules = r }
}

// Coordinator is the only owner of the table state. Every mutation goes
// through its inbox and is applied by a single goroutine, one message at a
// time, in arrival order.
type Coordinator struct {
	inbox    chan Msg
	state    table.State
	version  int
	fanout   *Fanout
	players  map[ConnID]string // connection -> joined identity
	owners   map[string]ConnID // identity -> connection
	recorder Recorder
	rules    Rules
	log      *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewCoordinator(parent context.Context, initial table.State, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(parent)

	c := &Coordinator{
		inbox:   make(chan Msg, 64),
		state:   initial.Clone(),
		players: make(map[ConnID]string),
		owners:  make(map[string]ConnID),
		log:     zap.NewNop(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.fanout = NewFanout(c.log)

	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.ctx.Done():
			c.shutdown()
			return

		case m := <-c.inbox:
			switch msg := m.(type) {
			case Register:
				c.fanout.Add(msg.ConnID, msg.Outbox)
				offer(msg.Outbox, c.snapshot())
				c.log.Debug("connection registered", zap.String("conn", string(msg.ConnID)))

			case Unregister:
				c.disconnect(msg.ConnID)

			case Submit:
				err := c.submit(msg.ConnID, msg.Action)
				if err != nil {
					c.log.Debug("action rejected",
						zap.String("conn", string(msg.ConnID)),
						zap.String("kind", string(msg.Action.Kind)),
						zap.Error(err))
				}
				msg.Reply <- err

			case ConcludeRound:
				msg.Reply <- c.apply(table.Command{Type: table.CmdConcludeRound})

			case GetState:
				players := make(map[ConnID]string, len(c.players))
				for id, p := range c.players {
					players[id] = p
				}
				msg.Reply <- View{
					Version:    c.version,
					NumClients: c.fanout.Len(),
					Players:    players,
					State:      c.state.Clone(),
				}

			case Shutdown:
				c.shutdown()
				return
			}
		}
	}
}

func (c *Coordinator) shutdown() {
	c.fanout.Close()
	c.cancel()
}

func (c *Coordinator) submit(id ConnID, a wire.Action) error {
	// dropped connections have to reconnect before acting again
	if !c.fanout.Has(id) {
		return ErrUnknownConnection
	}
	joined, hasIdentity := c.players[id]

	var player string
	if a.Kind == wire.KindJoin {
		player = a.Player
		if player == "" {
			player = joined
		}
		if player == "" {
			player = guestName(id)
		}
		if hasIdentity && player != joined {
			return fmt.Errorf("%w: connection joined as %s", ErrIdentityMismatch, joined)
		}
		if owner, ok := c.owners[player]; ok && owner != id {
			return fmt.Errorf("%w: %s", ErrNameTaken, player)
		}
	} else {
		if !hasIdentity {
			return table.ErrNotSeated
		}
		if a.Player != joined {
			return fmt.Errorf("%w: connection joined as %s", ErrIdentityMismatch, joined)
		}
		player = joined
	}

	if err := c.apply(a.Command(player)); err != nil {
		return err
	}

	switch a.Kind {
	case wire.KindJoin:
		c.players[id] = player
		c.owners[player] = id
	case wire.KindLeave:
		delete(c.players, id)
		delete(c.owners, player)
	}
	return nil
}

// apply runs cmd as one transaction: either the whole next state becomes
// visible in exactly one broadcast, or nothing changes.
func (c *Coordinator) apply(cmd table.Command) error {
	events, next, err := table.Apply(c.state, cmd)
	if err != nil {
		return err
	}

	if c.rules != nil && next.Phase == table.PhaseRoundActive && len(events) > 0 &&
		c.rules.RoundOver(next, events) {
		concluded, after, err := table.Apply(next, table.Command{Type: table.CmdConcludeRound})
		if err == nil {
			events = append(events, concluded...)
			next = after
		}
	}

	c.state = next
	c.record(events)
	if table.ContainsEvent(events, table.EvtRoundStarted) {
		c.log.Info("round started", zap.Uint64("round", next.Round), zap.Int("ready", table.ReadyCount(next)))
	}
	if table.ContainsEvent(events, table.EvtRoundConcluded) {
		c.log.Info("round concluded", zap.Uint64("round", next.Round))
	}
	c.broadcast()
	return nil
}

// disconnect clears the seat and ready entry of the connection's player,
// removes it from the fanout and tells everyone else.
func (c *Coordinator) disconnect(id ConnID) {
	registered := c.fanout.Remove(id)
	changed := c.forget(id)
	if !registered && !changed {
		return
	}
	c.log.Info("connection unregistered", zap.String("conn", string(id)))
	c.broadcast()
}

// forget drops the identity held by id and frees its seat. It reports
// whether the table state changed.
func (c *Coordinator) forget(id ConnID) bool {
	player, ok := c.players[id]
	if !ok {
		return false
	}
	delete(c.players, id)
	delete(c.owners, player)

	events, next, err := table.Apply(c.state, table.Command{Type: table.CmdDisconnect, Player: player})
	if err != nil || len(events) == 0 {
		return false
	}
	c.state = next
	c.record(events)
	return true
}

func (c *Coordinator) broadcast() {
	for {
		c.version++
		failed := c.fanout.Deliver(c.snapshot())

		changed := false
		for _, id := range failed {
			if c.forget(id) {
				changed = true
			}
		}
		if !changed {
			return
		}
	}
}

func (c *Coordinator) snapshot() Snapshot {
	return Snapshot{Version: c.version, State: c.state.Clone()}
}

func (c *Coordinator) record(events []table.Event) {
	if c.recorder != nil && len(events) > 0 {
		c.recorder.Record(events)
	}
}

func guestName(id ConnID) string {
	s := string(id)
	if len(s) > 8 {
		s = s[:8]
	}
	return "guest-" + s
}

// Expose the inbox so tests or transport layers can send messages.
func (c *Coordinator) Inbox() chan<- Msg { return c.inbox }

// Done is closed once the coordinator goroutine has exited.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

func (c *Coordinator) send(ctx context.Context, m Msg) error {
	select {
	case c.inbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrClosed
	}
}

func await[T any](ctx context.Context, c *Coordinator, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-c.done:
		return zero, ErrClosed
	}
}

func (c *Coordinator) Register(ctx context.Context, id ConnID, out chan Snapshot) error {
	return c.send(ctx, Register{ConnID: id, Outbox: out})
}

func (c *Coordinator) Unregister(ctx context.Context, id ConnID) error {
	return c.send(ctx, Unregister{ConnID: id})
}

// Submit applies a on behalf of connection id and returns the result.
func (c *Coordinator) Submit(ctx context.Context, id ConnID, a wire.Action) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, Submit{ConnID: id, Action: a, Reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, c, reply)
	if err != nil {
		return err
	}
	return res
}

// ConcludeRound returns the table to WAITING. It is the hook an external
// rules engine uses once it has decided a round.
func (c *Coordinator) ConcludeRound(ctx context.Context) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, ConcludeRound{Reply: reply}); err != nil {
		return err
	}
	res, err := await(ctx, c, reply)
	if err != nil {
		return err
	}
	return res
}

func (c *Coordinator) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.send(ctx, GetState{Reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, c, reply)
}
