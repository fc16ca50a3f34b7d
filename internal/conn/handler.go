package conn

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/DoyleJ11/poker-table-backend/internal/table"
	"github.com/DoyleJ11/poker-table-backend/internal/wire"
	"go.uber.org/zap"
)

// Coordinator is the part of session.Coordinator a handler talks to.
type Coordinator interface {
	Register(ctx context.Context, id session.ConnID, out chan session.Snapshot) error
	Unregister(ctx context.Context, id session.ConnID) error
	Submit(ctx context.Context, id session.ConnID, a wire.Action) error
}

type Options struct {
	OutboxSize   int
	WriteTimeout time.Duration
	Logger       *zap.Logger
}

const (
	defaultOutboxSize   = 8
	defaultWriteTimeout = 3 * time.Second
)

// Handler serves one client: a reader that submits decoded actions to the
// coordinator and a writer that streams snapshots back.
type Handler struct {
	id     session.ConnID
	stream Stream
	coord  Coordinator
	opts   Options
	log    *zap.Logger

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}
}

func NewHandler(id session.ConnID, stream Stream, coord Coordinator, opts Options) *Handler {
	if opts.OutboxSize <= 0 {
		opts.OutboxSize = defaultOutboxSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		id:     id,
		stream: stream,
		coord:  coord,
		opts:   opts,
		log:    log.With(zap.String("conn", string(id)), zap.String("remote", stream.RemoteAddr())),
		closed: make(chan struct{}),
	}
}

// Serve runs the connection until the peer goes away, a write fails, the
// coordinator drops it, or ctx is cancelled. The disconnect path has run by
// the time Serve returns, and the writer goroutine has exited.
func (h *Handler) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	out := make(chan session.Snapshot, h.opts.OutboxSize)
	if err := h.coord.Register(ctx, h.id, out); err != nil {
		_ = h.stream.Close()
		return err
	}
	h.log.Info("client connected")

	// Writer goroutine
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		h.writeLoop(ctx, out)
	}()

	go func() {
		select {
		case <-ctx.Done():
			h.disconnect("context done")
		case <-h.closed:
		}
	}()

	// Reader loop
	h.readLoop(ctx)
	h.disconnect("read loop ended")
	<-writerDone
	return nil
}

// Done is closed once the disconnect path has started.
func (h *Handler) Done() <-chan struct{} { return h.closed }

func (h *Handler) readLoop(ctx context.Context) {
	for {
		frame, err := h.stream.ReadFrame(ctx)
		if err != nil {
			if errors.Is(err, ErrFrameTooLong) {
				h.reply(ctx, wire.EncodeError(codeMalformed, err.Error()))
				continue
			}
			h.logReadErr(err)
			return
		}
		if len(frame) == 0 {
			continue
		}

		a, err := wire.Decode(frame)
		if err != nil {
			h.reply(ctx, wire.EncodeError(codeMalformed, err.Error()))
			continue
		}

		err = h.coord.Submit(ctx, h.id, a)
		switch {
		case err == nil:
			h.reply(ctx, wire.EncodeAck(a.Kind))
		case errors.Is(err, session.ErrClosed), errors.Is(err, context.Canceled):
			return
		default:
			h.reply(ctx, wire.EncodeError(ErrorCode(err), err.Error()))
		}
	}
}

func (h *Handler) writeLoop(ctx context.Context, out <-chan session.Snapshot) {
	for {
		var snap session.Snapshot
		var ok bool
		// a coordinator that stops before adding the outbox never closes it
		select {
		case snap, ok = <-out:
		case <-h.closed:
			return
		}
		if !ok {
			// the coordinator closed our outbox: we were dropped or it shut down
			h.disconnect("outbox closed")
			return
		}

		frame := wire.EncodeSnapshot(wire.Project(snap.Version, snap.State))
		if err := h.write(ctx, frame); err != nil {
			h.log.Warn("snapshot write failed", zap.Int("version", snap.Version), zap.Error(err))
			h.disconnect("write failed")
			return
		}
	}
}

func (h *Handler) reply(ctx context.Context, frame []byte) {
	if err := h.write(ctx, frame); err != nil {
		h.log.Warn("reply write failed", zap.Error(err))
		h.disconnect("write failed")
	}
}

func (h *Handler) write(ctx context.Context, frame []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	wctx, cancel := context.WithTimeout(ctx, h.opts.WriteTimeout)
	defer cancel()
	return h.stream.WriteFrame(wctx, frame)
}

// disconnect fires once, whichever of read failure, write failure,
// dropped outbox or cancellation gets here first.
func (h *Handler) disconnect(reason string) {
	h.closeOnce.Do(func() {
		close(h.closed)
		_ = h.stream.Close()
		if err := h.coord.Unregister(context.Background(), h.id); err != nil {
			h.log.Debug("unregister skipped", zap.Error(err))
		}
		h.log.Info("client disconnected", zap.String("reason", reason))
	})
}

func (h *Handler) logReadErr(err error) {
	var ne net.Error
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		h.log.Debug("read closed", zap.Error(err))
	case errors.As(err, &ne) && ne.Timeout():
		h.log.Info("read idle timeout", zap.Error(err))
	default:
		h.log.Warn("read failed", zap.Error(err))
	}
}

const codeMalformed = "MalformedMessage"

// ErrorCode names err on the wire.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, wire.ErrMalformedMessage):
		return codeMalformed
	case errors.Is(err, table.ErrSeatOccupied):
		return "SeatOccupied"
	case errors.Is(err, table.ErrInvalidSeat):
		return "InvalidSeat"
	case errors.Is(err, table.ErrAlreadySeated):
		return "AlreadySeated"
	case errors.Is(err, table.ErrNotSeated):
		return "NotSeated"
	case errors.Is(err, table.ErrRoundNotActive):
		return "RoundNotActive"
	case errors.Is(err, table.ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, session.ErrIdentityMismatch):
		return "IdentityMismatch"
	case errors.Is(err, session.ErrNameTaken):
		return "NameTaken"
	case errors.Is(err, session.ErrUnknownConnection):
		return "UnknownConnection"
	default:
		return "Internal"
	}
}
