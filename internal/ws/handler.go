package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/conn"
	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Stream carries one text frame per WebSocket message.
type Stream struct {
	c      *websocket.Conn
	idle   time.Duration
	remote string
}

func NewStream(c *websocket.Conn, idle time.Duration, remote string) *Stream {
	c.SetReadLimit(conn.MaxFrame)
	return &Stream{c: c, idle: idle, remote: remote}
}

func (s *Stream) ReadFrame(ctx context.Context) ([]byte, error) {
	if s.idle > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.idle)
		defer cancel()
	}
	_, data, err := s.c.Read(ctx)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Stream) WriteFrame(ctx context.Context, frame []byte) error {
	return s.c.Write(ctx, websocket.MessageText, frame)
}

func (s *Stream) Close() error {
	return s.c.Close(websocket.StatusNormalClosure, "bye")
}

func (s *Stream) RemoteAddr() string { return s.remote }

type Options struct {
	ReadIdleTimeout time.Duration
	Conn            conn.Options
	// OriginPatterns is passed to websocket.Accept; empty means same origin only.
	OriginPatterns []string
}

func Handler(coord conn.Coordinator, opts Options) http.HandlerFunc {
	log := opts.Conn.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: opts.OriginPatterns,
		})
		if err != nil {
			log.Debug("websocket accept failed", zap.Error(err))
			return
		}

		id := session.ConnID(uuid.NewString())
		h := conn.NewHandler(id, NewStream(c, opts.ReadIdleTimeout, r.RemoteAddr), coord, opts.Conn)
		if err := h.Serve(r.Context()); err != nil {
			log.Warn("websocket session failed", zap.String("conn", string(id)), zap.Error(err))
		}
	}
}
