package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/DoyleJ11/poker-table-backend/internal/conn"
	"github.com/DoyleJ11/poker-table-backend/internal/session"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Options struct {
	ReadIdleTimeout time.Duration
	Conn            conn.Options
}

// Server accepts TCP clients and runs one conn.Handler per connection. It
// keeps a registry of live handlers so shutdown can wait for them.
type Server struct {
	coord conn.Coordinator
	opts  Options
	log   *zap.Logger

	mu       sync.Mutex
	handlers map[session.ConnID]*conn.Handler
	wg       sync.WaitGroup
}

func New(coord conn.Coordinator, opts Options) *Server {
	log := opts.Conn.Logger
	if log == nil {
		log = zap.NewNop()
		opts.Conn.Logger = log
	}
	return &Server{
		coord:    coord,
		opts:     opts,
		log:      log,
		handlers: make(map[session.ConnID]*conn.Handler),
	}
}

// Serve accepts on ln until ctx is cancelled, then closes ln and waits for
// every handler to finish its disconnect path.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.log.Info("table listening", zap.String("addr", ln.Addr().String()))

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()
	defer s.wg.Wait()

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			// transient accept failure (e.g. out of file descriptors)
			backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
			s.log.Warn("accept failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		id := session.ConnID(uuid.NewString())
		h := conn.NewHandler(id, conn.NewTCPStream(c, s.opts.ReadIdleTimeout), s.coord, s.opts.Conn)
		s.add(id, h)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.remove(id)
			if err := h.Serve(ctx); err != nil {
				s.log.Warn("connection ended", zap.String("conn", string(id)), zap.Error(err))
			}
		}()
	}
}

func (s *Server) add(id session.ConnID, h *conn.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[id] = h
}

func (s *Server) remove(id session.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, id)
}

// Len reports the number of live TCP connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}
