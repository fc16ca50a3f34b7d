package conn

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// MaxFrame bounds a single newline-terminated frame on the TCP transport.
const MaxFrame = 4096

var ErrFrameTooLong = errors.New("frame too long")

// Stream is one client's ordered, reliable, framed transport.
type Stream interface {
	// ReadFrame blocks for the next frame. ErrFrameTooLong is not fatal;
	// any other error ends the connection.
	ReadFrame(ctx context.Context) ([]byte, error)
	WriteFrame(ctx context.Context, frame []byte) error
	Close() error
	RemoteAddr() string
}

// TCPStream frames a net.Conn with '\n'. A trailing '\r' is dropped.
type TCPStream struct {
	conn net.Conn
	r    *bufio.Reader
	idle time.Duration
}

// NewTCPStream wraps c. A positive idle arms a read deadline before every
// read, so a silent peer is dropped after idle.
func NewTCPStream(c net.Conn, idle time.Duration) *TCPStream {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &TCPStream{conn: c, r: bufio.NewReaderSize(c, MaxFrame), idle: idle}
}

func (s *TCPStream) ReadFrame(_ context.Context) ([]byte, error) {
	if s.idle > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.idle)); err != nil {
			return nil, err
		}
	}

	line, err := s.r.ReadSlice('\n')
	if errors.Is(err, bufio.ErrBufferFull) {
		// skip the rest of the oversized line so the next frame starts clean
		for errors.Is(err, bufio.ErrBufferFull) {
			_, err = s.r.ReadSlice('\n')
		}
		if err != nil {
			return nil, err
		}
		return nil, ErrFrameTooLong
	}
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			// unterminated final frame; the next read reports EOF
			return bytes.Clone(bytes.TrimRight(line, "\r")), nil
		}
		return nil, err
	}
	return bytes.Clone(bytes.TrimRight(line, "\r\n")), nil
}

func (s *TCPStream) WriteFrame(ctx context.Context, frame []byte) error {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Time{}
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	buf := make([]byte, 0, len(frame)+1)
	buf = append(buf, frame...)
	buf = append(buf, '\n')
	_, err := s.conn.Write(buf)
	return err
}

func (s *TCPStream) Close() error { return s.conn.Close() }

func (s *TCPStream) RemoteAddr() string { return s.conn.RemoteAddr().String() }
