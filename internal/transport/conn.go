// ABOUTME: Newline-framed message transport over a TCP connection.
// ABOUTME: Guarantees full writes and reads one bounded line at a time with optional timeouts.

package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync/atomic"
	"syscall"
	"time"
)

// DefaultMaxMessageSize caps a single inbound message (1 MiB).
const DefaultMaxMessageSize = 1 << 20

const (
	initialBufferSize = 1024
	readChunkSize     = 4096

	// zeroWait is the read window used by RecvLine(0) when nothing is buffered yet.
	zeroWait = time.Millisecond
)

// ErrTimeout indicates no complete message arrived within the allowed wait.
var ErrTimeout = errors.New("transport: timed out waiting for message")

// ErrClosed indicates the peer closed the connection (zero-length read).
var ErrClosed = errors.New("transport: connection closed by peer")

// ErrMessageTooLarge indicates the peer sent more than the maximum message size without a terminator.
var ErrMessageTooLarge = errors.New("transport: message exceeds maximum size")

// ErrEmptyMessage is returned when sending an empty payload.
var ErrEmptyMessage = errors.New("transport: empty message")

// Error is an unrecoverable socket failure during a send or receive.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Conn frames newline-terminated messages over a net.Conn.
//
// Reads and writes may happen from different goroutines, but RecvLine must
// only be called from one goroutine at a time.
type Conn struct {
	conn           net.Conn
	rbuf           bytes.Buffer
	scratch        []byte
	maxMessageSize int
	writeTimeout   time.Duration
	dead           atomic.Bool
}

// Option configures a Conn.
type Option func(*Conn)

// WithMaxMessageSize sets the inbound message cap. Non-positive values keep the default.
func WithMaxMessageSize(n int) Option {
	return func(c *Conn) {
		if n > 0 {
			c.maxMessageSize = n
		}
	}
}

// WithWriteTimeout bounds each SendFull call. Zero disables the bound.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Conn) {
		c.writeTimeout = d
	}
}

// New wraps an established connection.
func New(conn net.Conn, opts ...Option) *Conn {
	c := &Conn{
		conn:           conn,
		scratch:        make([]byte, readChunkSize),
		maxMessageSize: DefaultMaxMessageSize,
	}
	c.rbuf.Grow(initialBufferSize)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial connects to addr over TCP and wraps the connection.
func Dial(ctx context.Context, addr string, opts ...Option) (*Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Op: "dial", Err: err}
	}
	return New(conn, opts...), nil
}

// SendFull writes the whole payload followed by a newline terminator unless
// the payload already ends with one. Interrupted writes are retried.
func (c *Conn) SendFull(payload []byte) error {
	if len(payload) == 0 {
		return ErrEmptyMessage
	}

	frame := payload
	if payload[len(payload)-1] != '\n' {
		frame = make([]byte, len(payload)+1)
		copy(frame, payload)
		frame[len(payload)] = '\n'
	}

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer func() { _ = c.conn.SetWriteDeadline(time.Time{}) }()
	}

	sent := 0
	for sent < len(frame) {
		n, err := c.conn.Write(frame[sent:])
		sent += n
		if err != nil {
			if retryable(err) {
				continue
			}
			return &Error{Op: "send", Err: err}
		}
	}
	return nil
}

// Send is SendFull for string payloads.
func (c *Conn) Send(msg string) error {
	return c.SendFull([]byte(msg))
}

// RecvLine returns the next message without its newline terminator.
//
// A negative timeout blocks until a message arrives. A zero timeout returns
// a message that is already buffered, or whatever completes within a minimal
// read window. A positive timeout bounds the wait for the whole message.
// Partial data is kept across timeouts.
func (c *Conn) RecvLine(timeout time.Duration) (string, error) {
	if line, ok, err := c.takeLine(); ok || err != nil {
		return line, err
	}
	if c.dead.Load() {
		return "", ErrClosed
	}

	var deadline time.Time
	switch {
	case timeout == 0:
		deadline = time.Now().Add(zeroWait)
	case timeout > 0:
		deadline = time.Now().Add(timeout)
	}
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		c.dead.Store(true)
		return "", &Error{Op: "recv", Err: err}
	}

	for {
		n, err := c.conn.Read(c.scratch)
		if n > 0 {
			c.rbuf.Write(c.scratch[:n])
			if line, ok, tooLarge := c.takeLine(); ok || tooLarge != nil {
				return line, tooLarge
			}
		}
		if err == nil {
			continue
		}

		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return "", ErrTimeout
		case errors.Is(err, io.EOF):
			c.dead.Store(true)
			return "", ErrClosed
		case retryable(err):
			continue
		default:
			c.dead.Store(true)
			return "", &Error{Op: "recv", Err: err}
		}
	}
}

// takeLine pops one complete line off the read buffer. It fails with
// ErrMessageTooLarge once the pending message outgrows the cap; the stream
// cannot be resynchronised after that, so the connection is marked dead.
func (c *Conn) takeLine() (string, bool, error) {
	idx := bytes.IndexByte(c.rbuf.Bytes(), '\n')
	if idx > c.maxMessageSize || (idx < 0 && c.rbuf.Len() > c.maxMessageSize) {
		c.rbuf.Reset()
		c.dead.Store(true)
		return "", false, ErrMessageTooLarge
	}
	if idx < 0 {
		return "", false, nil
	}
	line := c.rbuf.Next(idx + 1)
	return string(line[:idx]), true, nil
}

// Buffered reports how many unconsumed bytes are held in the read buffer.
func (c *Conn) Buffered() int {
	return c.rbuf.Len()
}

// Dead reports whether the peer closed the connection or a fatal read error occurred.
func (c *Conn) Dead() bool {
	return c.dead.Load()
}

// RemoteAddr returns the peer address as a string.
func (c *Conn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// LocalAddr returns the local address as a string.
func (c *Conn) LocalAddr() string {
	if addr := c.conn.LocalAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.dead.Store(true)
	return c.conn.Close()
}

func retryable(err error) bool {
	return errors.Is(err, syscall.EINTR) || errors.Is(err, syscall.EAGAIN)
}
