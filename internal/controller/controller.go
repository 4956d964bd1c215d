// ABOUTME: Fleet controller: accepts node agents, dispatches operator commands, reconciles results.
// ABOUTME: One loop goroutine owns all session state; producers feed it events over a channel.

package controller

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/inflight"
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/session"
	"github.com/2389/coven-fleet/internal/store"
	"github.com/2389/coven-fleet/internal/transport"
)

// ErrStopped is returned by queries made after the loop has exited.
var ErrStopped = errors.New("controller stopped")

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

// Config holds controller settings. Zero values fall back to the config package defaults.
type Config struct {
	// ListenAddr is used when Listener is nil.
	ListenAddr string
	Listener   net.Listener

	// HealthAddr enables the gRPC health service; HealthListener overrides it.
	HealthAddr     string
	HealthListener net.Listener

	MaxSessions       int
	MaxMessageSize    int
	MaxPending        int
	HelloTimeout      time.Duration
	TickInterval      time.Duration
	WriteTimeout      time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	PendingTTL        time.Duration

	// Nodes is the configured node table, shown by the status command.
	Nodes []config.Node

	// Color enables ANSI colors in operator output.
	Color bool
}

// ConfigFrom builds controller settings from a loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	cc := cfg.Controller
	return Config{
		ListenAddr:        cfg.ListenAddr(),
		HealthAddr:        cc.HealthAddr,
		MaxSessions:       cc.MaxSessions,
		MaxMessageSize:    cc.MaxMessageSize,
		MaxPending:        cc.MaxPending,
		HelloTimeout:      cc.HelloTimeout,
		TickInterval:      cc.TickInterval,
		WriteTimeout:      cc.WriteTimeout,
		HeartbeatInterval: cc.HeartbeatInterval,
		HeartbeatTimeout:  cc.HeartbeatTimeout,
		PendingTTL:        cc.PendingTTL,
		Nodes:             cfg.Nodes,
	}
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = fmt.Sprintf(":%d", config.DefaultListenPort)
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = config.DefaultMaxSessions
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = config.DefaultMaxMessageSize
	}
	if c.MaxPending <= 0 {
		c.MaxPending = config.DefaultMaxPending
	}
	if c.HelloTimeout <= 0 {
		c.HelloTimeout = config.DefaultHelloTimeout
	}
	if c.TickInterval <= 0 {
		c.TickInterval = config.DefaultTickInterval
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = config.DefaultWriteTimeout
	}
	if c.PendingTTL <= 0 {
		c.PendingTTL = config.DefaultPendingTTL
	}
	if c.HeartbeatInterval > 0 && c.HeartbeatTimeout <= c.HeartbeatInterval {
		c.HeartbeatTimeout = 3 * c.HeartbeatInterval
	}
}

// Controller multiplexes operator input, the listening socket and every
// agent session. Registry, in-flight table and interpreter state are only
// touched by the loop goroutine.
type Controller struct {
	cfg    Config
	in     io.Reader
	store  store.Store
	logger *slog.Logger

	registry *session.Registry
	pending  *inflight.Table
	ids      *protocol.IDGenerator
	display  *display
	health   *healthServer

	// lastPing tracks heartbeat pings per session; loop-owned.
	lastPing map[session.Handle]time.Time

	events     chan event
	done       chan struct{}
	nextHandle atomic.Uint64
	conns      sync.WaitGroup
	now        func() time.Time
}

// New creates a controller. Operator commands are read from in (nil disables
// the console) and operator output goes to out. st may be nil to disable
// command history.
func New(cfg Config, st store.Store, in io.Reader, out io.Writer, logger *slog.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if out == nil {
		out = io.Discard
	}
	logger = logger.With("component", "controller")

	return &Controller{
		cfg:      cfg,
		in:       in,
		store:    st,
		logger:   logger,
		registry: session.NewRegistry(cfg.MaxSessions, logger),
		pending:  inflight.New(cfg.PendingTTL, cfg.MaxPending),
		ids:      protocol.NewIDGenerator(),
		display:  newDisplay(out, cfg.Color),
		lastPing: make(map[session.Handle]time.Time),
		events:   make(chan event),
		done:     make(chan struct{}),
		now:      time.Now,
	}
}

// Run binds the listener and serves until the operator quits, operator input
// ends, or ctx is canceled. Failing to bind is the only startup error.
func (c *Controller) Run(ctx context.Context) error {
	ln := c.cfg.Listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", c.cfg.ListenAddr)
		if err != nil {
			return fmt.Errorf("binding %s: %w", c.cfg.ListenAddr, err)
		}
	}

	if c.cfg.HealthListener != nil || c.cfg.HealthAddr != "" {
		hs, err := newHealthServer(c.cfg.HealthAddr, c.cfg.HealthListener, c.logger)
		if err != nil {
			_ = ln.Close()
			return err
		}
		c.health = hs
	}

	c.logger.Info("controller listening",
		"addr", ln.Addr().String(),
		"max_sessions", c.cfg.MaxSessions,
		"configured_nodes", len(c.cfg.Nodes),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.acceptLoop(ln)
	})
	if c.health != nil {
		g.Go(c.health.serve)
	}
	g.Go(func() error {
		defer func() {
			_ = ln.Close()
			if c.health != nil {
				c.health.stop()
			}
		}()
		return c.loop(gctx)
	})

	if c.in != nil {
		go c.readOperator()
	}

	err := g.Wait()
	c.conns.Wait()
	c.logger.Info("controller stopped")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Done is closed once the loop has exited.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Sessions returns a snapshot of connected sessions taken on the loop.
func (c *Controller) Sessions(ctx context.Context) ([]session.Session, error) {
	return ask(ctx, c, c.registry.Snapshot)
}

// Pending returns the exec requests still waiting for a result.
func (c *Controller) Pending(ctx context.Context) ([]inflight.Request, error) {
	return ask(ctx, c, c.pending.List)
}

// ask runs fn on the loop goroutine and returns its result.
func ask[T any](ctx context.Context, c *Controller, fn func() T) (T, error) {
	reply := make(chan T, 1)
	q := query{fn: func() { reply <- fn() }}

	var zero T
	select {
	case c.events <- q:
	case <-c.done:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	return <-reply, nil
}

// post hands an event to the loop. It reports false once the loop has exited.
func (c *Controller) post(ev event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	}
}

// acceptLoop accepts connections until the listener is closed and starts a
// bounded handshake for each. Other accept errors, such as running out of
// file descriptors, are retried with a capped backoff.
func (c *Controller) acceptLoop(ln net.Listener) error {
	var delay time.Duration
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay = min(2*delay, maxAcceptDelay)
			}
			c.logger.Warn("accept failed, retrying", "error", err, "delay", delay)
			select {
			case <-c.done:
				return nil
			case <-time.After(delay):
			}
			continue
		}
		delay = 0

		handle := session.Handle(c.nextHandle.Add(1))
		conn := transport.New(nc,
			transport.WithMaxMessageSize(c.cfg.MaxMessageSize),
			transport.WithWriteTimeout(c.cfg.WriteTimeout),
		)
		c.logger.Debug("connection accepted", "handle", handle, "remote", conn.RemoteAddr())

		c.conns.Add(1)
		go c.handshake(handle, conn)
	}
}

// handshake waits for the hello that must open every connection. Silence,
// disconnects and anything other than a valid hello close the connection
// without admitting it.
func (c *Controller) handshake(handle session.Handle, conn *transport.Conn) {
	defer c.conns.Done()

	line, err := conn.RecvLine(c.cfg.HelloTimeout)
	if err != nil {
		c.logger.Warn("no hello from new connection, closing",
			"handle", handle,
			"remote", conn.RemoteAddr(),
			"error", err,
		)
		_ = conn.Close()
		return
	}

	env, err := protocol.Decode(line)
	var hello protocol.Hello
	if err == nil {
		hello, err = env.Hello()
	}
	if err != nil {
		c.logger.Warn("invalid hello, closing",
			"handle", handle,
			"remote", conn.RemoteAddr(),
			"raw", line,
			"error", err,
		)
		_ = conn.Close()
		return
	}

	if !c.post(helloReceived{handle: handle, conn: conn, hello: hello}) {
		_ = conn.Close()
	}
}

// readSession forwards every line from an admitted session to the loop in
// arrival order and reports when the connection ends.
func (c *Controller) readSession(handle session.Handle, conn *transport.Conn) {
	defer c.conns.Done()

	for {
		line, err := conn.RecvLine(-1)
		if err != nil {
			c.post(connClosed{handle: handle, err: err})
			return
		}
		if !c.post(messageReceived{handle: handle, line: line}) {
			return
		}
	}
}

// readOperator forwards operator lines to the loop. Lines longer than the
// message cap are discarded and reported. It may outlive Run when the reader
// cannot be interrupted, such as a terminal.
func (c *Controller) readOperator() {
	r := bufio.NewReader(c.in)
	var (
		buf     []byte
		tooLong bool
	)
	for {
		frag, err := r.ReadSlice('\n')
		if !tooLong {
			buf = append(buf, frag...)
			if len(buf) > c.cfg.MaxMessageSize+1 {
				tooLong = true
				buf = buf[:0]
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}

		if len(buf) > 0 || tooLong {
			line := strings.TrimSuffix(strings.TrimSuffix(string(buf), "\n"), "\r")
			if len(line) > c.cfg.MaxMessageSize {
				tooLong = true
				line = ""
			}
			if !c.post(operatorLine{line: line, tooLong: tooLong}) {
				return
			}
		}
		buf, tooLong = buf[:0], false

		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			c.post(operatorClosed{err: err})
			return
		}
	}
}
