// ABOUTME: Node agent engine: connects to the controller, registers, and serves exec and ping requests.
// ABOUTME: Commands run one at a time on the serving goroutine; results are correlated by request id.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/coven-fleet/internal/config"
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/transport"
)

// ErrRejected is returned by Register when the controller refuses the hello.
var ErrRejected = errors.New("registration rejected by controller")

// Config holds agent settings.
type Config struct {
	ControllerAddr string
	Name           string
	OS             string
	Address        string

	// AckTimeout bounds the wait for the controller's ack. No ack is not an error.
	AckTimeout     time.Duration
	Shell          string
	MaxOutputBytes int

	// MaxMessageSize caps every line in both directions; results are trimmed to fit.
	MaxMessageSize int
}

// ConfigFrom builds agent settings from a loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	ac := cfg.Agent
	return Config{
		ControllerAddr: ac.ControllerAddr,
		Name:           ac.Name,
		OS:             ac.OS,
		Address:        ac.Address,
		AckTimeout:     ac.AckTimeout,
		Shell:          ac.Shell,
		MaxOutputBytes: ac.MaxOutputBytes,
		MaxMessageSize: cfg.Controller.MaxMessageSize,
	}
}

// Agent executes commands on behalf of one controller connection at a time.
type Agent struct {
	cfg    Config
	exec   *Executor
	logger *slog.Logger
}

// New creates an agent. Missing name and OS are filled from the host.
func New(cfg Config, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = config.DefaultAckTimeout
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	if cfg.Name == "" || cfg.OS == "" {
		id := ProbeIdentity()
		if cfg.Name == "" {
			cfg.Name = id.Name
		}
		if cfg.OS == "" {
			cfg.OS = id.OS
		}
	}
	logger = logger.With("component", "agent", "node", cfg.Name)

	return &Agent{
		cfg:    cfg,
		exec:   NewExecutor(cfg.Shell, cfg.MaxOutputBytes, logger),
		logger: logger,
	}
}

// Name is the node name announced in the hello.
func (a *Agent) Name() string {
	return a.cfg.Name
}

// Connect dials the controller.
func (a *Agent) Connect(ctx context.Context) (*transport.Conn, error) {
	if a.cfg.ControllerAddr == "" {
		return nil, errors.New("connecting: controller address is required")
	}
	conn, err := transport.Dial(ctx, a.cfg.ControllerAddr, transport.WithMaxMessageSize(a.cfg.MaxMessageSize))
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", a.cfg.ControllerAddr, err)
	}
	a.logger.Info("connected to controller", "addr", a.cfg.ControllerAddr)
	return conn, nil
}

// Register sends the hello and waits up to AckTimeout for the controller's
// answer. A missing ack or an unexpected reply is logged and tolerated; an
// explicit rejection returns ErrRejected.
func (a *Agent) Register(conn *transport.Conn) error {
	hello := protocol.Hello{
		Name:    a.cfg.Name,
		OS:      a.cfg.OS,
		Address: a.address(conn),
	}
	if err := conn.SendFull(hello.Encode()); err != nil {
		return fmt.Errorf("sending hello: %w", err)
	}

	line, err := conn.RecvLine(a.cfg.AckTimeout)
	switch {
	case errors.Is(err, transport.ErrTimeout):
		a.logger.Info("no ack received after hello, continuing")
		return nil
	case err != nil:
		return fmt.Errorf("waiting for ack: %w", err)
	}

	env, err := protocol.Decode(line)
	if err != nil || env.Type != protocol.TypeAck {
		a.logger.Info("unexpected registration reply", "raw", line)
		return nil
	}
	ack, err := env.Ack()
	if err != nil {
		a.logger.Warn("invalid ack", "raw", line, "error", err)
		return nil
	}
	if !ack.OK() {
		return fmt.Errorf("%w: %s", ErrRejected, ack.Reason)
	}
	a.logger.Info("registration acknowledged", "os", hello.OS, "address", hello.Address)
	return nil
}

// Serve handles controller messages until the controller disconnects, a
// send fails or ctx is canceled. A controller disconnect returns nil.
// Cancellation closes the connection but does not interrupt a running
// command; its result is simply never delivered.
func (a *Agent) Serve(ctx context.Context, conn *transport.Conn) error {
	stop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-gctx.Done():
			_ = conn.Close()
		case <-stop:
		}
		return nil
	})
	g.Go(func() error {
		defer close(stop)
		defer conn.Close()
		return a.serve(conn)
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Run connects, registers and serves one controller session.
func (a *Agent) Run(ctx context.Context) error {
	conn, err := a.Connect(ctx)
	if err != nil {
		return err
	}
	if err := a.Register(conn); err != nil {
		_ = conn.Close()
		return err
	}
	return a.Serve(ctx, conn)
}

func (a *Agent) serve(conn *transport.Conn) error {
	a.logger.Info("serving controller requests")
	for {
		line, err := conn.RecvLine(-1)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) {
				a.logger.Info("controller closed connection")
				return nil
			}
			return fmt.Errorf("receiving from controller: %w", err)
		}
		if err := a.handle(conn, line); err != nil {
			return err
		}
	}
}

// handle processes one controller message. Only failed sends are fatal.
func (a *Agent) handle(conn *transport.Conn, line string) error {
	env, err := protocol.Decode(line)
	if err != nil {
		a.logger.Error("malformed message", "raw", line, "error", err)
		return nil
	}

	switch env.Type {
	case protocol.TypeExec:
		req, err := env.Exec()
		if err != nil {
			a.logger.Error("exec missing id or cmd", "raw", line, "error", err)
			return nil
		}
		out := a.exec.Run(req.Cmd)
		res, trimmed := fitResult(protocol.Result{ID: req.ID, Exit: out.Exit, Stdout: out.Stdout, Stderr: out.Stderr}, a.cfg.MaxMessageSize)
		if trimmed {
			a.logger.Warn("result output trimmed to fit message size",
				"id", req.ID,
				"max_message_size", a.cfg.MaxMessageSize,
			)
		}
		if err := conn.SendFull(res.Encode()); err != nil {
			return fmt.Errorf("sending result %s: %w", req.ID, err)
		}
	case protocol.TypePing:
		if err := conn.SendFull(protocol.Pong{}.Encode()); err != nil {
			return fmt.Errorf("sending pong: %w", err)
		}
	case protocol.TypeAck:
		a.logger.Debug("late ack ignored", "raw", line)
	default:
		a.logger.Info("unknown message type from controller", "type", env.Type)
	}
	return nil
}

// address is the configured address, else the primary IPv4, else the local
// end of the controller connection.
func (a *Agent) address(conn *transport.Conn) string {
	if a.cfg.Address != "" {
		return a.cfg.Address
	}
	if ip, err := PrimaryIPv4(); err == nil {
		return ip
	}
	if host, _, err := net.SplitHostPort(conn.LocalAddr()); err == nil {
		return host
	}
	return ""
}
