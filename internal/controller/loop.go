// ABOUTME: The controller event loop and its handlers.
// ABOUTME: Admission, per-session message dispatch, result reconciliation and periodic housekeeping.

package controller

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/session"
	"github.com/2389/coven-fleet/internal/store"
	"github.com/2389/coven-fleet/internal/transport"
)

// loop handles one event at a time until shutdown. On return every session
// is closed and Done is closed.
func (c *Controller) loop(ctx context.Context) error {
	defer close(c.done)
	defer c.registry.CloseAll()

	ticker := time.NewTicker(c.cfg.TickInterval)
	defer ticker.Stop()

	if c.health != nil {
		c.health.setServing(true)
	}

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, shutting down")
			return nil
		case now := <-ticker.C:
			c.housekeeping(now)
		case ev := <-c.events:
			if c.handle(ctx, ev) {
				return nil
			}
		}
	}
}

// handle dispatches one event and reports whether the loop should stop.
func (c *Controller) handle(ctx context.Context, ev event) bool {
	switch ev := ev.(type) {
	case operatorLine:
		if ev.tooLong {
			c.logger.Warn("operator line exceeds message size, ignored", "max_message_size", c.cfg.MaxMessageSize)
			c.display.errorf("input line too long, ignored")
			return false
		}
		return c.interpret(ctx, ev.line)
	case operatorClosed:
		if ev.err != nil {
			c.logger.Error("reading operator input", "error", ev.err)
		}
		c.logger.Info("operator input closed, shutting down")
		return true
	case helloReceived:
		c.admit(ev)
	case messageReceived:
		c.dispatch(ctx, ev)
	case connClosed:
		c.disconnected(ev)
	case query:
		ev.fn()
	default:
		c.logger.Error("unknown event", "event", ev)
	}
	return false
}

// admit registers a handshaken connection and acknowledges it, or rejects it
// when the session table is full.
func (c *Controller) admit(ev helloReceived) {
	node := session.Node{
		Name:    ev.hello.Name,
		OS:      ev.hello.OS,
		Address: ev.hello.Address,
	}
	if len(c.cfg.Nodes) > 0 && !c.configured(node.Name) {
		c.logger.Warn("hello from unconfigured node", "node", node.Name, "remote", ev.conn.RemoteAddr())
	}

	old, replacing := c.registry.FindByName(node.Name)

	if _, err := c.registry.Admit(node, ev.handle, ev.conn); err != nil {
		reason := err.Error()
		if errors.Is(err, session.ErrCapacityExceeded) {
			reason = "capacity exceeded"
		}
		c.logger.Error("admission refused", "node", node.Name, "handle", ev.handle, "error", err)
		_ = ev.conn.SendFull(protocol.Ack{Status: protocol.AckRejected, Reason: reason}.Encode())
		_ = ev.conn.Close()
		c.display.errorf("node %s refused: %s", node.Name, reason)
		return
	}
	if replacing && old.Handle != ev.handle {
		delete(c.lastPing, old.Handle)
	}

	if err := ev.conn.SendFull(protocol.Ack{Status: protocol.AckOK}.Encode()); err != nil {
		c.logger.Error("sending ack failed, evicting", "node", node.Name, "handle", ev.handle, "error", err)
		c.evict(ev.handle)
		return
	}

	c.conns.Add(1)
	go c.readSession(ev.handle, ev.conn)

	c.display.noticef("node %s connected (os=%s, address=%s)", node.Name, orUnknown(node.OS), orUnknown(node.Address))
}

// dispatch handles one message from an admitted session. Malformed messages
// are logged and dropped; the connection stays open.
func (c *Controller) dispatch(ctx context.Context, ev messageReceived) {
	s, ok := c.registry.FindByHandle(ev.handle)
	if !ok {
		c.logger.Debug("message from replaced connection dropped", "handle", ev.handle)
		return
	}
	c.registry.Touch(ev.handle)

	env, err := protocol.Decode(ev.line)
	if err != nil {
		c.logger.Warn("malformed message", "node", s.Node.Name, "raw", ev.line, "error", err)
		return
	}

	switch env.Type {
	case protocol.TypePing:
		if err := c.registry.SendHandle(ev.handle, protocol.Pong{}.Encode()); err != nil {
			c.sendFailed(s, err)
		}
	case protocol.TypePong:
		c.logger.Info("received pong", "node", s.Node.Name)
		if _, waiting := c.lastPing[ev.handle]; waiting {
			delete(c.lastPing, ev.handle)
			return
		}
		c.display.noticef("pong from %s", s.Node.Name)
	case protocol.TypeResult:
		c.reconcile(ctx, s, env)
	case protocol.TypeHello:
		c.logger.Warn("hello on established session ignored", "node", s.Node.Name, "raw", ev.line)
	default:
		c.logger.Warn("unhandled message type", "node", s.Node.Name, "type", env.Type, "raw", ev.line)
	}
}

// reconcile matches a result to its exec request, shows it to the operator
// and appends it to command history.
func (c *Controller) reconcile(ctx context.Context, s session.Session, env *protocol.Envelope) {
	res, err := env.Result()
	if err != nil {
		c.logger.Warn("invalid result", "node", s.Node.Name, "raw", env.Raw, "error", err)
		return
	}

	req, found := c.pending.Resolve(res.ID)
	switch {
	case !found:
		c.logger.Warn("result for unknown command id", "node", s.Node.Name, "id", res.ID)
	case req.Node != s.Node.Name:
		c.logger.Warn("result arrived from a different node",
			"id", res.ID,
			"sent_to", req.Node,
			"received_from", s.Node.Name,
		)
	}

	c.display.result(s.Node.Name, res)
	c.logger.Info("command result",
		"node", s.Node.Name,
		"id", res.ID,
		"exit", res.Exit,
		"stdout_bytes", len(res.Stdout),
		"stderr_bytes", len(res.Stderr),
	)

	if c.store == nil {
		return
	}
	rec := &store.CommandRecord{
		CommandID:   res.ID,
		Node:        s.Node.Name,
		Command:     req.Command,
		ExitCode:    res.Exit,
		Stdout:      res.Stdout,
		Stderr:      res.Stderr,
		SentAt:      req.SentAt,
		CompletedAt: c.now(),
	}
	if err := c.store.RecordCommand(ctx, rec); err != nil {
		c.logger.Error("recording command history", "id", res.ID, "error", err)
	}
}

// disconnected evicts the session whose reader stopped. Readers of replaced
// or already evicted connections find nothing to evict.
func (c *Controller) disconnected(ev connClosed) {
	s, ok := c.registry.FindByHandle(ev.handle)
	if !ok {
		c.logger.Debug("reader stopped for connection no longer registered", "handle", ev.handle)
		return
	}

	if errors.Is(ev.err, transport.ErrClosed) {
		c.logger.Info("node disconnected", "node", s.Node.Name, "handle", ev.handle)
	} else {
		c.logger.Error("connection error, evicting", "node", s.Node.Name, "handle", ev.handle, "error", ev.err)
	}
	c.evict(ev.handle)

	if n := c.pending.CountForNode(s.Node.Name); n > 0 {
		c.logger.Warn("node disconnected with commands in flight", "node", s.Node.Name, "pending", n)
	}
	c.display.noticef("node %s disconnected", s.Node.Name)
}

// sendFailed tears down a session whose connection rejected a write.
func (c *Controller) sendFailed(s session.Session, err error) {
	c.logger.Error("send failed, evicting", "node", s.Node.Name, "handle", s.Handle, "error", err)
	c.evict(s.Handle)
}

func (c *Controller) evict(handle session.Handle) {
	delete(c.lastPing, handle)
	c.registry.EvictByHandle(handle)
}

// housekeeping runs on every tick: it expires unanswered exec requests and,
// when heartbeats are enabled, pings idle sessions and evicts silent ones.
// A session with an exec in flight is never evicted for silence because
// the agent cannot answer while its command runs.
func (c *Controller) housekeeping(now time.Time) {
	for _, req := range c.pending.Expire(now) {
		c.logger.Warn("command expired without result",
			"id", req.ID,
			"node", req.Node,
			"command", req.Command,
			"age", now.Sub(req.SentAt).Round(time.Second),
		)
	}

	if c.cfg.HeartbeatInterval <= 0 {
		return
	}

	for _, s := range c.registry.Snapshot() {
		idle := now.Sub(s.LastSeen)
		busy := c.pending.CountForNode(s.Node.Name) > 0

		if idle > c.cfg.HeartbeatTimeout && !busy {
			c.logger.Warn("heartbeat timeout, evicting", "node", s.Node.Name, "idle", idle.Round(time.Millisecond))
			c.evict(s.Handle)
			c.display.noticef("node %s timed out", s.Node.Name)
			continue
		}

		if idle < c.cfg.HeartbeatInterval {
			continue
		}
		if last, ok := c.lastPing[s.Handle]; ok && now.Sub(last) < c.cfg.HeartbeatInterval {
			continue
		}
		if err := c.registry.SendHandle(s.Handle, protocol.Ping{}.Encode()); err != nil {
			c.sendFailed(s, err)
			continue
		}
		c.lastPing[s.Handle] = now
		c.logger.Debug("heartbeat ping sent", "node", s.Node.Name)
	}
}

func (c *Controller) configured(name string) bool {
	for _, n := range c.cfg.Nodes {
		if n.Name == name {
			return true
		}
	}
	return false
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
