// ABOUTME: Operator command interpreter run on the controller loop.
// ABOUTME: Parses one console line and acts on the registry, in-flight table and history store.

package controller

import (
	"context"
	"strconv"
	"strings"

	"github.com/2389/coven-fleet/internal/inflight"
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/store"
)

// interpret executes one operator line and reports whether the operator
// asked to shut down.
func (c *Controller) interpret(ctx context.Context, line string) bool {
	words, _ := splitWords(line, 1)
	if len(words) == 0 {
		return false
	}

	switch verb := words[0]; verb {
	case "nodes":
		c.display.nodes(c.registry.Snapshot(), c.registry.Capacity(), c.now())
	case "status":
		c.display.status(c.cfg.Nodes, c.registry.Snapshot())
	case "ping":
		c.cmdPing(line)
	case "exec":
		c.cmdExec(line)
	case "pending":
		c.display.pending(c.pending.List(), c.now())
	case "kick":
		c.cmdKick(line)
	case "history":
		c.cmdHistory(ctx, line)
	case "help":
		c.display.help()
	case "exit", "quit":
		c.logger.Info("exit command received")
		return true
	default:
		c.logger.Warn("unknown command", "command", verb)
		c.display.errorf("unknown command: %s (try 'help')", verb)
	}
	return false
}

func (c *Controller) cmdPing(line string) {
	args, _ := splitWords(line, 2)
	if len(args) < 2 {
		c.usage("ping <node>")
		return
	}
	name := args[1]

	s, ok := c.registry.FindByName(name)
	if !ok {
		c.nodeNotFound(name)
		return
	}
	if err := c.registry.Send(name, protocol.Ping{}.Encode()); err != nil {
		c.display.errorf("failed to send ping to %s", name)
		c.sendFailed(s, err)
		return
	}
	c.logger.Info("ping sent", "node", name)
	c.display.noticef("ping sent to %s", name)
}

func (c *Controller) cmdExec(line string) {
	args, cmd := splitWords(line, 2)
	if len(args) < 2 {
		c.usage("exec <node> <command>")
		return
	}
	name := args[1]
	if cmd == "" {
		c.logger.Error("no command provided for exec", "node", name)
		c.usage("exec <node> <command>")
		return
	}

	s, ok := c.registry.FindByName(name)
	if !ok {
		c.nodeNotFound(name)
		return
	}

	id := c.ids.Next()
	if err := c.registry.Send(name, protocol.Exec{ID: id, Cmd: cmd}.Encode()); err != nil {
		c.display.errorf("failed to send exec to %s", name)
		c.sendFailed(s, err)
		return
	}

	if evicted := c.pending.Add(inflight.Request{ID: id, Node: name, Command: cmd, SentAt: c.now()}); evicted != nil {
		c.logger.Warn("in-flight table full, forgetting oldest command",
			"id", evicted.ID,
			"node", evicted.Node,
		)
	}
	c.logger.Info("sent command", "id", id, "node", name, "command", cmd)
	c.display.sent(name, id)
}

func (c *Controller) cmdKick(line string) {
	args, _ := splitWords(line, 2)
	if len(args) < 2 {
		c.usage("kick <node>")
		return
	}
	name := args[1]

	s, ok := c.registry.FindByName(name)
	if !ok {
		c.nodeNotFound(name)
		return
	}
	c.logger.Info("evicting node on operator request", "node", name)
	c.evict(s.Handle)
	c.display.noticef("node %s evicted", name)
}

// cmdHistory accepts "history", "history <node>", "history <limit>" and
// "history <node> <limit>".
func (c *Controller) cmdHistory(ctx context.Context, line string) {
	if c.store == nil {
		c.display.errorf("command history is disabled")
		return
	}

	args, _ := splitWords(line, 3)
	var f store.CommandFilter
	for _, arg := range args[1:] {
		if n, err := strconv.Atoi(arg); err == nil {
			f.Limit = n
			continue
		}
		if f.Node != "" {
			c.usage("history [node] [limit]")
			return
		}
		f.Node = arg
	}

	records, err := c.store.ListCommands(ctx, f)
	if err != nil {
		c.logger.Error("listing command history", "error", err)
		c.display.errorf("history unavailable: %v", err)
		return
	}
	c.display.history(records)
}

func (c *Controller) usage(syntax string) {
	c.logger.Warn("invalid command usage", "usage", syntax)
	c.display.errorf("usage: %s", syntax)
}

func (c *Controller) nodeNotFound(name string) {
	c.logger.Warn("node not found", "node", name)
	c.display.errorf("node not found: %s", name)
}

// splitWords returns up to n leading whitespace-separated words of line and
// the remainder after them with leading whitespace removed. The remainder
// keeps its inner spacing so command text reaches the agent unchanged.
func splitWords(line string, n int) ([]string, string) {
	rest := strings.TrimRight(line, "\r\n")
	var words []string
	for len(words) < n {
		rest = strings.TrimLeft(rest, " \t")
		if rest == "" {
			break
		}
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			words = append(words, rest)
			rest = ""
			break
		}
		words = append(words, rest[:end])
		rest = rest[end:]
	}
	return words, strings.TrimLeft(rest, " \t")
}
