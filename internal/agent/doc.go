// Package agent is the node side of the fleet.
//
// # Overview
//
// An Agent dials the controller, announces itself with a hello and then
// serves requests on that one connection until the controller goes away:
//
//	a := agent.New(agent.Config{ControllerAddr: "10.0.0.1:7070"}, logger)
//	err := a.Run(ctx)
//
// Run is a single session. Reconnecting is the caller's job; the
// fleet-agent binary wraps Run in an exponential backoff loop.
//
// # Requests
//
//   - exec: run the command through the shell and reply with a result
//     carrying the same id, the exit code and both output streams
//   - ping: reply with a pong
//
// Anything else is logged and ignored. Commands run one at a time on the
// serving goroutine, so a ping that arrives during a long command is only
// answered once the command finishes.
//
// # Executor
//
// Executor captures stdout and stderr into separate buffers capped at
// MaxOutputBytes each. A command that cannot be started, or that dies from a
// signal, reports exit code 127 with a diagnostic on stderr.
package agent
