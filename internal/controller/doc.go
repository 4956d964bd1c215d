// Package controller implements the fleet controller.
//
// A Controller listens for node agents, admits them after a hello handshake,
// and lets an operator drive them from a line-oriented console: list
// sessions, ping nodes, run shell commands and read results.
//
// # Concurrency
//
// One loop goroutine owns the session registry, the in-flight request table
// and all console state. Other goroutines only produce events:
//
//   - the acceptor hands each new connection to a handshake goroutine, which
//     waits a bounded time for the hello and forwards it for admission
//   - each admitted session has a reader that forwards lines in arrival order
//   - the operator reader forwards console lines
//
// The loop also wakes on a ticker to expire unanswered commands and, when
// configured, to ping idle sessions and evict silent ones.
//
// # Console
//
//	nodes | status | ping <node> | exec <node> <command...> | pending
//	kick <node> | history [node] [limit] | help | exit | quit
//
// A result is printed as
//
//	[web-1] command result (id=1700000000000_1, exit=0)
//	stdout:
//	...
//	stderr: <empty>
//
// and appended to the command history store.
package controller
