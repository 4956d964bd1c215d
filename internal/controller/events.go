// ABOUTME: Events delivered to the controller loop by its producer goroutines.
// ABOUTME: Operator input, completed handshakes, session traffic, disconnects and queries.

package controller

import (
	"github.com/2389/coven-fleet/internal/protocol"
	"github.com/2389/coven-fleet/internal/session"
	"github.com/2389/coven-fleet/internal/transport"
)

// event is anything the loop can receive.
type event any

// operatorLine is one line typed by the operator. tooLong lines carry no text.
type operatorLine struct {
	line    string
	tooLong bool
}

// operatorClosed reports the end of operator input.
type operatorClosed struct {
	err error
}

// helloReceived carries a connection that completed its handshake and
// is waiting to be admitted.
type helloReceived struct {
	handle session.Handle
	conn   *transport.Conn
	hello  protocol.Hello
}

// messageReceived is one line read from an admitted session.
type messageReceived struct {
	handle session.Handle
	line   string
}

// connClosed reports that a session's reader stopped.
type connClosed struct {
	handle session.Handle
	err    error
}

// query runs fn on the loop goroutine.
type query struct {
	fn func()
}
