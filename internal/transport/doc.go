// Package transport frames newline-delimited messages over TCP.
//
// # Sending
//
// SendFull writes a payload in full, appending the newline terminator when
// the payload does not already end with one:
//
//	err := conn.SendFull([]byte(`{"type":"ping"}`))
//
// Short writes are resumed and interrupted writes retried. Any other failure
// is returned as *Error with Op "send".
//
// # Receiving
//
// RecvLine returns one message with the terminator stripped. The timeout
// selects the waiting mode:
//
//   - negative: block until a message arrives
//   - zero: return a buffered message, or one that completes almost immediately
//   - positive: wait at most that long
//
// ErrTimeout and ErrClosed both mean "no message"; ErrClosed also marks the
// connection dead, which callers use to tear the session down.
//
// # Buffer Growth
//
// Inbound bytes accumulate in a growable buffer. A message longer than the
// configured maximum (DefaultMaxMessageSize unless WithMaxMessageSize is
// given) fails the read with ErrMessageTooLarge and kills the connection.
package transport
