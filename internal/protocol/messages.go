// ABOUTME: Controller/agent message set and its flat key-value wire encoding.
// ABOUTME: Each message encodes to a single-line JSON object with a "type" discriminator.

package protocol

import (
	"strconv"
	"strings"
)

// Type discriminates wire messages.
type Type string

const (
	TypeHello  Type = "hello"
	TypeAck    Type = "ack"
	TypePing   Type = "ping"
	TypePong   Type = "pong"
	TypeExec   Type = "exec"
	TypeResult Type = "result"
)

// Ack statuses sent by the controller in reply to a hello.
const (
	AckOK       = "ok"
	AckRejected = "rejected"
)

// ExitLaunchFailure is the exit code reported when a command could not be started.
const ExitLaunchFailure = 127

// Hello is the first message an agent sends after connecting.
type Hello struct {
	Name    string
	OS      string
	Address string
}

// Encode returns the wire form of the hello.
func (h Hello) Encode() []byte {
	w := newWriter(TypeHello)
	w.str("name", h.Name)
	w.str("os", h.OS)
	w.str("address", h.Address)
	return w.bytes()
}

// Ack is the controller's answer to a hello.
type Ack struct {
	Status string
	Reason string
}

// OK reports whether the agent was admitted.
func (a Ack) OK() bool {
	return a.Status == AckOK
}

// Encode returns the wire form of the ack.
func (a Ack) Encode() []byte {
	w := newWriter(TypeAck)
	w.str("status", a.Status)
	if a.Reason != "" {
		w.str("reason", a.Reason)
	}
	return w.bytes()
}

// Ping asks the peer to answer with a pong.
type Ping struct{}

// Encode returns the wire form of the ping.
func (Ping) Encode() []byte {
	return newWriter(TypePing).bytes()
}

// Pong answers a ping.
type Pong struct{}

// Encode returns the wire form of the pong.
func (Pong) Encode() []byte {
	return newWriter(TypePong).bytes()
}

// Exec asks an agent to run a shell command.
type Exec struct {
	ID  string
	Cmd string
}

// Encode returns the wire form of the exec request.
func (e Exec) Encode() []byte {
	w := newWriter(TypeExec)
	w.str("id", e.ID)
	w.str("cmd", e.Cmd)
	return w.bytes()
}

// Result carries the outcome of an Exec, correlated by ID.
type Result struct {
	ID     string
	Exit   int
	Stdout string
	Stderr string
}

// Encode returns the wire form of the result.
func (r Result) Encode() []byte {
	w := newWriter(TypeResult)
	w.str("id", r.ID)
	w.num("exit", r.Exit)
	w.str("stdout", r.Stdout)
	w.str("stderr", r.Stderr)
	return w.bytes()
}

// writer builds a flat JSON object one field at a time.
type writer struct {
	b strings.Builder
}

func newWriter(t Type) *writer {
	w := &writer{}
	w.b.WriteByte('{')
	w.key("type")
	w.quoted(string(t))
	return w
}

func (w *writer) key(k string) {
	if w.b.Len() > 1 {
		w.b.WriteByte(',')
	}
	w.quoted(k)
	w.b.WriteByte(':')
}

func (w *writer) str(k, v string) {
	w.key(k)
	w.quoted(v)
}

func (w *writer) num(k string, v int) {
	w.key(k)
	w.b.WriteString(strconv.Itoa(v))
}

func (w *writer) quoted(s string) {
	w.b.WriteByte('"')
	w.b.WriteString(Escape(s))
	w.b.WriteByte('"')
}

func (w *writer) bytes() []byte {
	w.b.WriteByte('}')
	return []byte(w.b.String())
}

const hexDigits = "0123456789abcdef"

// EscapedLen is len(Escape(s)) computed without building the string.
func EscapedLen(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		n += escapedByteLen(s[i])
	}
	return n
}

func escapedByteLen(c byte) int {
	switch c {
	case '"', '\\', '\n', '\r', '\t':
		return 2
	}
	if c < 0x20 {
		return 6
	}
	return 1
}

// Escape makes s safe to embed in a quoted wire field. Quote, backslash,
// newline, carriage return and tab use their short escapes; any other
// control byte is written as \u00XX so a message never spans lines.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				b.WriteString(`\u00`)
				b.WriteByte(hexDigits[c>>4])
				b.WriteByte(hexDigits[c&0xf])
				continue
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}
