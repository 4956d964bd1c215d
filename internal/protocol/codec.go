// ABOUTME: Decoder for wire messages; extracts fields by name regardless of order.
// ABOUTME: Rejects lines that are not JSON objects or lack a string "type" field.

package protocol

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformed indicates a line that is not a message at all.
var ErrMalformed = errors.New("protocol: malformed message")

// ErrMissingField indicates a well-formed message lacking a required field.
var ErrMissingField = errors.New("protocol: missing required field")

// exitUnknown is reported for results that carry no exit field.
const exitUnknown = -1

// Envelope is a decoded message whose type is known but whose fields are
// extracted lazily through the typed accessors.
type Envelope struct {
	Type Type
	Raw  string
	root gjson.Result
}

// Decode parses one wire line. Unknown fields are ignored.
func Decode(line string) (*Envelope, error) {
	if !gjson.Valid(line) {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}
	root := gjson.Parse(line)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: not a JSON object", ErrMalformed)
	}

	t := root.Get("type")
	if t.Type != gjson.String || t.Str == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	return &Envelope{Type: Type(t.Str), Raw: line, root: root}, nil
}

// Field returns the named field as text and whether it was present.
func (e *Envelope) Field(name string) (string, bool) {
	r := e.root.Get(name)
	if !r.Exists() {
		return "", false
	}
	return r.String(), true
}

func (e *Envelope) required(name string) (string, error) {
	v, ok := e.Field(name)
	if !ok || v == "" {
		return "", fmt.Errorf("%w: %s.%s", ErrMissingField, e.Type, name)
	}
	return v, nil
}

func (e *Envelope) optional(name string) string {
	v, _ := e.Field(name)
	return v
}

func (e *Envelope) expect(t Type) error {
	if e.Type != t {
		return fmt.Errorf("protocol: expected %s message, got %s", t, e.Type)
	}
	return nil
}

// Hello extracts a hello message. The name is required.
func (e *Envelope) Hello() (Hello, error) {
	if err := e.expect(TypeHello); err != nil {
		return Hello{}, err
	}
	name, err := e.required("name")
	if err != nil {
		return Hello{}, err
	}
	return Hello{
		Name:    name,
		OS:      e.optional("os"),
		Address: e.optional("address"),
	}, nil
}

// Ack extracts an ack message. The status is required.
func (e *Envelope) Ack() (Ack, error) {
	if err := e.expect(TypeAck); err != nil {
		return Ack{}, err
	}
	status, err := e.required("status")
	if err != nil {
		return Ack{}, err
	}
	return Ack{Status: status, Reason: e.optional("reason")}, nil
}

// Exec extracts an exec request. Both id and cmd are required.
func (e *Envelope) Exec() (Exec, error) {
	if err := e.expect(TypeExec); err != nil {
		return Exec{}, err
	}
	id, err := e.required("id")
	if err != nil {
		return Exec{}, err
	}
	cmd, err := e.required("cmd")
	if err != nil {
		return Exec{}, err
	}
	return Exec{ID: id, Cmd: cmd}, nil
}

// Result extracts a command result. The id is required; a missing exit code
// decodes as -1 and missing streams as empty strings.
func (e *Envelope) Result() (Result, error) {
	if err := e.expect(TypeResult); err != nil {
		return Result{}, err
	}
	id, err := e.required("id")
	if err != nil {
		return Result{}, err
	}

	exit := exitUnknown
	if r := e.root.Get("exit"); r.Type == gjson.Number {
		exit = int(r.Int())
	}

	return Result{
		ID:     id,
		Exit:   exit,
		Stdout: e.optional("stdout"),
		Stderr: e.optional("stderr"),
	}, nil
}
