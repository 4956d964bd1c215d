// ABOUTME: Fixed-capacity table of live agent sessions keyed by node name and connection handle.
// ABOUTME: Owns connection lifecycle: admit, replace on reconnect, and evict.

package session

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrCapacityExceeded is returned by Admit when every slot is taken.
var ErrCapacityExceeded = errors.New("session table full")

// ErrHandleInUse is returned by Admit when the handle already belongs to another session.
var ErrHandleInUse = errors.New("connection handle already in use")

// ErrNotFound is returned when no connected session matches.
var ErrNotFound = errors.New("session not found")

// Handle identifies one accepted connection. Handles are never reused.
type Handle uint64

// Node is the static identity an agent announces in its hello.
type Node struct {
	Name    string
	Address string
	OS      string
}

// Conn is the part of a connection the registry needs: it sends on behalf
// of callers and closes connections it evicts or replaces.
type Conn interface {
	SendFull(payload []byte) error
	Close() error
}

// Session is a registered, live connection to a node agent.
type Session struct {
	Node        Node
	Handle      Handle
	LastSeen    time.Time
	ConnectedAt time.Time
	Connected   bool

	conn Conn
}

// Registry holds at most Capacity connected sessions, at most one per node
// name. It is not safe for concurrent use; the controller's event loop is its
// only owner.
type Registry struct {
	slots  []Session
	now    func() time.Time
	logger *slog.Logger
}

// NewRegistry creates a registry with a fixed number of slots.
func NewRegistry(capacity int, logger *slog.Logger) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		slots:  make([]Session, capacity),
		now:    time.Now,
		logger: logger.With("component", "sessions"),
	}
}

// Admit registers a connection for node. If the node already has a session
// its old connection is closed and the slot is reused in place; otherwise a
// free slot is taken, or ErrCapacityExceeded returned when none remain.
func (r *Registry) Admit(node Node, handle Handle, conn Conn) (Session, error) {
	if node.Name == "" {
		return Session{}, fmt.Errorf("admitting session: empty node name")
	}
	if conn == nil {
		return Session{}, fmt.Errorf("admitting session %s: nil connection", node.Name)
	}

	if i := r.indexByHandle(handle); i >= 0 && r.slots[i].Node.Name != node.Name {
		return Session{}, fmt.Errorf("admitting session %s (handle=%d): %w", node.Name, handle, ErrHandleInUse)
	}

	now := r.now()

	if i := r.indexByName(node.Name); i >= 0 {
		s := &r.slots[i]
		old := s.Handle
		if old != handle && s.conn != nil {
			_ = s.conn.Close()
		}
		s.Node = node
		s.Handle = handle
		s.conn = conn
		s.LastSeen = now
		s.ConnectedAt = now
		r.logger.Info("session replaced",
			"node", node.Name,
			"old_handle", old,
			"handle", handle,
		)
		return *s, nil
	}

	i := r.freeSlot()
	if i < 0 {
		r.logger.Error("session table full, refusing admission",
			"node", node.Name,
			"handle", handle,
			"capacity", len(r.slots),
		)
		return Session{}, fmt.Errorf("admitting session %s: %w", node.Name, ErrCapacityExceeded)
	}

	r.slots[i] = Session{
		Node:        node,
		Handle:      handle,
		LastSeen:    now,
		ConnectedAt: now,
		Connected:   true,
		conn:        conn,
	}
	r.logger.Info("session added",
		"node", node.Name,
		"handle", handle,
		"os", node.OS,
		"address", node.Address,
		"total_sessions", r.Len(),
	)
	return r.slots[i], nil
}

// EvictByHandle closes and removes the session owning handle.
// It reports whether a session was removed.
func (r *Registry) EvictByHandle(handle Handle) bool {
	i := r.indexByHandle(handle)
	if i < 0 {
		return false
	}
	r.logger.Info("removing session", "node", r.slots[i].Node.Name, "handle", handle)
	r.clear(i)
	return true
}

// EvictByName closes and removes the session for the named node.
// It reports whether a session was removed.
func (r *Registry) EvictByName(name string) bool {
	i := r.indexByName(name)
	if i < 0 {
		return false
	}
	r.logger.Info("removing session", "node", name, "handle", r.slots[i].Handle)
	r.clear(i)
	return true
}

// FindByName returns a copy of the named node's session.
func (r *Registry) FindByName(name string) (Session, bool) {
	if i := r.indexByName(name); i >= 0 {
		return r.slots[i], true
	}
	return Session{}, false
}

// FindByHandle returns a copy of the session owning handle.
func (r *Registry) FindByHandle(handle Handle) (Session, bool) {
	if i := r.indexByHandle(handle); i >= 0 {
		return r.slots[i], true
	}
	return Session{}, false
}

// Touch refreshes the last-seen time of the session owning handle.
func (r *Registry) Touch(handle Handle) {
	if i := r.indexByHandle(handle); i >= 0 {
		r.slots[i].LastSeen = r.now()
	}
}

// Send writes payload to the named node's connection.
func (r *Registry) Send(name string, payload []byte) error {
	i := r.indexByName(name)
	if i < 0 {
		return fmt.Errorf("sending to %s: %w", name, ErrNotFound)
	}
	return r.slots[i].conn.SendFull(payload)
}

// SendHandle writes payload to the connection behind handle.
func (r *Registry) SendHandle(handle Handle, payload []byte) error {
	i := r.indexByHandle(handle)
	if i < 0 {
		return fmt.Errorf("sending to handle %d: %w", handle, ErrNotFound)
	}
	return r.slots[i].conn.SendFull(payload)
}

// Snapshot returns a point-in-time copy of every connected session in slot
// order. Later registry mutations do not affect the returned slice.
func (r *Registry) Snapshot() []Session {
	out := make([]Session, 0, len(r.slots))
	for _, s := range r.slots {
		if s.Connected {
			out = append(out, s)
		}
	}
	return out
}

// Len returns the number of connected sessions.
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.slots {
		if s.Connected {
			n++
		}
	}
	return n
}

// Capacity returns the maximum number of concurrent sessions.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

// CloseAll closes every session's connection and empties the table.
func (r *Registry) CloseAll() {
	for i := range r.slots {
		if r.slots[i].Connected {
			r.clear(i)
		}
	}
}

func (r *Registry) clear(i int) {
	if c := r.slots[i].conn; c != nil {
		_ = c.Close()
	}
	r.slots[i] = Session{}
}

func (r *Registry) freeSlot() int {
	for i := range r.slots {
		if !r.slots[i].Connected {
			return i
		}
	}
	return -1
}

func (r *Registry) indexByName(name string) int {
	if name == "" {
		return -1
	}
	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].Node.Name == name {
			return i
		}
	}
	return -1
}

func (r *Registry) indexByHandle(handle Handle) int {
	for i := range r.slots {
		if r.slots[i].Connected && r.slots[i].Handle == handle {
			return i
		}
	}
	return -1
}
