// ABOUTME: Bounded, TTL-expiring table of exec requests awaiting a result.
// ABOUTME: Entries are keyed by correlation id and kept in send order for O(1) oldest eviction.

package inflight

import (
	"container/list"
	"time"
)

// DefaultTTL is how long an unanswered request is remembered.
const DefaultTTL = 10 * time.Minute

// DefaultMaxSize bounds the number of outstanding requests.
const DefaultMaxSize = 1024

// Request is an exec sent to a node that has not produced a result yet.
type Request struct {
	ID      string
	Node    string
	Command string
	SentAt  time.Time
}

// Table tracks outstanding requests by id. Insertion order is kept in a
// linked list so the oldest entry can be dropped when the table is full.
// It is not safe for concurrent use.
type Table struct {
	byID    map[string]*list.Element
	order   *list.List // *Request, oldest at front
	ttl     time.Duration
	maxSize int
}

// New creates a table. Non-positive arguments fall back to the defaults.
func New(ttl time.Duration, maxSize int) *Table {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Table{
		byID:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Add records a request. Re-adding an id replaces the earlier entry and
// moves it to the back. When the table is full the oldest request is
// evicted and returned.
func (t *Table) Add(req Request) (evicted *Request) {
	if elem, ok := t.byID[req.ID]; ok {
		t.order.Remove(elem)
		delete(t.byID, req.ID)
	}

	if len(t.byID) >= t.maxSize {
		evicted = t.removeOldest()
	}

	r := req
	t.byID[req.ID] = t.order.PushBack(&r)
	return evicted
}

// Resolve removes and returns the request with the given id.
func (t *Table) Resolve(id string) (Request, bool) {
	elem, ok := t.byID[id]
	if !ok {
		return Request{}, false
	}
	req, _ := elem.Value.(*Request)
	t.order.Remove(elem)
	delete(t.byID, id)
	return *req, true
}

// Get returns the request with the given id without removing it.
func (t *Table) Get(id string) (Request, bool) {
	elem, ok := t.byID[id]
	if !ok {
		return Request{}, false
	}
	req, _ := elem.Value.(*Request)
	return *req, true
}

// Expire removes every request sent more than the TTL before now and
// returns them oldest first.
func (t *Table) Expire(now time.Time) []Request {
	var expired []Request
	for {
		front := t.order.Front()
		if front == nil {
			break
		}
		req, _ := front.Value.(*Request)
		if now.Sub(req.SentAt) <= t.ttl {
			break
		}
		expired = append(expired, *req)
		t.order.Remove(front)
		delete(t.byID, req.ID)
	}
	return expired
}

// List returns all outstanding requests, oldest first.
func (t *Table) List() []Request {
	out := make([]Request, 0, t.order.Len())
	for e := t.order.Front(); e != nil; e = e.Next() {
		req, _ := e.Value.(*Request)
		out = append(out, *req)
	}
	return out
}

// CountForNode returns how many requests are outstanding for the node.
func (t *Table) CountForNode(node string) int {
	n := 0
	for e := t.order.Front(); e != nil; e = e.Next() {
		if req, _ := e.Value.(*Request); req.Node == node {
			n++
		}
	}
	return n
}

// Len returns the number of outstanding requests.
func (t *Table) Len() int {
	return len(t.byID)
}

func (t *Table) removeOldest() *Request {
	front := t.order.Front()
	if front == nil {
		return nil
	}
	req, _ := front.Value.(*Request)
	t.order.Remove(front)
	delete(t.byID, req.ID)
	return req
}
