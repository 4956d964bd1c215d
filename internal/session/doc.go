// Package session tracks the agents currently connected to the controller.
//
// A Registry is a fixed-size table: each slot holds at most one connected
// session, and each node name occupies at most one slot. A node that
// reconnects replaces its previous session in place and the previous
// connection is closed.
package session
