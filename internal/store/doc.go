// Package store persists the controller's command history.
//
// Every result the controller receives becomes one CommandRecord: the
// correlation id, the node that ran it, the command text (when the request
// was still in flight), exit status and captured output. History is
// append-only; nothing is updated or deleted.
//
// SQLiteStore keeps history in a SQLite database using the pure-Go
// modernc.org/sqlite driver. MockStore is an in-memory implementation for
// tests.
package store
