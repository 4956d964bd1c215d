// ABOUTME: Store interface and data types for fleet command history
// ABOUTME: Defines CommandRecord, CommandFilter and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Default and maximum number of rows returned by ListCommands.
const (
	DefaultListLimit = 50
	MaxListLimit     = 1000
)

// CommandRecord is one completed (or orphaned) exec round trip.
type CommandRecord struct {
	ID          string // UUID v4, generated on insert when empty
	CommandID   string // correlation id carried on the wire
	Node        string
	Command     string // empty when the result arrived for an unknown id
	ExitCode    int
	Stdout      string
	Stderr      string
	SentAt      time.Time // zero when the request was not in flight
	CompletedAt time.Time
}

// CommandFilter narrows ListCommands.
type CommandFilter struct {
	Node  string // empty matches every node
	Limit int    // default 50, max 1000
}

// Store defines the interface for command history persistence.
// History is append-only.
type Store interface {
	RecordCommand(ctx context.Context, rec *CommandRecord) error
	ListCommands(ctx context.Context, f CommandFilter) ([]*CommandRecord, error)
	GetCommand(ctx context.Context, commandID string) (*CommandRecord, error)
	Close() error
}

// normalizeLimit applies the default and cap to a list limit.
func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
