// ABOUTME: Correlation id generator for exec requests.
// ABOUTME: Ids combine wall-clock milliseconds with a per-process counter.

package protocol

import (
	"strconv"
	"sync/atomic"
	"time"
)

// IDGenerator produces correlation ids of the form <unix_ms>_<counter>.
// The counter never repeats within one generator, so ids are unique for
// the lifetime of the process even when the clock stalls or steps back.
type IDGenerator struct {
	counter atomic.Uint64
	now     func() time.Time
}

// NewIDGenerator returns a generator backed by the wall clock.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{now: time.Now}
}

// Next returns a fresh correlation id.
func (g *IDGenerator) Next() string {
	n := g.counter.Add(1)
	ms := g.now().UnixMilli()
	return strconv.FormatInt(ms, 10) + "_" + strconv.FormatUint(n, 10)
}
