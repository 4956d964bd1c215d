// Package inflight remembers exec requests that are waiting for a result,
// so results can be matched to the node and command that produced them and
// requests that never complete can be reported.
package inflight
