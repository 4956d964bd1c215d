// ABOUTME: Fits command results into a single wire message.
// ABOUTME: Output streams are trimmed by their escaped size so the encoded line stays under the peer's cap.

package agent

import (
	"strings"
	"unicode/utf8"

	"github.com/2389/coven-fleet/internal/protocol"
)

// fitResult trims the output streams so res encodes to at most limit bytes,
// newline excluded. It reports whether anything was cut.
func fitResult(res protocol.Result, limit int) (protocol.Result, bool) {
	if len(res.Encode()) <= limit {
		return res, false
	}

	base := protocol.Result{ID: res.ID, Exit: res.Exit}
	budget := limit - len(base.Encode()) - 2*protocol.EscapedLen(TruncationMarker)
	if budget < 0 {
		budget = 0
	}

	// Split evenly; a stream that needs less than half leaves the rest to the other.
	outLen, errLen := protocol.EscapedLen(res.Stdout), protocol.EscapedLen(res.Stderr)
	outBudget := budget / 2
	errBudget := budget - outBudget
	switch {
	case outLen < outBudget:
		errBudget += outBudget - outLen
		outBudget = outLen
	case errLen < errBudget:
		outBudget += errBudget - errLen
		errBudget = errLen
	}

	res.Stdout = truncateEscaped(res.Stdout, outBudget)
	res.Stderr = truncateEscaped(res.Stderr, errBudget)
	return res, true
}

// truncateEscaped keeps the longest prefix of s whose escaped form fits in
// budget bytes, cut on a rune boundary, and marks it truncated.
func truncateEscaped(s string, budget int) string {
	if protocol.EscapedLen(s) <= budget {
		return s
	}
	s = strings.TrimSuffix(s, TruncationMarker)

	used, cut := 0, 0
	for cut < len(s) {
		w := protocol.EscapedLen(s[cut : cut+1])
		if used+w > budget {
			break
		}
		used += w
		cut++
	}
	for cut > 0 && cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + TruncationMarker
}
