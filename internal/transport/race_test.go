//go:build race

package transport

import "testing"

// skipRace skips tests that exercise the lfq SPSC queue behind Loopback.
// The race detector tracks per-variable happens-before and cannot see
// the queue's cross-variable memory ordering, producing false positives.
func skipRace(tb testing.TB) {
	tb.Helper()
	tb.Skip("skip: SPSC uses cross-variable memory ordering")
}
