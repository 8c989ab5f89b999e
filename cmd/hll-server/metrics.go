package main

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// Metrics tracks server activity. The Total* fields are monotonic
// counters; ActiveConnections is a gauge maintained by the accept loop
// and doubles as the source of truth for the connection cap.
type Metrics struct {
	ActiveConnections atomic.Int64
	TotalConnections  atomic.Uint64
	TotalCommands     atomic.Uint64
	TotalInserts      atomic.Uint64
	TotalSnapshots    atomic.Uint64
}

// render formats the counters for the STATS reply, one k=v pair per
// line, with the store's key count folded in.
func (m *Metrics) render(keys int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "keys=%d\n", keys)
	fmt.Fprintf(&b, "connections=%d\n", m.TotalConnections.Load())
	fmt.Fprintf(&b, "active_connections=%d\n", m.ActiveConnections.Load())
	fmt.Fprintf(&b, "commands=%d\n", m.TotalCommands.Load())
	fmt.Fprintf(&b, "inserts=%d\n", m.TotalInserts.Load())
	fmt.Fprintf(&b, "snapshots=%d", m.TotalSnapshots.Load())
	return b.String()
}
