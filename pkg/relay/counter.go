package relay

import "github.com/irctrakz/taplink/pkg/core"

// Counter accumulates forwarded traffic for one direction between reports.
//
// A Counter has a single writer (its Link) and a single resetter (the
// Reporter); both run on the bridge goroutine, so no synchronization is used.
type Counter struct {
	packets uint64
	bytes   uint64
}

// Add records one fully forwarded packet of n bytes.
func (c *Counter) Add(n int) {
	c.packets++
	c.bytes += uint64(n)
}

// Snapshot returns the current counts.
func (c *Counter) Snapshot() core.TrafficSnapshot {
	return core.TrafficSnapshot{Packets: c.packets, Bytes: c.bytes}
}

// Reset zeroes the counts.
func (c *Counter) Reset() {
	c.packets = 0
	c.bytes = 0
}

// SnapshotAndReset returns the current counts and zeroes them.
func (c *Counter) SnapshotAndReset() core.TrafficSnapshot {
	s := c.Snapshot()
	c.Reset()
	return s
}
