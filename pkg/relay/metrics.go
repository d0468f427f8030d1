package relay

import (
	"encoding/json"
	"runtime"
	"time"

	"github.com/irctrakz/taplink/pkg/logging"
)

type metricsSnapshot struct {
	Timestamp string            `json:"ts"`
	Uptime    string            `json:"uptime"`
	Down      map[string]uint64 `json:"down"`
	Up        map[string]uint64 `json:"up"`
	Rate      map[string]uint64 `json:"rate"`
	RT        map[string]uint64 `json:"rt"`
}

// MetricsLogger periodically logs cumulative link metrics at info level.
// It is driven from the bridge loop like the Reporter and keeps logging
// when the process runs detached.
type MetricsLogger struct {
	every   time.Duration
	format  string
	started time.Time
	next    time.Time
	links   []*Link
}

// NewMetricsLogger returns a logger firing every interval; format is "text"
// or "json". It returns nil if every is not positive.
func NewMetricsLogger(every time.Duration, format string, now time.Time, links ...*Link) *MetricsLogger {
	if every <= 0 {
		return nil
	}
	return &MetricsLogger{
		every:   every,
		format:  format,
		started: now,
		next:    now.Add(every),
		links:   links,
	}
}

// Check logs a metrics line if the interval has elapsed.
func (m *MetricsLogger) Check(now time.Time, last Report) bool {
	if m == nil || now.Before(m.next) {
		return false
	}
	m.next = now.Add(m.every)
	m.dump(now, last)
	return true
}

func (m *MetricsLogger) snapshot(now time.Time, last Report) metricsSnapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	snap := metricsSnapshot{
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    now.Sub(m.started).Round(time.Second).String(),
		Rate: map[string]uint64{
			"up_pps":   last.Up.Packets,
			"up_bps":   last.Up.Bits(),
			"down_pps": last.Down.Packets,
			"down_bps": last.Down.Bits(),
		},
		RT: map[string]uint64{
			"heap_alloc": ms.HeapAlloc,
			"num_gc":     uint64(ms.NumGC),
			"goroutines": uint64(runtime.NumGoroutine()),
		},
	}
	for _, l := range m.links {
		lm := l.Metrics()
		v := map[string]uint64{
			"pkts":   lm.PacketsForwarded,
			"bytes":  lm.BytesForwarded,
			"faults": lm.Faults,
			"eos":    lm.EndOfStream,
		}
		switch lm.Direction {
		case DirectionUp:
			snap.Up = v
		case DirectionDown:
			snap.Down = v
		}
	}
	return snap
}

func (m *MetricsLogger) dump(now time.Time, last Report) {
	snap := m.snapshot(now, last)
	switch m.format {
	case "json":
		b, _ := json.Marshal(snap)
		logging.Infof("metrics: %s", string(b))
	default:
		logging.Infof("metrics: ts=%s uptime=%s | down: pkts=%d bytes=%d faults=%d eos=%d | up: pkts=%d bytes=%d faults=%d eos=%d | rate: down=%dP/%db up=%dP/%db | rt: heap=%dKi gc=%d gor=%d",
			snap.Timestamp, snap.Uptime,
			snap.Down["pkts"], snap.Down["bytes"], snap.Down["faults"], snap.Down["eos"],
			snap.Up["pkts"], snap.Up["bytes"], snap.Up["faults"], snap.Up["eos"],
			snap.Rate["down_pps"], snap.Rate["down_bps"], snap.Rate["up_pps"], snap.Rate["up_bps"],
			snap.RT["heap_alloc"]/1024, snap.RT["num_gc"], snap.RT["goroutines"],
		)
	}
}
