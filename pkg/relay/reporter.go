package relay

import (
	"fmt"
	"io"
	"time"

	"github.com/irctrakz/taplink/pkg/core"
)

// ReportInterval is the status cadence.
const ReportInterval = time.Second

const spinner = "-\\|/"

// Report is the per-interval traffic of both directions.
type Report struct {
	// At is the time the report was taken
	At time.Time

	// Up is the lower→upper traffic
	Up core.TrafficSnapshot

	// Down is the upper→lower traffic
	Down core.TrafficSnapshot
}

// Reporter snapshots and resets both counters once per ReportInterval and,
// when it has an output, prints a rotating status line.
//
// The next deadline is always now+ReportInterval measured from the tick that
// fired, so a late wake shifts the schedule instead of firing catch-up ticks.
type Reporter struct {
	up, down *Counter
	next     time.Time
	out      io.Writer
	eol      string
	turn     int
	last     Report
}

// NewReporter creates a reporter whose first tick is due one interval after now.
func NewReporter(up, down *Counter, now time.Time) *Reporter {
	return &Reporter{
		up:   up,
		down: down,
		next: now.Add(ReportInterval),
		eol:  "\r",
	}
}

// SetOutput sets the status line destination; nil silences the reporter.
// Lines end in a carriage return on a terminal and a newline otherwise.
func (r *Reporter) SetOutput(w io.Writer, terminal bool) {
	r.out = w
	if terminal {
		r.eol = "\r"
	} else {
		r.eol = "\n"
	}
}

// Next returns the time of the next tick.
func (r *Reporter) Next() time.Time { return r.next }

// Remaining returns the time left until the next tick, never negative.
func (r *Reporter) Remaining(now time.Time) time.Duration {
	d := r.next.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Last returns the most recent report.
func (r *Reporter) Last() Report { return r.last }

// Check runs a tick if now has reached the deadline. It reports whether a
// tick happened.
func (r *Reporter) Check(now time.Time) (Report, bool) {
	if now.Before(r.next) {
		return Report{}, false
	}

	rep := Report{
		At:   now,
		Up:   r.up.SnapshotAndReset(),
		Down: r.down.SnapshotAndReset(),
	}
	if r.out != nil {
		fmt.Fprintf(r.out, "%s%s", FormatStatus(spinner[r.turn], rep), r.eol)
		r.turn = (r.turn + 1) % len(spinner)
	}
	r.next = now.Add(ReportInterval)
	r.last = rep
	return rep, true
}

// FormatStatus renders one status line without its terminator.
func FormatStatus(spin byte, rep Report) string {
	return fmt.Sprintf("%c U: %9d P/s, %12d B/s, %13d b/s, D:  %9d P/s, %12d B/s, %13d b/s",
		spin,
		rep.Up.Packets, rep.Up.Bytes, rep.Up.Bits(),
		rep.Down.Packets, rep.Down.Bytes, rep.Down.Bits())
}
