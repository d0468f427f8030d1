//go:build linux

package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/logging"
)

// Options configures a Bridge.
type Options struct {
	// BufferSize is the per-link transfer buffer (DefaultBufferSize if zero).
	BufferSize int

	// Status receives the per-second status line. Nil keeps the bridge
	// silent; counters are still snapshotted and reset.
	Status io.Writer

	// Terminal reports whether Status is a terminal.
	Terminal bool

	// MetricsInterval enables cumulative metrics logging when positive.
	MetricsInterval time.Duration

	// MetricsFormat is "text" or "json".
	MetricsFormat string

	// Observer sees every forwarded packet.
	Observer PacketObserver

	// Clock overrides time.Now.
	Clock func() time.Time
}

// Bridge relays packets between two devices in both directions on a single
// goroutine.
type Bridge struct {
	upper, lower core.Device
	down, up     *Link
	reactor      *Reactor
	reporter     *Reporter
	metrics      *MetricsLogger
	now          func() time.Time
}

// New assembles the links, registers both sources with a new reactor and
// arms the reporter. Devices remain owned by the caller.
func New(upper, lower core.Device, opts Options) (*Bridge, error) {
	if upper.Kind() != lower.Kind() {
		return nil, fmt.Errorf("cannot bridge %s %s with %s %s", upper.Kind(), upper.Name(), lower.Kind(), lower.Name())
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	b := &Bridge{
		upper: upper,
		lower: lower,
		down:  NewLink(DirectionDown, upper, lower, opts.BufferSize),
		up:    NewLink(DirectionUp, lower, upper, opts.BufferSize),
		now:   now,
	}
	if opts.Observer != nil {
		b.down.SetObserver(opts.Observer)
		b.up.SetObserver(opts.Observer)
	}

	reactor, err := NewReactor()
	if err != nil {
		return nil, err
	}
	for _, l := range []*Link{b.down, b.up} {
		if err := reactor.Register(l); err != nil {
			reactor.Close()
			return nil, err
		}
	}
	b.reactor = reactor

	start := now()
	b.reporter = NewReporter(b.up.Counter(), b.down.Counter(), start)
	b.reporter.SetOutput(opts.Status, opts.Terminal)
	b.metrics = NewMetricsLogger(opts.MetricsInterval, opts.MetricsFormat, start, b.down, b.up)

	logging.InfoWithFields(logging.Fields{
		"upper":  upper.Name(),
		"lower":  lower.Name(),
		"buffer": len(b.down.buf),
	}, "Bridging %s %s <-> %s", upper.Kind(), upper.Name(), lower.Name())
	return b, nil
}

// Down returns the upper→lower link.
func (b *Bridge) Down() *Link { return b.down }

// Up returns the lower→upper link.
func (b *Bridge) Up() *Link { return b.up }

// Reporter returns the bridge's reporter.
func (b *Bridge) Reporter() *Reporter { return b.reporter }

// Run relays until ctx is cancelled or the reactor fails. Cancellation is
// observed between waits, so it takes effect within one report interval.
func (b *Bridge) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := b.Step(); err != nil {
			return err
		}
	}
}

// Step runs one wake cycle: wait for readiness or the next tick, run the
// tick check, then dispatch at most one transfer.
func (b *Bridge) Step() error {
	link, err := b.reactor.Wait(b.reporter.Remaining(b.now()))
	if err != nil {
		return err
	}

	now := b.now()
	b.reporter.Check(now)
	b.metrics.Check(now, b.reporter.Last())

	if link != nil {
		b.dispatch(link)
	}
	return nil
}

// dispatch runs one transfer and handles its outcome locally: faults are
// logged and the bridge keeps running in both directions.
func (b *Bridge) dispatch(l *Link) {
	_, err := l.Transfer()
	switch {
	case err == nil:
	case errors.Is(err, ErrEndOfStream):
		logging.Debugf("%s link: zero-length read from %s", l.Direction(), l.Source().Name())
	default:
		logging.WarnWithFields(logging.Fields{
			"direction": l.Direction(),
			"faults":    l.Metrics().Faults,
		}, "transfer fault: %v", err)
	}
}

// Close releases the reactor. The devices are left open.
func (b *Bridge) Close() error {
	return b.reactor.Close()
}
