package relay

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/irctrakz/taplink/pkg/core"
	"golang.org/x/sys/unix"
)

// DefaultBufferSize bounds the largest packet a Link forwards.
const DefaultBufferSize = 65536

// Link directions. Traffic read from the upper interface flows down.
const (
	DirectionDown = "down"
	DirectionUp   = "up"
)

// ErrEndOfStream is returned by Transfer when the source read returns zero bytes.
var ErrEndOfStream = errors.New("end of stream")

// FaultError describes a failed read or write on one side of a Link.
type FaultError struct {
	// Op is "read" or "write"
	Op string

	// Device is the name of the interface that failed
	Device string

	// Err is the underlying error
	Err error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Device, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// PacketObserver is notified of every fully forwarded packet. The slice is
// only valid for the duration of the call.
type PacketObserver interface {
	Observe(direction string, pkt []byte)
}

// Link forwards packets in one direction, from src to dst.
type Link struct {
	direction string
	src       core.Device
	dst       core.Device
	counter   *Counter
	buf       []byte
	observer  PacketObserver

	// cumulative, read by Metrics from any goroutine
	packets     uint64
	bytes       uint64
	faults      uint64
	endOfStream uint64
}

// NewLink creates a link with its own counter and a transfer buffer of
// bufSize bytes (DefaultBufferSize if bufSize <= 0).
func NewLink(direction string, src, dst core.Device, bufSize int) *Link {
	if bufSize <= 0 {
		bufSize = DefaultBufferSize
	}
	return &Link{
		direction: direction,
		src:       src,
		dst:       dst,
		counter:   &Counter{},
		buf:       make([]byte, bufSize),
	}
}

// SetObserver installs an observer for forwarded packets.
func (l *Link) SetObserver(o PacketObserver) { l.observer = o }

// Direction returns the link label.
func (l *Link) Direction() string { return l.direction }

// Source returns the device packets are read from.
func (l *Link) Source() core.Device { return l.src }

// Destination returns the device packets are written to.
func (l *Link) Destination() core.Device { return l.dst }

// Counter returns the link's traffic counter.
func (l *Link) Counter() *Counter { return l.counter }

// Transfer performs one read from the source and, if it returned data, one
// write of the same bytes to the destination.
//
// It returns the number of bytes forwarded. A read that would block is not
// an error and returns (0, nil). A zero-length read returns ErrEndOfStream.
// Read and write failures, including short writes, are returned as
// *FaultError and leave the counter untouched.
func (l *Link) Transfer() (int, error) {
	n, err := l.src.Read(l.buf)
	if err != nil {
		if isTransient(err) {
			return 0, nil
		}
		atomic.AddUint64(&l.faults, 1)
		return 0, &FaultError{Op: "read", Device: l.src.Name(), Err: err}
	}
	if n == 0 {
		atomic.AddUint64(&l.endOfStream, 1)
		return 0, ErrEndOfStream
	}

	pkt := l.buf[:n]
	w, err := l.dst.Write(pkt)
	if err != nil {
		atomic.AddUint64(&l.faults, 1)
		return 0, &FaultError{Op: "write", Device: l.dst.Name(), Err: err}
	}
	if w != n {
		atomic.AddUint64(&l.faults, 1)
		return 0, &FaultError{
			Op:     "write",
			Device: l.dst.Name(),
			Err:    fmt.Errorf("%w: %d of %d bytes", io.ErrShortWrite, w, n),
		}
	}

	l.counter.Add(n)
	atomic.AddUint64(&l.packets, 1)
	atomic.AddUint64(&l.bytes, uint64(n))
	if l.observer != nil {
		l.observer.Observe(l.direction, pkt)
	}
	return n, nil
}

// Metrics returns cumulative metrics for the link.
func (l *Link) Metrics() core.LinkMetrics {
	return core.LinkMetrics{
		Direction:        l.direction,
		Source:           l.src.Name(),
		Destination:      l.dst.Name(),
		PacketsForwarded: atomic.LoadUint64(&l.packets),
		BytesForwarded:   atomic.LoadUint64(&l.bytes),
		Faults:           atomic.LoadUint64(&l.faults),
		EndOfStream:      atomic.LoadUint64(&l.endOfStream),
	}
}

func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) || errors.Is(err, unix.EINTR)
}

type observers []PacketObserver

func (o observers) Observe(direction string, pkt []byte) {
	for _, ob := range o {
		ob.Observe(direction, pkt)
	}
}

// Observers combines several observers into one, skipping nil entries.
// It returns nil when none remain.
func Observers(obs ...PacketObserver) PacketObserver {
	var out observers
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	}
	return out
}
