// Package capture records and describes forwarded packets. Both types in
// this package satisfy relay.PacketObserver.
package capture

import (
	"bufio"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/logging"
)

// DefaultSnaplen is used when Create is given no snaplen.
const DefaultSnaplen = 65536

// LinkType returns the pcap link type for packets read from a device of
// the given kind.
func LinkType(kind core.DeviceKind) layers.LinkType {
	if kind == core.KindTUN {
		return layers.LinkTypeRaw
	}
	return layers.LinkTypeEthernet
}

// Writer appends every observed packet to a pcap file.
type Writer struct {
	mu      sync.Mutex
	f       *os.File
	buf     *bufio.Writer
	w       *pcapgo.Writer
	path    string
	snaplen int
	packets uint64
	failed  bool
	now     func() time.Time
}

// Create truncates path and writes a pcap file header for kind. snaplen
// should match the largest packet the bridge forwards; longer records are
// cut to it.
func Create(path string, kind core.DeviceKind, snaplen int) (*Writer, error) {
	if snaplen <= 0 {
		snaplen = DefaultSnaplen
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create capture file: %w", err)
	}
	buf := bufio.NewWriter(f)
	w := pcapgo.NewWriter(buf)
	if err := w.WriteFileHeader(uint32(snaplen), LinkType(kind)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write capture header: %w", err)
	}
	logging.Infof("Capturing forwarded packets to %s (%s)", path, LinkType(kind))
	return &Writer{f: f, buf: buf, w: w, path: path, snaplen: snaplen, now: time.Now}, nil
}

// Observe writes one packet record. After the first write error the
// writer logs once and drops further packets.
func (w *Writer) Observe(direction string, pkt []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failed || w.f == nil {
		return
	}

	length := len(pkt)
	if len(pkt) > w.snaplen {
		pkt = pkt[:w.snaplen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     w.now(),
		CaptureLength: len(pkt),
		Length:        length,
	}
	if err := w.w.WritePacket(ci, pkt); err != nil {
		w.failed = true
		logging.Errorf("capture %s: %v; capture stopped", w.path, err)
		return
	}
	w.packets++
}

// Packets returns the number of packets written.
func (w *Writer) Packets() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.packets
}

// Close flushes buffered records and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	ferr := w.buf.Flush()
	cerr := w.f.Close()
	w.f = nil
	if ferr != nil {
		return fmt.Errorf("flush capture: %w", ferr)
	}
	return cerr
}
