package tun

import (
	"fmt"
	"io"
	"os"

	"github.com/irctrakz/taplink/pkg/core"
	"golang.org/x/sys/unix"
)

// Interface is a core.Device backed by a raw non-blocking descriptor.
//
// Reads and writes go straight to the descriptor with read(2)/write(2); the
// descriptor is never handed to the Go runtime poller for I/O.
type Interface struct {
	name   string
	kind   core.DeviceKind
	fd     int
	owner  io.Closer
	closed bool
}

// Ensure Interface implements core.Device
var _ core.Device = (*Interface)(nil)

// NewInterface wraps fd and switches it to non-blocking mode. If owner is
// non-nil it is responsible for the descriptor and is closed by Close;
// otherwise Close closes fd directly.
func NewInterface(name string, kind core.DeviceKind, fd int, owner io.Closer) (*Interface, error) {
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking on %s: %w", name, err)
	}
	return &Interface{name: name, kind: kind, fd: fd, owner: owner}, nil
}

// Name returns the interface name
func (i *Interface) Name() string { return i.name }

// Kind returns TUN or TAP
func (i *Interface) Kind() core.DeviceKind { return i.kind }

// Fd returns the non-blocking descriptor
func (i *Interface) Fd() int { return i.fd }

// Read reads one packet. Packets longer than p are truncated by the kernel.
func (i *Interface) Read(p []byte) (int, error) {
	n, err := unix.Read(i.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write writes one packet.
func (i *Interface) Write(p []byte) (int, error) {
	n, err := unix.Write(i.fd, p)
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Dup returns a duplicate of the descriptor as an *os.File, suitable for
// handing to a child process.
func (i *Interface) Dup() (*os.File, error) {
	fd, err := unix.Dup(i.fd)
	if err != nil {
		return nil, fmt.Errorf("dup %s: %w", i.name, err)
	}
	return os.NewFile(uintptr(fd), i.name), nil
}

// Close releases the descriptor. Subsequent calls are no-ops.
func (i *Interface) Close() error {
	if i.closed {
		return nil
	}
	i.closed = true
	if i.owner != nil {
		return i.owner.Close()
	}
	return unix.Close(i.fd)
}
