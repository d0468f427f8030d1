//go:build linux

package tun

import (
	"fmt"

	"github.com/irctrakz/taplink/pkg/core"
	"golang.org/x/sys/unix"
)

// NewPipe returns a device that needs no kernel TUN support or privileges,
// together with its peer end.
//
// The pair is an AF_UNIX SOCK_SEQPACKET socket pair: like a TUN/TAP device
// it preserves packet boundaries, truncates oversize reads and is pollable.
// Packets written to peer are read from dev and vice versa, so peer plays
// the role of the kernel network stack behind the interface.
func NewPipe(name string, kind core.DeviceKind) (dev, peer *Interface, err error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("socketpair for %s: %w", name, err)
	}

	dev, err = NewInterface(name, kind, fds[0], nil)
	if err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return nil, nil, err
	}
	peer, err = NewInterface(name+"-peer", kind, fds[1], nil)
	if err != nil {
		dev.Close()
		unix.Close(fds[1])
		return nil, nil, err
	}
	return dev, peer, nil
}

// ReadTimeout waits up to ms milliseconds for a packet on i and reads it.
// It returns unix.ETIMEDOUT if nothing arrives.
func ReadTimeout(i *Interface, p []byte, ms int) (int, error) {
	fds := []unix.PollFd{{Fd: int32(i.fd), Events: unix.POLLIN}}
	for {
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		if n == 0 {
			return 0, unix.ETIMEDOUT
		}
		return i.Read(p)
	}
}
