//go:build linux

package tun

import (
	"fmt"
	"syscall"

	"github.com/irctrakz/taplink/pkg/core"
	"github.com/irctrakz/taplink/pkg/logging"
	"github.com/songgao/water"
)

// Open acquires the virtual interface described by cfg.
//
// The device is requested without the packet-info header so reads and writes
// carry the bare IP packet (TUN) or Ethernet frame (TAP). A non-empty name is
// bound as requested and the kernel may refuse it. The returned Interface is
// non-blocking.
func Open(cfg core.DeviceConfig) (*Interface, error) {
	wcfg := water.Config{DeviceType: water.TUN}
	if cfg.Kind == core.KindTAP {
		wcfg.DeviceType = water.TAP
	}
	wcfg.PlatformSpecificParams = water.PlatformSpecificParams{Name: cfg.Name}

	ifce, err := water.New(wcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s device %q: %w", cfg.Kind, cfg.Name, err)
	}

	fd, err := rawFd(ifce)
	if err != nil {
		ifce.Close()
		return nil, fmt.Errorf("%s: %w", ifce.Name(), err)
	}

	// ifce stays referenced through the owner so its finalizer cannot close fd.
	dev, err := NewInterface(ifce.Name(), cfg.Kind, fd, ifce)
	if err != nil {
		ifce.Close()
		return nil, err
	}

	logging.Infof("Acquired %s device %s (fd %d)", cfg.Kind, dev.Name(), fd)
	return dev, nil
}

// rawFd extracts the descriptor through SyscallConn. water opens the device
// in blocking mode; Open switches it to non-blocking afterwards.
func rawFd(ifce *water.Interface) (int, error) {
	sc, ok := ifce.ReadWriteCloser.(syscall.Conn)
	if !ok {
		return -1, fmt.Errorf("device handle does not expose a descriptor")
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return -1, err
	}
	fd := -1
	if err := rc.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// OpenPair acquires both interfaces of a bridge. If the second acquisition
// fails the first device is closed before returning.
func OpenPair(a, b core.DeviceConfig) (*Interface, *Interface, error) {
	first, err := Open(a)
	if err != nil {
		return nil, nil, err
	}
	second, err := Open(b)
	if err != nil {
		first.Close()
		return nil, nil, err
	}
	return first, second, nil
}

// Inherit rebuilds an Interface from a descriptor passed down by a parent
// process. The descriptor is switched to non-blocking mode whatever state it
// arrives in.
func Inherit(fd int, name string, kind core.DeviceKind) (*Interface, error) {
	return NewInterface(name, kind, fd, nil)
}
