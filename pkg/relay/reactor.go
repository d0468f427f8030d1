//go:build linux

package relay

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Reactor multiplexes readability of link sources over epoll.
//
// Wait returns at most one ready link per call; the caller dispatches it and
// waits again, so pending readiness on the other source is picked up on the
// next call rather than drained in one wake.
type Reactor struct {
	epfd   int
	links  map[int32]*Link
	events [1]unix.EpollEvent
}

// NewReactor creates the epoll instance.
func NewReactor() (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Reactor{epfd: epfd, links: make(map[int32]*Link, 2)}, nil
}

// Register adds read interest for the link's source.
func (r *Reactor) Register(l *Link) error {
	fd := l.Source().Fd()
	if _, dup := r.links[int32(fd)]; dup {
		return fmt.Errorf("register %s link: source %s already registered", l.Direction(), l.Source().Name())
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("register %s link (%s): %w", l.Direction(), l.Source().Name(), err)
	}
	r.links[int32(fd)] = l
	return nil
}

// Wait blocks until a registered source is readable or timeout elapses.
// It returns nil on timeout or when interrupted by a signal. The timeout is
// rounded up to whole milliseconds with a floor of one.
func (r *Reactor) Wait(timeout time.Duration) (*Link, error) {
	ms := int((timeout + time.Millisecond - 1) / time.Millisecond)
	if ms < 1 {
		ms = 1
	}

	n, err := unix.EpollWait(r.epfd, r.events[:], ms)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, fmt.Errorf("epoll wait: %w", err)
	}
	if n == 0 {
		return nil, nil
	}

	ev := r.events[0]
	// Errors and hangups are surfaced through the read in Transfer.
	if ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) == 0 {
		return nil, nil
	}
	return r.links[ev.Fd], nil
}

// Close releases the epoll instance. Registered devices are not closed.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}
