// Package reactor implements the readiness-based event loop shared by
// gen-app's server and client roles: a thin, idiomatic wrapper over Linux
// epoll (via golang.org/x/sys/unix) that the socket state machines drive
// directly, because they need raw, individually addressable file
// descriptors rather than the abstractions net.Conn/net.Listener impose.
package reactor

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Interest is a bitmask of readiness conditions a watch cares about.
type Interest uint32

const (
	Readable         Interest = 1 << iota // data available to read
	Writable                              // socket can accept a write without blocking
	PeerHangup                            // EPOLLHUP: peer fully closed
	Error                                 // EPOLLERR: socket-level error pending
	RemoteReadHangup                      // EPOLLRDHUP: peer closed its write side
)

// MaxEvents bounds how many ready events a single Wait call returns.
const MaxEvents = 64

// ErrInterrupted is returned by Wait when epoll_wait was interrupted by a
// signal (EINTR) rather than failing outright; callers should re-enter Wait.
var ErrInterrupted = errors.New("reactor: wait interrupted")

// Event describes one ready descriptor and the interests that fired.
type Event struct {
	Fd        int
	Interests Interest
}

// Reactor owns one epoll instance.
type Reactor struct {
	epfd int
}

// New creates and initialises the underlying epoll instance with
// close-on-exec semantics.
func New() (*Reactor, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: epoll_create1: %w", err)
	}
	return &Reactor{epfd: fd}, nil
}

// Watch registers fd with the given interests. It is an error to watch an
// already-watched descriptor; callers must Unwatch before re-registering.
func (r *Reactor) Watch(fd int, interests Interest) error {
	ev := unix.EpollEvent{Events: toEpollMask(interests), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: watch fd=%d: %w", fd, err)
	}
	return nil
}

// Modify changes the interest set for an already-watched fd.
func (r *Reactor) Modify(fd int, interests Interest) error {
	ev := unix.EpollEvent{Events: toEpollMask(interests), Fd: int32(fd)}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("reactor: modify fd=%d: %w", fd, err)
	}
	return nil
}

// Unwatch deregisters fd. Callers must call this before closing fd.
func (r *Reactor) Unwatch(fd int) error {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("reactor: unwatch fd=%d: %w", fd, err)
	}
	return nil
}

// Wait blocks until at least one watched descriptor is ready, or timeoutMs
// elapses (-1 blocks forever), filling buf with ready events and returning
// how many were written. ErrInterrupted is returned, never wrapped into a
// generic failure, when the wait was broken by a signal.
func (r *Reactor) Wait(buf []Event, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(buf))
	n, err := unix.EpollWait(r.epfd, raw, timeoutMs)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, ErrInterrupted
		}
		return 0, fmt.Errorf("reactor: epoll_wait: %w", err)
	}
	for i := 0; i < n; i++ {
		buf[i] = Event{Fd: int(raw[i].Fd), Interests: fromEpollMask(raw[i].Events)}
	}
	return n, nil
}

// Close tears down the epoll instance. It must be called after every
// watched fd has been unwatched and closed.
func (r *Reactor) Close() error {
	return unix.Close(r.epfd)
}

func toEpollMask(interests Interest) uint32 {
	var mask uint32
	if interests&Readable != 0 {
		mask |= unix.EPOLLIN
	}
	if interests&Writable != 0 {
		mask |= unix.EPOLLOUT
	}
	if interests&PeerHangup != 0 {
		mask |= unix.EPOLLHUP
	}
	if interests&Error != 0 {
		mask |= unix.EPOLLERR
	}
	if interests&RemoteReadHangup != 0 {
		mask |= unix.EPOLLRDHUP
	}
	return mask
}

func fromEpollMask(mask uint32) Interest {
	var interests Interest
	if mask&unix.EPOLLIN != 0 {
		interests |= Readable
	}
	if mask&unix.EPOLLOUT != 0 {
		interests |= Writable
	}
	if mask&unix.EPOLLHUP != 0 {
		interests |= PeerHangup
	}
	if mask&unix.EPOLLERR != 0 {
		interests |= Error
	}
	if mask&unix.EPOLLRDHUP != 0 {
		interests |= RemoteReadHangup
	}
	return interests
}
